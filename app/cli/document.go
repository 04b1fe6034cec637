package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/aihub/docsearch/internal/models"
	"github.com/aihub/docsearch/internal/services"
	"github.com/spf13/cobra"
)

var (
	waitForResult bool
	waitTimeout   time.Duration
	pollInterval  = 500 * time.Millisecond
	listStatus    string
	listLimit     int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file...]",
	Short: "Upload files and process them",
	Long: `Stores each file, creates a pending document record and queues it for
processing. With --wait the command blocks until every document is completed
or failed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

var reprocessCmd = &cobra.Command{
	Use:   "reprocess [doc-id]",
	Short: "Queue an existing document for processing again",
	Args:  cobra.ExactArgs(1),
	RunE:  runReprocess,
}

var statusCmd = &cobra.Command{
	Use:   "status [doc-id]",
	Short: "Show the processing status of a document",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List uploaded documents, newest first",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	for _, c := range []*cobra.Command{ingestCmd, reprocessCmd} {
		c.Flags().BoolVar(&waitForResult, "wait", true, "wait until processing finishes")
		c.Flags().DurationVar(&waitTimeout, "timeout", 30*time.Minute, "maximum time to wait")
	}
	listCmd.Flags().StringVar(&listStatus, "status", "", "only documents in this status")
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "maximum number of documents")

	rootCmd.AddCommand(ingestCmd, reprocessCmd, statusCmd, listCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	return withRuntime(func(rt *Runtime) error {
		ctx := cmd.Context()
		var failed int
		for _, path := range args {
			doc, err := uploadFile(ctx, rt.Docs, path)
			if err != nil {
				cmd.PrintErrf("%s: %v\n", path, err)
				failed++
				continue
			}
			cmd.Printf("document %d queued (%s)\n", doc.ID, doc.Filename)
			if !waitForResult {
				continue
			}
			if !reportFinal(cmd, rt.Docs, doc.ID) {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d files failed", failed, len(args))
		}
		return nil
	})
}

func runReprocess(cmd *cobra.Command, args []string) error {
	id, err := parseDocID(args[0])
	if err != nil {
		return err
	}
	return withRuntime(func(rt *Runtime) error {
		doc, err := rt.Docs.Reprocess(cmd.Context(), id)
		if err != nil {
			return err
		}
		cmd.Printf("document %d queued (%s)\n", doc.ID, doc.Filename)
		if waitForResult && !reportFinal(cmd, rt.Docs, doc.ID) {
			return errors.New("processing failed")
		}
		return nil
	})
}

func runStatus(cmd *cobra.Command, args []string) error {
	id, err := parseDocID(args[0])
	if err != nil {
		return err
	}
	return withRuntime(func(rt *Runtime) error {
		st, err := rt.Docs.Status(cmd.Context(), id)
		if err != nil {
			return err
		}
		printStatus(cmd, st)
		return nil
	})
}

func runList(cmd *cobra.Command, args []string) error {
	return withRuntime(func(rt *Runtime) error {
		docs, total, err := rt.Docs.List(cmd.Context(), 1, listLimit, listStatus)
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			cmd.Println("No documents found.")
			return nil
		}
		for _, d := range docs {
			cmd.Printf("  %-6d %-11s %s  %s\n", d.ID, d.Status, d.UploadDate.Format(time.RFC3339), d.Filename)
		}
		cmd.Printf("%d of %d documents\n", len(docs), total)
		return nil
	})
}

func uploadFile(ctx context.Context, docs DocumentService, path string) (*models.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	return docs.Upload(ctx, services.UploadRequest{
		Filename: filepath.Base(path),
		Size:     info.Size(),
		Body:     f,
	})
}

// reportFinal 等待终态并打印，处理成功返回 true
func reportFinal(cmd *cobra.Command, docs DocumentService, id int64) bool {
	ctx, cancel := context.WithTimeout(cmd.Context(), waitTimeout)
	defer cancel()

	st, err := waitForDocument(ctx, docs, id, pollInterval)
	if err != nil {
		cmd.PrintErrf("document %d: %v\n", id, err)
		return false
	}
	printStatus(cmd, st)
	return st.Status == models.DocumentStatusCompleted
}

// waitForDocument 轮询直到文档进入 completed 或 failed
func waitForDocument(ctx context.Context, docs DocumentService, id int64, interval time.Duration) (*services.DocumentStatus, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		st, err := docs.Status(ctx, id)
		if err != nil {
			return nil, err
		}
		switch st.Status {
		case models.DocumentStatusCompleted, models.DocumentStatusFailed:
			return st, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("still %s: %w", st.Status, ctx.Err())
		case <-ticker.C:
		}
	}
}

func printStatus(cmd *cobra.Command, st *services.DocumentStatus) {
	if st.ErrorMessage != "" {
		cmd.Printf("document %d: %s (%s)\n", st.DocumentID, st.Status, st.ErrorMessage)
		return
	}
	cmd.Printf("document %d: %s\n", st.DocumentID, st.Status)
}

func parseDocID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid document id %q", raw)
	}
	return id, nil
}
