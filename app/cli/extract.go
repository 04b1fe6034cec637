package cli

import (
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"github.com/aihub/docsearch/internal/config"
	"github.com/aihub/docsearch/internal/di"
	"github.com/aihub/docsearch/internal/knowledge"
	"github.com/aihub/docsearch/internal/logger"
	"github.com/aihub/docsearch/internal/services"
	"github.com/aihub/docsearch/internal/storage"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	extractChunks bool
	extractOutput string
)

// openExtractor 离线抽取所需组件；测试中替换
var openExtractor = func() (services.TextExtractor, *knowledge.Chunker, func(), error) {
	_ = godotenv.Load()
	if err := logger.InitLogger(); err != nil {
		return nil, nil, nil, err
	}
	if err := config.LoadConfig(); err != nil {
		return nil, nil, nil, err
	}
	ex, chunker, reg := di.NewLocalExtractor(config.AppConfig)
	return ex, chunker, func() { _ = reg.Close() }, nil
}

var extractCmd = &cobra.Command{
	Use:   "extract [file]",
	Short: "Print the text the pipeline would index for a file",
	Long: `Runs text extraction (including OCR fallback for scanned pages and
images) on a local file without storing or indexing it.`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().BoolVar(&extractChunks, "chunks", false, "print the chunks instead of the full text")
	extractCmd.Flags().StringVarP(&extractOutput, "output", "o", "", "write to this file instead of stdout")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	path := args[0]
	contentType := storage.ContentTypeFor(path)
	if !knowledge.IsSupportedContentType(contentType) {
		return fmt.Errorf("unsupported file type %q", contentType)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	ex, chunker, closeFn, err := openExtractor()
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	text := ex.ExtractText(cmd.Context(), data, contentType)

	var out io.Writer = cmd.OutOrStdout()
	if extractOutput != "" {
		f, err := os.Create(extractOutput)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	if !extractChunks {
		_, err = fmt.Fprintln(out, text)
	} else {
		for _, c := range chunker.Split(text) {
			if _, err = fmt.Fprintf(out, "--- chunk %d (%d chars) ---\n%s\n", c.Index, utf8.RuneCountInString(c.Text), c.Text); err != nil {
				break
			}
		}
	}
	if err != nil {
		return err
	}

	cmd.PrintErrf("%d characters, language %s\n", utf8.RuneCountInString(text), knowledge.DetectLanguage(text))
	return nil
}
