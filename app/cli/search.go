package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var searchJSON bool

var searchCmd = &cobra.Command{
	Use:   "search [doc-id|filename] [query]",
	Short: "Search within one document",
	Long: `Finds the passages of a document most relevant to the query.
The document is selected by numeric id or by its original filename.`,
	Args: cobra.ExactArgs(2),
	RunE: runSearch,
}

var askCmd = &cobra.Command{
	Use:   "ask [doc-id|filename] [question]",
	Short: "Answer a question from one document",
	Args:  cobra.ExactArgs(2),
	RunE:  runAsk,
}

func init() {
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	askCmd.Flags().BoolVar(&searchJSON, "json", false, "output the answer as JSON")
	rootCmd.AddCommand(searchCmd, askCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	return withRuntime(func(rt *Runtime) error {
		results, err := rt.Answers.Search(cmd.Context(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		if searchJSON {
			return printJSON(cmd, results)
		}
		if len(results) == 0 {
			cmd.Println("No results found.")
			return nil
		}
		for i, r := range results {
			cmd.Printf("  [%d] (%.3f) %s\n", i+1, r.Score, snippet(r.Text, 200))
		}
		return nil
	})
}

func runAsk(cmd *cobra.Command, args []string) error {
	return withRuntime(func(rt *Runtime) error {
		result, err := rt.Answers.Answer(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		if searchJSON {
			return printJSON(cmd, result)
		}
		cmd.Println(result.Answer)
		if len(result.Sources) > 0 {
			cmd.Printf("\n(%d source passages)\n", len(result.Sources))
		}
		return nil
	})
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

func snippet(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) <= max {
		return text
	}
	return string(r[:max]) + "..."
}
