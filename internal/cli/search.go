package cli

import (
	"fmt"
	"strings"

	"github.com/nadia/mnemo/pkg/memory"
	"github.com/spf13/cobra"
)

var (
	searchLimit int
	searchKind  string
	searchOwner int64
	searchPath  string
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search indexed files or stored knowledge",
	Long: `Search the memory store. Kind "files" searches indexed file chunks;
"facts", "goals" and "lists" search stored knowledge items. Vector
search is used when an encoder is configured, with keyword fallback.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVar(&searchLimit, "limit", 10, "maximum results")
	searchCmd.Flags().StringVar(&searchKind, "kind", "files", "what to search: files, facts, goals, lists")
	searchCmd.Flags().Int64Var(&searchOwner, "owner", defaultOwnerID, "owner id")
	searchCmd.Flags().StringVar(&searchPath, "path", "", "restrict file results to a path prefix")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()

	switch searchKind {
	case "files":
		results, err := a.chunks.Search(ctx, query, searchLimit, searchPath)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("No matches.")
			return nil
		}
		for _, r := range results {
			fmt.Printf("%s#%d (%.3f)\n  %s\n", r.Path, r.ChunkIndex, r.Score, snippet(r.Content))
		}
		return nil

	case "facts", "goals", "lists":
		entityType := map[string]memory.EntityType{
			"facts": memory.EntityFact,
			"goals": memory.EntityGoal,
			"lists": memory.EntityListItem,
		}[searchKind]

		items := a.assembler.Search(ctx, searchOwner, query, entityType, searchLimit, 0)
		if len(items) == 0 {
			fmt.Println("No matches.")
			return nil
		}
		for _, item := range items {
			line := fmt.Sprintf("[%d] %s", item.ID, item.Content)
			if item.Metadata.Category != "" {
				line += " (" + item.Metadata.Category + ")"
			}
			fmt.Println(line)
		}
		return nil

	default:
		return fmt.Errorf("unknown kind %q", searchKind)
	}
}

// snippet trims a chunk for terminal display.
func snippet(content string) string {
	content = strings.Join(strings.Fields(content), " ")
	if len(content) > 160 {
		content = content[:160] + "..."
	}
	return content
}
