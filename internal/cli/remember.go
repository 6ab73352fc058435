package cli

import (
	"fmt"
	"strings"

	"github.com/nadia/mnemo/pkg/memory"
	"github.com/spf13/cobra"
)

var rememberOwner int64

var rememberCmd = &cobra.Command{
	Use:   "remember <message>",
	Short: "Extract and store knowledge from a message",
	Long: `Run the configured extraction model over a message and store
whatever durable knowledge it finds. Requires extraction to be enabled
with an Anthropic API key in the configuration.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRemember,
}

func init() {
	rememberCmd.Flags().Int64Var(&rememberOwner, "owner", defaultOwnerID, "owner id")
	rootCmd.AddCommand(rememberCmd)
}

func runRemember(cmd *cobra.Command, args []string) error {
	message := strings.Join(args, " ")

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.cfg.Extraction.Enabled {
		return fmt.Errorf("extraction is disabled in the configuration")
	}
	if a.cfg.Extraction.AnthropicAPIKey == "" {
		return fmt.Errorf("extraction requires an Anthropic API key")
	}

	extractor := memory.NewExtractor(a.cfg.Extraction.AnthropicAPIKey, a.cfg.Extraction.Model, a.log.GetZerolog())
	items := extractor.Extract(cmd.Context(), message)
	if len(items) == 0 {
		fmt.Println("Nothing worth remembering.")
		return nil
	}

	added, err := a.knowledge.Upsert(cmd.Context(), rememberOwner, items)
	if err != nil {
		return err
	}

	fmt.Printf("Extracted %d item(s), stored %d new.\n", len(items), added)
	for _, item := range items {
		fmt.Printf("  %s: %s\n", item.EntityType, item.Content)
	}
	return nil
}
