package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	contextOwner         int64
	contextMinConfidence float64
	contextBasePrompt    string
)

var contextCmd = &cobra.Command{
	Use:   "context <message>",
	Short: "Assemble the memory block for a message",
	Long: `Retrieve the facts, goals and list items most relevant to a message
and print the memory block that would be injected into a system prompt.
With --base the full assembled prompt is printed instead.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runContext,
}

func init() {
	contextCmd.Flags().Int64Var(&contextOwner, "owner", defaultOwnerID, "owner id")
	contextCmd.Flags().Float64Var(&contextMinConfidence, "min-confidence", 0, "confidence floor (default 0.5)")
	contextCmd.Flags().StringVar(&contextBasePrompt, "base", "", "base system prompt to append the block to")
	rootCmd.AddCommand(contextCmd)
}

func runContext(cmd *cobra.Command, args []string) error {
	message := strings.Join(args, " ")

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if contextBasePrompt != "" {
		fmt.Println(a.assembler.BuildSystemPrompt(cmd.Context(), contextOwner, message, contextBasePrompt, contextMinConfidence))
		return nil
	}

	block := a.assembler.BuildContext(cmd.Context(), contextOwner, message, contextMinConfidence)
	if block == "" {
		fmt.Println("No relevant memories.")
		return nil
	}
	fmt.Println(block)
	return nil
}
