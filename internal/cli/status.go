package cli

import (
	"fmt"
	"strings"

	"github.com/nadia/mnemo/pkg/memory"
	"github.com/spf13/cobra"
)

var statusOwner int64

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show memory store status",
	Long:  `Show what the store holds and which retrieval mode is active.`,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().Int64Var(&statusOwner, "owner", defaultOwnerID, "owner id")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()

	mode := "lexical-only"
	model := "none"
	if a.encoder != nil && a.db.VecAvailable() {
		mode = "hybrid (vector + keyword)"
		model = a.encoder.ModelName()
	}
	fmt.Printf("Database:  %s\n", a.cfg.DatabasePath())
	fmt.Printf("Retrieval: %s\n", mode)
	fmt.Printf("Encoder:   %s\n", model)

	counts, err := a.knowledge.CountByType(ctx, statusOwner)
	if err != nil {
		return err
	}
	fmt.Printf("Facts:     %d\n", counts[memory.EntityFact])
	fmt.Printf("Goals:     %d\n", counts[memory.EntityGoal])
	fmt.Printf("Items:     %d\n", counts[memory.EntityListItem])

	idx, err := a.indexer.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Roots:     %s\n", strings.Join(idx.Roots, ", "))
	fmt.Printf("Files:     %d\n", idx.Files)
	fmt.Printf("Chunks:    %d\n", idx.Chunks)
	return nil
}
