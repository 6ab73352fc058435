package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nadia/mnemo/pkg/memory"
	"github.com/spf13/cobra"
)

var (
	addCategory    string
	addDescription string
	addConfidence  float64
	addOwner       int64
)

var addCmd = &cobra.Command{
	Use:   "add <fact|goal|list_item> <content>",
	Short: "Store a knowledge item",
	Long: `Store one knowledge item directly. The item is written to the
database immediately; embedding happens in the background.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runAdd,
}

func init() {
	addCmd.Flags().StringVar(&addCategory, "category", "", "item category (e.g. preference, project, groceries)")
	addCmd.Flags().StringVar(&addDescription, "description", "", "longer description, mainly for goals")
	addCmd.Flags().Float64Var(&addConfidence, "confidence", 1.0, "confidence between 0 and 1")
	addCmd.Flags().Int64Var(&addOwner, "owner", defaultOwnerID, "owner id")
	rootCmd.AddCommand(addCmd)
}

func runAdd(cmd *cobra.Command, args []string) error {
	entityType := memory.EntityType(args[0])
	if !entityType.Valid() {
		return fmt.Errorf("unknown entity type %q (want fact, goal or list_item)", args[0])
	}
	content := strings.Join(args[1:], " ")

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := a.knowledge.AddItem(cmd.Context(), addOwner, entityType, content, memory.Metadata{
		Category:    addCategory,
		Description: addDescription,
	}, addConfidence)
	if errors.Is(err, memory.ErrDuplicate) {
		fmt.Println("Already stored.")
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Printf("Stored %s [%d]\n", entityType, id)
	return nil
}
