package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/courier/pkg/source"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Declare an address space",
	Long: `Validate an address space declaration against the plan catalog and
write it into the directory a running controller watches.

Examples:
  # Declare a space
  courier apply -f tenant-a.yaml --spaces-dir ./spaces`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML file to apply (required)")
	applyCmd.Flags().String("plans", "plans.yaml", "Plan catalog file")
	applyCmd.Flags().String("spaces-dir", "./spaces", "Directory of address space declarations")
	_ = applyCmd.MarkFlagRequired("file")
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	spacesDir, _ := cmd.Flags().GetString("spaces-dir")

	space, err := source.LoadSpace(filename)
	if err != nil {
		return err
	}

	catalog, err := loadCatalog(cmd)
	if err != nil {
		return err
	}
	if err := catalog.ValidateSpace(space); err != nil {
		return fmt.Errorf("invalid address space %s: %w", space.Name, err)
	}

	path, err := source.WriteSpace(spacesDir, space)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Address space %s applied (%d addresses) to %s\n", space.Name, len(space.Addresses), path)
	return nil
}
