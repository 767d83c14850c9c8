package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/courier/pkg/plans"
	"github.com/cuemby/courier/pkg/types"
)

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "Inspect the plan catalog",
}

var plansListCmd = &cobra.Command{
	Use:   "list",
	Short: "List address and address space plans",
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := loadCatalog(cmd)
		if err != nil {
			return err
		}
		return printCatalog(cmd.OutOrStdout(), catalog)
	},
}

var plansShowCmd = &cobra.Command{
	Use:   "show NAME",
	Short: "Show one plan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := loadCatalog(cmd)
		if err != nil {
			return err
		}

		var plan interface{}
		if p, err := catalog.AddressSpacePlan(args[0]); err == nil {
			plan = p
		} else if p, err := catalog.AddressPlan(args[0]); err == nil {
			plan = p
		} else {
			return err
		}

		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(plan)
	},
}

func init() {
	plansCmd.PersistentFlags().String("plans", "plans.yaml", "Plan catalog file")
	plansCmd.AddCommand(plansListCmd)
	plansCmd.AddCommand(plansShowCmd)
}

func loadCatalog(cmd *cobra.Command) (*plans.Catalog, error) {
	path, _ := cmd.Flags().GetString("plans")
	return plans.Load(path)
}

func printCatalog(out io.Writer, catalog *plans.Catalog) error {
	spaces := newTable(out)
	spaces.AppendHeader(table.Row{"ADDRESS SPACE PLAN", "TYPE", "UNIT CAPACITY", "LIMITS", "MIN UNITS", "ADDRESS PLANS"})
	defaults := catalog.Defaults()
	for _, p := range catalog.AddressSpacePlans() {
		name := p.Name
		if defaults[p.AddressSpaceType] == p.Name {
			name += " (default)"
		}
		spaces.AppendRow(table.Row{
			name, p.AddressSpaceType, formatResources(p.UnitCapacity),
			formatResources(p.ResourceLimits), p.MinUnits, strings.Join(p.AddressPlans, ","),
		})
	}
	spaces.Render()

	fmt.Fprintln(out)

	addrs := newTable(out)
	addrs.AppendHeader(table.Row{"ADDRESS PLAN", "TYPE", "COLOCATION", "PARTITIONS", "RESOURCES"})
	for _, p := range catalog.AddressPlans() {
		addrs.AppendRow(table.Row{p.Name, p.AddressType, p.Colocation, p.Partitions, formatResources(p.Resources)})
	}
	addrs.Render()
	return nil
}

func newTable(out io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	return t
}

func formatResources(r types.Resources) string {
	if len(r) == 0 {
		return "-"
	}
	dims := make([]string, 0, len(r))
	for d := range r {
		dims = append(dims, d)
	}
	sort.Strings(dims)

	parts := make([]string, len(dims))
	for i, d := range dims {
		parts[i] = fmt.Sprintf("%s=%g", d, r[d])
	}
	return strings.Join(parts, ",")
}
