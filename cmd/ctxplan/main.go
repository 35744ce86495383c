// Command ctxplan answers planning questions about the artifact catalog
// without a running service: generation order, cost, missing dependencies
// and the tier layout used during aggregation.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/nidhogg/artifact-context/internal/catalog"
	"github.com/nidhogg/artifact-context/internal/planner"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type options struct {
	catalogPath string
	have        []string
	asJSON      bool
}

func (o *options) registry() (*catalog.Registry, error) {
	return catalog.Load(o.catalogPath)
}

func (o *options) available() catalog.IDSet {
	return catalog.NewIDSet(o.have...)
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:          "ctxplan",
		Short:        "Inspect the artifact catalog and plan generation",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.catalogPath, "catalog", "", "catalog YAML file (default: built-in catalog)")
	root.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "print JSON instead of text")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List every resource in the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := opts.registry()
			if err != nil {
				return err
			}
			return runList(cmd.OutOrStdout(), reg, opts.asJSON)
		},
	}

	orderCmd := &cobra.Command{
		Use:   "order <target>",
		Short: "Print the generation order for a target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := opts.registry()
			if err != nil {
				return err
			}
			order, err := planner.New(reg).SuggestedOrder(args[0], opts.available())
			if err != nil {
				return err
			}
			if opts.asJSON {
				return writeJSON(cmd.OutOrStdout(), order)
			}
			for i, id := range order {
				fmt.Fprintf(cmd.OutOrStdout(), "%d. %s\n", i+1, id)
			}
			return nil
		},
	}

	costCmd := &cobra.Command{
		Use:   "cost <target>",
		Short: "Estimate the cost of producing a target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := opts.registry()
			if err != nil {
				return err
			}
			est, err := planner.New(reg).CalculateGenerationCost(args[0], opts.available())
			if err != nil {
				return err
			}
			if opts.asJSON {
				return writeJSON(cmd.OutOrStdout(), est)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, item := range est.Breakdown {
				fmt.Fprintf(w, "%s\t%s\t%d\n", item.ID, item.Name, item.Cost)
			}
			fmt.Fprintf(w, "total\t%d resources\t%d\n", est.ResourceCount, est.TotalCost)
			return w.Flush()
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate <target>",
		Short: "Report missing direct dependencies of a target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := opts.registry()
			if err != nil {
				return err
			}
			v, err := planner.New(reg).ValidateDependencies(args[0], opts.available())
			if err != nil {
				return err
			}
			if opts.asJSON {
				return writeJSON(cmd.OutOrStdout(), v)
			}
			out := cmd.OutOrStdout()
			if v.Valid {
				fmt.Fprintln(out, "ready")
			} else {
				fmt.Fprintf(out, "missing required: %s\n", strings.Join(v.MissingRequired, ", "))
			}
			if len(v.MissingOptional) > 0 {
				fmt.Fprintf(out, "missing optional: %s\n", strings.Join(v.MissingOptional, ", "))
			}
			return nil
		},
	}

	tiersCmd := &cobra.Command{
		Use:   "tiers <target>",
		Short: "Show how context for a target is tiered and budgeted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := opts.registry()
			if err != nil {
				return err
			}
			ta, explicit, err := reg.TierConfig(args[0])
			if err != nil {
				return err
			}
			if opts.asJSON {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"explicit": explicit, "assignment": ta})
			}
			return runTiers(cmd.OutOrStdout(), ta, explicit)
		},
	}

	for _, c := range []*cobra.Command{orderCmd, costCmd, validateCmd} {
		c.Flags().StringSliceVar(&opts.have, "have", nil, "ids of artifacts already produced (comma-separated)")
	}
	root.AddCommand(listCmd, orderCmd, costCmd, validateCmd, tiersCmd)
	return root
}

func runList(out io.Writer, reg *catalog.Registry, asJSON bool) error {
	nodes := reg.Nodes()
	if asJSON {
		return writeJSON(out, nodes)
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIER\tID\tNAME\tCOST\tREQUIRES")
	for _, n := range nodes {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n", n.Tier, n.ID, n.Name, n.GenerationCost, strings.Join(n.Required, ","))
	}
	return w.Flush()
}

func runTiers(out io.Writer, ta catalog.TierAssignment, explicit bool) error {
	source := "default"
	if explicit {
		source = "registered"
	}
	fmt.Fprintf(out, "assignment: %s\n", source)
	rows := []struct {
		label  string
		ids    []string
		tokens int
	}{
		{"tier1 (critical)", ta.Critical, ta.Budget.Tier1},
		{"tier2 (required)", ta.Required, ta.Budget.Tier2},
		{"tier3 (optional)", ta.Optional, ta.Budget.Tier3},
		{"skipped", ta.Skip, 0},
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%d\t%s\n", r.label, r.tokens, strings.Join(r.ids, ", "))
	}
	fmt.Fprintf(w, "total\t%d\t\n", ta.Budget.Total)
	return w.Flush()
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
