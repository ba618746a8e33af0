package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zeu5/traffic-rl-signal/policies"
	"github.com/zeu5/traffic-rl-signal/store"
)

var asJSON bool

// ShowTable prints every entry of the stored table with its greedy action.
func ShowTable(a *app, out io.Writer) error {
	table, err := a.store.Load()
	if errors.Is(err, store.ErrNotFound) {
		table = policies.NewQTable()
	} else if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(store.NewDocument(table))
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "state\thold\tadvance\tgreedy")
	for _, e := range table.Entries() {
		fmt.Fprintf(tw, "%s\t%.4f\t%.4f\t%s\n", e.Key.Hash(), e.Values[policies.Hold], e.Values[policies.Advance], e.Values.Best())
	}
	fmt.Fprintf(tw, "%d entries\n", table.Len())
	return tw.Flush()
}

// ResetTable overwrites the stored table with an empty one.
func ResetTable(a *app) error {
	if err := a.store.Save(policies.NewQTable()); err != nil {
		return err
	}
	a.logger.Info("table reset", "path", a.config.Persistence.Path(), "backend", a.config.Persistence.Backend)
	return nil
}

func TableCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "table",
		Short: "Inspect or reset the learned table",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the stored table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()
			return ShowTable(a, cmd.OutOrStdout())
		},
	}
	show.Flags().BoolVar(&asJSON, "json", false, "Print the table in its persisted JSON form")

	reset := &cobra.Command{
		Use:   "reset",
		Short: "Replace the stored table with an empty one",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()
			return ResetTable(a)
		},
	}

	cmd.AddCommand(show)
	cmd.AddCommand(reset)
	return cmd
}
