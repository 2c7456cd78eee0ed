package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/straja-ai/vlaguard/internal/incident"
)

// IncidentsOptions holds options for the incidents command.
type IncidentsOptions struct {
	*RootOptions
	DB       string
	Limit    int
	Customer string
	JSON     bool
}

// NewIncidentsCommand creates the incidents command.
func NewIncidentsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IncidentsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "incidents",
		Short: "List the newest recorded incidents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIncidents(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.DB, "db", "", "incident database (defaults to incidents.sqlite_path)")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "maximum number of incidents")
	cmd.Flags().StringVar(&opts.Customer, "customer", "", "only show this customer's incidents")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print JSON instead of a table")

	return cmd
}

func runIncidents(cmd *cobra.Command, opts *IncidentsOptions) error {
	path := opts.DB
	if path == "" {
		cfg, err := loadConfig(opts.RootOptions)
		if err != nil {
			return err
		}
		path = cfg.Incidents.SQLitePath
	}
	if path == "" {
		return fmt.Errorf("no incident database: pass --db or set incidents.sqlite_path")
	}

	store, err := incident.OpenSQLite(path)
	if err != nil {
		return err
	}
	defer store.Close()

	list, err := store.List(cmd.Context(), incident.Filter{CustomerID: opts.Customer, Limit: opts.Limit})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}
	if len(list) == 0 {
		fmt.Fprintln(out, "no incidents")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tID\tCUSTOMER\tROBOT\tACTION\tSEVERITY\tSCORE\tCHECKS")
	for _, inc := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%.3f\t%v\n",
			inc.Timestamp.UTC().Format(time.RFC3339), inc.ID, inc.CustomerID, inc.RobotType,
			inc.ActionTaken, inc.Severity, inc.SafetyScore, inc.CheckNames())
	}
	return tw.Flush()
}
