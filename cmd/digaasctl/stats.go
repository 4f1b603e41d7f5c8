package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Compute and fetch propagation statistics",
}

var (
	statsFrom  string
	statsTo    string
	statsSince time.Duration
	statsWait  bool
	statsOut   string
)

var statsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Request statistics over a time range",
	Long: `create asks the server to summarize every observation started, and every
DNS query sent, within the range. Use --since for a range ending now.

Examples:

  digaasctl stats create --since 24h --wait
  digaasctl stats create --from 2026-03-01T00:00:00Z --to 2026-03-02T00:00:00Z`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		from, to, err := statsRange(time.Now())
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		st, err := c.CreateStats(cmd.Context(), from, to)
		if err != nil {
			return fmt.Errorf("create stats: %w", err)
		}
		if statsWait {
			id := st.ID
			if st, err = c.WaitStats(cmd.Context(), id, time.Second); err != nil {
				return fmt.Errorf("wait for stats %s: %w", id, err)
			}
		}
		return printStats(os.Stdout, st)
	},
}

var statsGetCmd = &cobra.Command{
	Use:   "get <stats-id>",
	Short: "Show a stats request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		st, err := c.GetStats(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printStats(os.Stdout, st)
	},
}

var statsSummaryCmd = &cobra.Command{
	Use:   "summary <stats-id>",
	Short: "Print the per-type, per-nameserver and per-query summaries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		sums, err := c.GetSummaries(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printSummaries(os.Stdout, sums)
	},
}

var statsPlotCmd = &cobra.Command{
	Use:   "plot <stats-id> <PROPAGATION_BY_TYPE|PROPAGATION_BY_NAMESERVER|QUERY>",
	Short: "Download a chart",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		img, _, err := c.GetPlot(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return writeFile(statsOut, fmt.Sprintf("%s-%s.png", args[0], args[1]), img)
	},
}

var statsExportCmd = &cobra.Command{
	Use:   "export <stats-id>",
	Short: "Download the summaries as an XLSX workbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		data, err := c.ExportXLSX(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return writeFile(statsOut, fmt.Sprintf("digaas-stats-%s.xlsx", args[0]), data)
	},
}

func init() {
	statsCreateCmd.Flags().StringVar(&statsFrom, "from", "", "Range start: RFC 3339 or epoch seconds")
	statsCreateCmd.Flags().StringVar(&statsTo, "to", "", "Range end: RFC 3339 or epoch seconds (default now)")
	statsCreateCmd.Flags().DurationVar(&statsSince, "since", 0, "Range length ending now, e.g. 24h")
	statsCreateCmd.Flags().BoolVar(&statsWait, "wait", false, "Wait for the stats to be computed")

	statsPlotCmd.Flags().StringVar(&statsOut, "out", "", "Output file (default <id>-<type>.png)")
	statsExportCmd.Flags().StringVar(&statsOut, "out", "", "Output file (default digaas-stats-<id>.xlsx)")

	statsCmd.AddCommand(statsCreateCmd)
	statsCmd.AddCommand(statsGetCmd)
	statsCmd.AddCommand(statsSummaryCmd)
	statsCmd.AddCommand(statsPlotCmd)
	statsCmd.AddCommand(statsExportCmd)
}

// statsRange resolves --from/--to/--since against now.
func statsRange(now time.Time) (time.Time, time.Time, error) {
	to := now
	if statsTo != "" {
		t, err := parseTime(statsTo)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = t
	}
	switch {
	case statsFrom != "":
		from, err := parseTime(statsFrom)
		return from, to, err
	case statsSince > 0:
		return to.Add(-statsSince), to, nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("one of --from or --since is required")
	}
}

func writeFile(path, fallback string, data []byte) error {
	if path == "" {
		path = fallback
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("wrote %s (%d bytes)\n", path, len(data))
	return nil
}
