package cmd

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/sushazhi/fnos-logmanager/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log inspection tools",
	Long:  `Commands for inspecting the security audit trail written by the server.`,
}

var (
	tailLines int
	tailJSON  bool
)

var auditTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print the most recent audit events, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		sink, err := audit.NewFileSink(cfg.AuditFile(), cfg.Audit.MaxRecords)
		if err != nil {
			return err
		}
		events, total, err := sink.Recent(cmd.Context(), tailLines, 0)
		if err != nil {
			return err
		}
		slices.Reverse(events)

		out := cmd.OutOrStdout()
		if tailJSON {
			enc := json.NewEncoder(out)
			for _, evt := range events {
				if err := enc.Encode(evt); err != nil {
					return err
				}
			}
			return nil
		}

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TIME\tACTION\tIP\tDETAILS")
		for _, evt := range events {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
				humanize.Time(evt.Timestamp), evt.Action, evt.IP, formatDetails(evt.Details))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(out, "\n%d of %d events shown\n", len(events), total)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditTailCmd)
	auditTailCmd.Flags().IntVarP(&tailLines, "lines", "n", 20, "Number of events to show")
	auditTailCmd.Flags().BoolVar(&tailJSON, "json", false, "Print events as JSON lines")
}

func formatDetails(details map[string]any) string {
	if len(details) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, details[k])
	}
	return strings.Join(parts, " ")
}
