package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var logsLimit int

func init() {
	logsCmd.Flags().IntVarP(&logsLimit, "limit", "n", 20, "Maximum entries to show")
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(metricsCmd)
}

var logsCmd = &cobra.Command{
	Use:   "logs <device-id>",
	Short: "Show attestation history for a device",
	Long: `Show the attestation log for a device, newest first.

Examples:
  flctl logs FL-2847-AF
  flctl logs FL-2847-AF -n 5 -o json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := NewVerifierClient(resolveServer())
		entries, err := client.Logs(cmd.Context(), args[0], logsLimit)
		if err != nil {
			return err
		}

		if outputFormat != "table" {
			return formatOutput(entries)
		}

		if len(entries) == 0 {
			fmt.Println("No log entries.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tEVENT\tRESULT\tREASON\tLATENCY")
		for _, e := range entries {
			reason := e.Reason
			if reason == "" {
				reason = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%dms\n",
				time.Unix(e.Timestamp, 0).Format(time.RFC3339),
				e.EventType, resultColored(e.Result), reason, e.LatencyMS)
		}
		return w.Flush()
	},
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show verifier metrics",
	Long: `Show a snapshot of fleet and attestation counters.

Examples:
  flctl metrics
  flctl metrics -o yaml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := NewVerifierClient(resolveServer())
		m, err := client.Metrics(cmd.Context())
		if err != nil {
			return err
		}

		if outputFormat != "table" {
			return formatOutput(m)
		}

		fmt.Printf("Devices: %d\n", m.Devices)
		for status, n := range m.DevicesByStatus {
			fmt.Printf("  %s: %d\n", statusColored(status), n)
		}
		fmt.Printf("Attestations: %d (%s %d / %s %d)\n",
			m.Attestations, passFmt("pass"), m.AttestationsPass, failFmt("fail"), m.AttestationsFail)
		fmt.Printf("Outstanding nonces: %d\n", m.OutstandingNonces)
		return nil
	},
}
