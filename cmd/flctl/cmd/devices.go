package cmd

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/TeamMavericKX/firmlockv01/pkg/attest"
)

func init() {
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(deviceCmd)
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List registered devices",
	Long: `List all devices known to the verifier with their lifecycle status.

Examples:
  flctl devices
  flctl devices -o json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := NewVerifierClient(resolveServer())
		devices, err := client.ListDevices(cmd.Context())
		if err != nil {
			return err
		}

		if outputFormat != "table" {
			return formatOutput(devices)
		}

		if len(devices) == 0 {
			fmt.Println("No devices registered.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "DEVICE\tSTATUS\tFIRMWARE\tSIMULATED\tLAST ATTESTATION")
		for _, d := range devices {
			last := "-"
			if d.LastAttestation != nil {
				last = time.Unix(*d.LastAttestation, 0).Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\n",
				d.DeviceID, statusColored(d.Status), d.FirmwareVersion, d.Simulated, last)
		}
		return w.Flush()
	},
}

var deviceCmd = &cobra.Command{
	Use:   "device <device-id>",
	Short: "Show device details",
	Long: `Show a device's lifecycle status and current PCR bank.

Examples:
  flctl device FL-2847-AF`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := NewVerifierClient(resolveServer())
		dev, err := client.GetDevice(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		if outputFormat != "table" {
			return formatOutput(dev)
		}

		fmt.Printf("Device: %s\n", dev.DeviceID)
		fmt.Printf("Status: %s\n", statusColored(dev.Status))
		fmt.Printf("Firmware: %s\n", dev.FirmwareVersion)
		fmt.Printf("Simulated: %v\n", dev.Simulated)
		if dev.LastAttestation != nil {
			fmt.Printf("Last attestation: %s\n", time.Unix(*dev.LastAttestation, 0).Format(time.RFC3339))
		}
		if dev.LastReason != "" {
			fmt.Printf("Last failure: %s\n", failFmt(dev.LastReason))
		}
		fmt.Println()
		printPCRs(dev.PCRs)
		return nil
	},
}

// printPCRs renders a hex PCR map in register order.
func printPCRs(pcrs map[string]string) {
	fmt.Println("PCR bank:")
	for i := 0; i < attest.NumPCRs; i++ {
		fmt.Printf("  PCR[%d] = %s\n", i, pcrs[strconv.Itoa(i)])
	}
}
