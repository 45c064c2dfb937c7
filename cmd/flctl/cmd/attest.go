package cmd

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(attestCmd)
	rootCmd.AddCommand(attackCmd)
	rootCmd.AddCommand(recoverCmd)
}

var attestCmd = &cobra.Command{
	Use:   "attest <device-id>",
	Short: "Run an attestation round",
	Long: `Issue a challenge, collect evidence from the device, and verify it
against the golden baseline.

Examples:
  flctl attest FL-2847-AF
  flctl attest FL-2847-AF -o json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := NewVerifierClient(resolveServer())
		verdict, err := client.Attest(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printVerdict(verdict)
	},
}

var attackCmd = &cobra.Command{
	Use:   "attack <device-id>",
	Short: "Tamper a simulated device and re-attest",
	Long: `Inject firmware tampering into a simulated device, then run an
attestation round to observe the detection.

Only simulated devices support attack injection.

Examples:
  flctl attack FL-2847-AF`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := NewVerifierClient(resolveServer())
		verdict, err := client.SimulateAttack(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printVerdict(verdict)
	},
}

var recoverCmd = &cobra.Command{
	Use:   "recover <device-id>",
	Short: "Restore a device to its factory baseline",
	Long: `Reflash the device's firmware to the factory image, restore the
golden PCR bank, and clear its failure history.

Examples:
  flctl recover FL-2847-AF`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := NewVerifierClient(resolveServer())
		dev, err := client.Recover(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		if outputFormat != "table" {
			return formatOutput(dev)
		}

		fmt.Printf("Device %s recovered.\n", dev.DeviceID)
		fmt.Printf("Status: %s\n", statusColored(dev.Status))
		fmt.Printf("Firmware: %s\n", dev.FirmwareVersion)
		return nil
	},
}

func printVerdict(v *verdictResponse) error {
	if outputFormat != "table" {
		return formatOutput(v)
	}

	fmt.Printf("Result: %s\n", resultColored(v.Result))
	if v.Reason != "" {
		fmt.Printf("Reason: %s\n", failFmt(v.Reason))
	}
	fmt.Printf("Status: %s\n", statusColored(v.Status))
	fmt.Printf("Latency: %dms\n", v.LatencyMS)

	if len(v.PCRMatch) > 0 {
		fmt.Println("Registers:")
		keys := make([]int, 0, len(v.PCRMatch))
		for k := range v.PCRMatch {
			if n, err := strconv.Atoi(k); err == nil {
				keys = append(keys, n)
			}
		}
		sort.Ints(keys)
		for _, n := range keys {
			mark := passFmt("match")
			if !v.PCRMatch[strconv.Itoa(n)] {
				mark = failFmt("MISMATCH")
			}
			fmt.Printf("  PCR[%d] %s\n", n, mark)
		}
	}
	return nil
}
