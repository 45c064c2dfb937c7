package cmd

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/TeamMavericKX/firmlockv01/pkg/attest"
	"github.com/TeamMavericKX/firmlockv01/pkg/clierror"
	"github.com/TeamMavericKX/firmlockv01/pkg/device"
	"github.com/TeamMavericKX/firmlockv01/pkg/transport"
)

// Direct serial commands bypass the verifier and talk to attached
// hardware over the wire protocol. Useful for bench debugging.

var (
	serialPort string
	baudRate   int
)

func init() {
	serialCmd.PersistentFlags().StringVar(&serialPort, "port", "/dev/ttyACM0", "Serial device port")
	serialCmd.PersistentFlags().IntVar(&baudRate, "baud", 115200, "Serial baud rate")

	serialCmd.AddCommand(serialInfoCmd)
	serialCmd.AddCommand(serialPCRsCmd)
	serialCmd.AddCommand(serialVersionCmd)
	serialCmd.AddCommand(serialAttestCmd)
	serialCmd.AddCommand(serialRecoverCmd)
	rootCmd.AddCommand(serialCmd)
}

var serialCmd = &cobra.Command{
	Use:   "serial",
	Short: "Talk to a device directly over the serial link",
	Long: `Exchange wire protocol commands with attached hardware, bypassing
the verifier entirely.

Examples:
  flctl serial info --port /dev/ttyUSB0
  flctl serial pcrs`,
}

// openDevice connects a client over the configured serial port. The
// caller closes it.
func openDevice(cmd *cobra.Command) (*device.Client, error) {
	tr := transport.New(transport.Config{
		Port:     serialPort,
		BaudRate: baudRate,
	})
	client := device.NewClient(tr)
	if err := client.Connect(cmd.Context()); err != nil {
		return nil, clierror.SerialUnavailable(serialPort, err)
	}
	return client, nil
}

var serialInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Read device identity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := openDevice(cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		info, err := client.Info()
		if err != nil {
			return err
		}

		if outputFormat != "table" {
			return formatOutput(info)
		}

		fmt.Printf("Device: %s\n", info.DeviceID)
		fmt.Printf("Firmware: %s\n", info.FirmwareVersion)
		return nil
	},
}

var serialPCRsCmd = &cobra.Command{
	Use:   "pcrs",
	Short: "Read the PCR bank",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := openDevice(cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		bank, err := client.PCRBank()
		if err != nil {
			return err
		}

		if outputFormat != "table" {
			return formatOutput(bank.HexMap())
		}

		fmt.Println("PCR bank:")
		hexed := bank.HexMap()
		for i := 0; i < attest.NumPCRs; i++ {
			fmt.Printf("  PCR[%d] = %s\n", i, hexed[i])
		}
		return nil
	},
}

var serialAttestCmd = &cobra.Command{
	Use:   "attest",
	Short: "Exchange a raw attestation challenge",
	Long: `Send a locally generated challenge and print the evidence the
device returns. No verification happens here; use 'flctl attest' against
a running verifier for a real attestation round.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := openDevice(cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		nonce := make([]byte, attest.NonceSize)
		if _, err := rand.Read(nonce); err != nil {
			return err
		}
		ev, err := client.Attest(nonce, uint32(time.Now().Unix()))
		if err != nil {
			return err
		}

		if outputFormat != "table" {
			return formatOutput(map[string]any{
				"device_id":   ev.DeviceID,
				"nonce":       hex.EncodeToString(ev.Nonce),
				"timestamp":   ev.Timestamp,
				"pcrs":        ev.PCRs.HexMap(),
				"signature":   hex.EncodeToString(ev.Signature),
				"certificate": hex.EncodeToString(ev.Certificate),
			})
		}

		fmt.Printf("Device: %s\n", ev.DeviceID)
		fmt.Printf("Nonce echoed: %v\n", hex.EncodeToString(ev.Nonce) == hex.EncodeToString(nonce))
		fmt.Printf("Timestamp: %d\n", ev.Timestamp)
		hexed := ev.PCRs.HexMap()
		for i := 0; i < attest.NumPCRs; i++ {
			fmt.Printf("  PCR[%d] = %s\n", i, hexed[i])
		}
		fmt.Printf("Signature: %s\n", hex.EncodeToString(ev.Signature))
		return nil
	},
}

var serialRecoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Trigger factory PCR restoration",
	Long: `Command the device to restore its factory PCR bank. This does not
update any verifier state; use 'flctl recover' for a managed recovery.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := openDevice(cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		if err := client.Recover(); err != nil {
			return err
		}
		fmt.Println("Factory PCR bank restored.")
		return nil
	},
}

var serialVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Read the firmware version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := openDevice(cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		ver, err := client.FirmwareVersion()
		if err != nil {
			return err
		}
		fmt.Println(ver)
		return nil
	},
}
