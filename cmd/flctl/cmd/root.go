// Package cmd implements the flctl CLI commands.
package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	// Version is set at build time
	Version = "0.1.0"

	// Global flags
	outputFormat string
	serverURL    string
)

var (
	healthyFmt     = color.New(color.FgGreen).SprintFunc()
	compromisedFmt = color.New(color.FgRed, color.Bold).SprintFunc()
	quarantinedFmt = color.New(color.FgYellow, color.Bold).SprintFunc()
	offlineFmt     = color.New(color.Faint).SprintFunc()
	passFmt        = color.New(color.FgGreen, color.Bold).SprintFunc()
	failFmt        = color.New(color.FgRed, color.Bold).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:   "flctl",
	Short: "FIRM-LOCK attestation CLI",
	Long: `flctl is a command-line interface for the FIRM-LOCK firmware
attestation verifier.

It provides commands to list devices, run attestation rounds, inspect
attestation history, and talk to attached hardware directly over the
serial link.`,
	Version:      Version,
	SilenceUsage: true,
}

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion scripts",
	Long: `Generate shell completion scripts for flctl.

To load completions:

Bash:
  # Add to ~/.bashrc:
  source <(flctl completion bash)

Zsh:
  # Add to ~/.zshrc:
  source <(flctl completion zsh)

Fish:
  # Add to ~/.config/fish/completions/:
  flctl completion fish > ~/.config/fish/completions/flctl.fish

PowerShell:
  # Add to your PowerShell profile:
  flctl completion powershell | Out-String | Invoke-Expression`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletion(os.Stdout)
		case "zsh":
			return rootCmd.GenZshCompletion(os.Stdout)
		case "fish":
			return rootCmd.GenFishCompletion(os.Stdout, true)
		case "powershell":
			return rootCmd.GenPowerShellCompletionWithDesc(os.Stdout)
		default:
			return fmt.Errorf("unknown shell: %s", args[0])
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table, json, yaml")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8440", "Verifier server URL (or FIRMLOCK_SERVER)")
	rootCmd.AddCommand(completionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// OutputFormat reports the selected --output format for error rendering.
func OutputFormat() string {
	return outputFormat
}

// resolveServer returns the verifier base URL, preferring the flag over
// the FIRMLOCK_SERVER environment variable.
func resolveServer() string {
	if rootCmd.PersistentFlags().Changed("server") {
		return serverURL
	}
	if env := os.Getenv("FIRMLOCK_SERVER"); env != "" {
		return env
	}
	return serverURL
}

// formatOutput handles output formatting based on the --output flag.
func formatOutput(data interface{}) error {
	switch outputFormat {
	case "json":
		return outputJSON(data)
	case "yaml":
		return outputYAML(data)
	default:
		// Table format is handled by each command
		return nil
	}
}

func outputJSON(data interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func outputYAML(data interface{}) error {
	out, err := yaml.Marshal(data)
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}

// statusColored renders a lifecycle status with its conventional color.
func statusColored(status string) string {
	switch status {
	case "healthy":
		return healthyFmt(status)
	case "compromised":
		return compromisedFmt(status)
	case "quarantined":
		return quarantinedFmt(status)
	case "offline":
		return offlineFmt(status)
	default:
		return status
	}
}

// resultColored renders an attestation result.
func resultColored(result string) string {
	switch result {
	case "PASS":
		return passFmt(result)
	case "FAIL", "QUARANTINE":
		return failFmt(result)
	default:
		return result
	}
}
