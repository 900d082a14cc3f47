/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	serial "github.com/allbin/serial-session"
)

// signalsCmd represents the signals command
var signalsCmd = &cobra.Command{
	Use:   "signals [port]",
	Short: "Display and set modem signal states",
	Long: `Display the current state of all modem control signals.

Without a port argument the port the configured device ids select is used.
--rts and --dtr drive the output lines before the states are read.

Examples:
  serial signals /dev/ttyUSB0
  serial signals --dtr low --rts high
  serial signals -d 1a86:7523

Signal meanings:
  CTS - Clear To Send (input)
  DSR - Data Set Ready (input)
  RI  - Ring Indicator (input)
  DCD - Data Carrier Detect (input)
  RTS - Request To Send (output)
  DTR - Data Terminal Ready (output)

Valid states: high, low, on, off, true, false, 1, 0`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := loadTarget()
		if err != nil {
			return err
		}

		var portPath string
		if len(args) == 1 {
			portPath = args[0]
		} else {
			info, err := newSession(nil).Scan(cmd.Context(), t.filter)
			if err != nil {
				return err
			}
			portPath = info.Path
		}

		port, err := serial.OpenLink(portPath, t.link)
		if err != nil {
			return fmt.Errorf("opening port: %w", err)
		}
		defer port.Close()

		for _, line := range []struct {
			flag string
			set  func(bool) error
		}{
			{"rts", port.SetRTS},
			{"dtr", port.SetDTR},
		} {
			value, _ := cmd.Flags().GetString(line.flag)
			if value == "" {
				continue
			}
			state, err := parseSignalState(value)
			if err != nil {
				return err
			}
			if err := line.set(state); err != nil {
				return fmt.Errorf("setting %s: %w", strings.ToUpper(line.flag), err)
			}
		}

		signals, err := port.GetModemSignals()
		if err != nil {
			return fmt.Errorf("reading modem signals: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Modem Signals for %s:\n\n", portPath)
		fmt.Fprintf(out, "  CTS (Clear To Send):       %s\n", formatSignalState(signals.CTS))
		fmt.Fprintf(out, "  DSR (Data Set Ready):      %s\n", formatSignalState(signals.DSR))
		fmt.Fprintf(out, "  RI  (Ring Indicator):      %s\n", formatSignalState(signals.RI))
		fmt.Fprintf(out, "  DCD (Data Carrier Detect): %s\n", formatSignalState(signals.DCD))
		fmt.Fprintf(out, "  RTS (Request To Send):     %s\n", formatSignalState(signals.RTS))
		fmt.Fprintf(out, "  DTR (Data Terminal Ready): %s\n", formatSignalState(signals.DTR))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(signalsCmd)

	signalsCmd.Flags().String("rts", "", "Set RTS before reading (high/low)")
	signalsCmd.Flags().String("dtr", "", "Set DTR before reading (high/low)")
}

func formatSignalState(state bool) string {
	if state {
		return "HIGH"
	}
	return "LOW"
}

func parseSignalState(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high", "on", "true", "1":
		return true, nil
	case "low", "off", "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("invalid signal state %q (use high/low, on/off, true/false, 1/0)", s)
	}
}
