/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	serial "github.com/allbin/serial-session"
)

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:   "info [port]",
	Short: "Display detailed information about a serial port",
	Long: `Display detailed information about a serial port including USB metadata.

Without a port argument the port the configured device ids select is shown.

Examples:
  serial info /dev/ttyUSB0
  serial info -d 0403:6001

For USB devices, this displays vendor/product IDs, serial numbers, interface
numbers, and other USB-specific metadata extracted from sysfs.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := cfg.Filter()
		if err != nil {
			return err
		}

		var info serial.PortInfo
		if len(args) == 1 {
			p, err := serial.GetPortInfo(args[0])
			if err != nil {
				return fmt.Errorf("getting port info: %w", err)
			}
			info = *p
		} else {
			info, err = newSession(nil).Scan(cmd.Context(), filter)
			if err != nil {
				return err
			}
		}

		printPortInfo(cmd.OutOrStdout(), info, filter)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func printPortInfo(w io.Writer, info serial.PortInfo, filter serial.DeviceFilter) {
	fmt.Fprintf(w, "Port Information: %s\n\n", info.Path)
	fmt.Fprintf(w, "  Name:        %s\n", info.Name)
	fmt.Fprintf(w, "  Description: %s\n", info.Description)
	fmt.Fprintf(w, "  Type:        %s\n", getPortType(info.Name))

	if !info.IsUSB() {
		return
	}

	fmt.Fprintln(w, "\nUSB Device Information:")
	fields := []struct{ label, value string }{
		{"Vendor ID:   ", info.VendorID},
		{"Product ID:  ", info.ProductID},
		{"Serial:      ", info.SerialNumber},
		{"Interface:   ", info.InterfaceNumber},
		{"Bus:         ", info.BusNumber},
		{"Device:      ", info.DeviceNumber},
		{"Manufacturer:", info.Manufacturer},
		{"Product:     ", info.Product},
	}
	for _, f := range fields {
		if f.value != "" {
			fmt.Fprintf(w, "  %s %s\n", f.label, f.value)
		}
	}

	match := "no"
	if filter.Matches(info) {
		match = "yes"
	}
	fmt.Fprintf(w, "\n  Matches %s: %s\n", filter, match)
}
