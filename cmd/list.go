/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	serial "github.com/allbin/serial-session"
)

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List available serial ports",
	Long: `List the serial ports the selected backend can see.

USB ports are shown with their vendor/product id and serial number. With
--match only ports matching the configured device ids are listed, highest
priority first, which is the order connect and scan consider them in.

Example usage:
  serial list
  serial list --table --filter usb
  serial list --match -d 1a86:7523 -d 0403:6001
  serial list --backend bugst`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := newHost().Ports(cmd.Context())
		if err != nil {
			return fmt.Errorf("listing ports: %w", err)
		}

		filterType, _ := cmd.Flags().GetString("filter")
		tableFormat, _ := cmd.Flags().GetBool("table")
		match, _ := cmd.Flags().GetBool("match")

		ports = filterPorts(ports, filterType)
		if match {
			filter, err := cfg.Filter()
			if err != nil {
				return err
			}
			ports = filter.Select(ports)
		}

		out := cmd.OutOrStdout()
		if len(ports) == 0 {
			fmt.Fprintln(out, "No serial ports found")
			return nil
		}

		if tableFormat {
			renderTable(out, ports)
		} else {
			for _, p := range ports {
				fmt.Fprintln(out, p.Path)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringP("filter", "f", "", "Filter by port type: usb, standard, arm, all")
	listCmd.Flags().BoolP("table", "t", false, "Display output in a styled table format")
	listCmd.Flags().BoolP("match", "m", false, "Only list ports matching the configured device ids")
}

// filterPorts filters the port list based on the specified filter type
func filterPorts(ports []serial.PortInfo, filterType string) []serial.PortInfo {
	filterType = strings.ToLower(filterType)
	if filterType == "" || filterType == "all" {
		return ports
	}

	var filtered []serial.PortInfo
	for _, p := range ports {
		name := strings.ToLower(p.Name)
		var keep bool
		switch filterType {
		case "usb":
			keep = p.IsUSB() || strings.HasPrefix(name, "ttyusb") || strings.HasPrefix(name, "ttyacm")
		case "standard":
			keep = strings.HasPrefix(name, "ttys")
		case "arm":
			keep = strings.HasPrefix(name, "ttyama")
		}
		if keep {
			filtered = append(filtered, p)
		}
	}
	return filtered
}

// renderTable renders the port list in a styled static table format
func renderTable(w io.Writer, ports []serial.PortInfo) {
	fmt.Fprintf(w, "Found %d serial port(s):\n\n", len(ports))

	const (
		portWidth   = 15
		typeWidth   = 16
		idWidth     = 10
		serialWidth = 14
	)

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("99")).
		Border(lipgloss.NormalBorder(), false, false, true, false).
		BorderForeground(lipgloss.Color("240"))

	cellStyle := lipgloss.NewStyle().
		PaddingRight(2)

	row := func(port, kind, id, sn, desc string) string {
		return fmt.Sprintf("%-*s %-*s %-*s %-*s %s",
			portWidth, port,
			typeWidth, kind,
			idWidth, id,
			serialWidth, sn,
			desc)
	}

	fmt.Fprintln(w, headerStyle.Render(row("Port", "Type", "VID:PID", "Serial", "Description")))
	for _, p := range ports {
		id := "-"
		if devID, ok := p.DeviceID(); ok {
			id = devID.String()
		}
		sn := p.SerialNumber
		if sn == "" {
			sn = "-"
		}
		fmt.Fprintln(w, cellStyle.Render(row(p.Name, getPortType(p.Name), id, sn, p.Description)))
	}
}

// getPortType returns a more specific type classification for the port
func getPortType(name string) string {
	name = strings.ToLower(name)
	switch {
	case strings.HasPrefix(name, "ttyusb"):
		return "USB Serial"
	case strings.HasPrefix(name, "ttyacm"):
		return "USB CDC/ACM"
	case strings.HasPrefix(name, "ttyama"):
		return "ARM Serial"
	case strings.HasPrefix(name, "ttymxc"):
		return "i.MX Serial"
	case strings.HasPrefix(name, "ttys"):
		return "Standard Serial"
	default:
		return "Serial Port"
	}
}
