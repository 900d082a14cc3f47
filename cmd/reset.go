/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	serial "github.com/allbin/serial-session"
)

// resetCmd represents the reset command
var resetCmd = &cobra.Command{
	Use:   "reset [port]",
	Short: "Reset a USB serial device",
	Long: `Perform a USB-level reset on a serial device. This can recover devices
that are hung or unresponsive without physically unplugging them.

Without a port argument the port the configured device ids select is reset.
The device will re-enumerate after reset, which may cause the port path
to change (e.g., /dev/ttyUSB0 might become /dev/ttyUSB1). Select devices by
id or serial number rather than by path afterwards.

Requirements:
- usbreset utility must be installed (from usbutils package)
- Root/sudo permissions required for USB operations

Examples:
  sudo serial reset /dev/ttyUSB0          # Reset by port path
  sudo serial reset -d 1a86:7523          # Reset the selected device
  sudo serial reset --serial NC7ILXW1     # Reset by serial number`,
	Args: func(cmd *cobra.Command, args []string) error {
		serialFlag, _ := cmd.Flags().GetString("serial")
		if serialFlag != "" && len(args) > 0 {
			return errors.New("cannot specify both port path and --serial flag")
		}
		return cobra.MaximumNArgs(1)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if !serial.IsUSBResetAvailable() {
			fmt.Fprintln(cmd.ErrOrStderr(), "Install with: sudo apt-get install usbutils")
			return serial.ErrUSBResetNotAvailable
		}

		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		serialFlag, _ := cmd.Flags().GetString("serial")

		var err error
		switch {
		case serialFlag != "":
			var path string
			if path, err = portBySerial(serialFlag); err == nil {
				fmt.Fprintf(out, "Resetting USB device with serial %s at %s\n", serialFlag, path)
				err = serial.ResetUSBDevice(ctx, path)
			}
		case len(args) == 1:
			fmt.Fprintf(out, "Resetting USB device: %s\n", args[0])
			err = serial.ResetUSBDevice(ctx, args[0])
		default:
			var filter serial.DeviceFilter
			if filter, err = cfg.Filter(); err == nil {
				var info serial.PortInfo
				info, err = serial.ResetMatchingDevice(ctx, filter)
				if err == nil {
					fmt.Fprintf(out, "Reset %s (%s)\n", info.Path, info.Description)
				}
			}
		}

		if err != nil {
			if errors.Is(err, serial.ErrUSBInfoNotAvailable) {
				fmt.Fprintln(cmd.ErrOrStderr(), "This device does not appear to be a USB device")
			}
			return err
		}

		fmt.Fprintln(out, "USB device reset successfully")
		fmt.Fprintln(out, "Device will re-enumerate (port path may change)")
		fmt.Fprintln(out, "\nUse 'serial list --table' to see updated device list")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resetCmd)

	resetCmd.Flags().StringP("serial", "s", "", "Reset device by USB serial number")
}

func portBySerial(serialNumber string) (string, error) {
	ports, err := serial.ListPortInfo()
	if err != nil {
		return "", err
	}
	for _, p := range ports {
		if p.SerialNumber == serialNumber {
			return p.Path, nil
		}
	}
	return "", fmt.Errorf("%w: no port with serial number %s", serial.ErrDeviceNotFound, serialNumber)
}
