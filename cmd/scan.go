/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	serial "github.com/allbin/serial-session"
	"github.com/allbin/serial-session/internal/tui/models"
	"github.com/allbin/serial-session/internal/tui/styles"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Find the port the configured device ids select",
	Long: `Scan the system for a port matching the configured device ids and print it,
without opening it.

The highest priority id with a present port wins. With --choose every matching
port is offered in a table and the selected one is printed.

Examples:
  serial scan
  serial scan -d 1a86:7523 -d 'USB\VID_0403&PID_6001'
  serial scan --choose`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := cfg.Filter()
		if err != nil {
			return err
		}

		var opts []serial.SessionOption
		if choose, _ := cmd.Flags().GetBool("choose"); choose {
			opts = append(opts, serial.WithChooser(models.Chooser{
				Title: fmt.Sprintf("Ports matching %s", filter),
			}))
		}

		info, err := newSession(nil, opts...).Scan(cmd.Context(), filter)
		switch {
		case errors.Is(err, serial.ErrUserCancelled):
			fmt.Fprintln(cmd.ErrOrStderr(), styles.MutedStyle.Render("Selection cancelled"))
			return err
		case err != nil:
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), info.Path)
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			printPortInfo(cmd.OutOrStdout(), info, filter)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().BoolP("choose", "c", false, "Pick among all matching ports interactively")
	scanCmd.Flags().BoolP("verbose", "v", false, "Show port details")
}
