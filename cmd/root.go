/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	serial "github.com/allbin/serial-session"
	"github.com/allbin/serial-session/internal/config"
	"github.com/allbin/serial-session/internal/logging"
)

var (
	cfgFile   string
	v         = config.New()
	cfg       *config.Config
	logger    = zap.NewNop()
	logCloser io.Closer
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "serial",
	Short: "Find and talk to a USB serial peripheral by vendor and product id",
	Long: `serial locates a serial peripheral by its USB vendor/product id, opens it with
the configured line settings and exchanges bytes with it.

Devices are named by "VID:PID" (1a86:7523) or Windows PnP ids
(USB\VID_1A86&PID_7523). When several ids are given, the first has the highest
priority. Settings come from flags, SERIAL_SESSION_* environment variables and
$HOME/.serial-session.yaml, in that order.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var searchPaths []string
		if home, err := os.UserHomeDir(); err == nil {
			searchPaths = append(searchPaths, home)
		}

		c, err := config.Load(v, cfgFile, searchPaths...)
		if err != nil {
			return err
		}

		l, closer, err := logging.New(c.Logging)
		if err != nil {
			return err
		}
		cfg, logger, logCloser = c, l, closer
		logger.Debug("Configuration loaded",
			zap.String("config_file", v.ConfigFileUsed()),
			zap.String("backend", cfg.Device.Backend),
		)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// Interrupts cancel the command context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.serial-session.yaml)")
	flags.StringSliceP("device", "d", nil, "device ids as VID:PID or PnP id, highest priority first")
	flags.String("backend", config.BackendSysfs, "port backend: sysfs or bugst")
	flags.IntP("baud", "b", serial.DefaultLinkConfig().BaudRate, "baud rate")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-format", "console", "log format: console or json")
	flags.String("log-output", "stderr", "log output: stderr, stdout or a file path")

	for key, name := range map[string]string{
		"device.ids":     "device",
		"device.backend": "backend",
		"link.baud_rate": "baud",
		"logging.level":  "log-level",
		"logging.format": "log-format",
		"logging.output": "log-output",
	} {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
}
