/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	serial "github.com/allbin/serial-session"
	"github.com/allbin/serial-session/bugst"
	"github.com/allbin/serial-session/internal/config"
)

// target is what a session command needs from the configuration
type target struct {
	filter serial.DeviceFilter
	link   serial.LinkConfig
}

func loadTarget() (target, error) {
	filter, err := cfg.Filter()
	if err != nil {
		return target{}, err
	}
	link, err := cfg.LinkConfig()
	if err != nil {
		return target{}, err
	}
	return target{filter: filter, link: link}, nil
}

// newHost returns the discovery/open backend selected by device.backend
func newHost() serial.Host {
	if cfg.Device.Backend == config.BackendBugst {
		return bugst.NewHost(logger)
	}
	return serial.SystemHost{}
}

// newSession builds a session for the configured device. extra options are applied last.
func newSession(ctrl serial.Controller, extra ...serial.SessionOption) *serial.Session {
	opts := []serial.SessionOption{
		serial.WithHost(newHost()),
		serial.WithLogger(logger),
	}
	opts = append(opts, cfg.SessionOptions()...)
	opts = append(opts, extra...)
	return serial.NewSession(cfg.Device.Name, ctrl, opts...)
}
