package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	serial "github.com/allbin/serial-session"
)

const (
	EnvPrefix      = "SERIAL_SESSION"
	configFileName = ".serial-session"

	BackendSysfs = "sysfs"
	BackendBugst = "bugst"
)

// Config is the CLI configuration
type Config struct {
	Device  DeviceConfig  `mapstructure:"device"`
	Link    LinkConfig    `mapstructure:"link"`
	Session SessionConfig `mapstructure:"session"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// DeviceConfig identifies the peripheral and how ports are discovered
type DeviceConfig struct {
	Name    string   `mapstructure:"name"`
	IDs     []string `mapstructure:"ids"` // "VID:PID" or PnP ids, highest priority first
	Backend string   `mapstructure:"backend"`
}

// LinkConfig holds the line parameters applied at open
type LinkConfig struct {
	BaudRate    int           `mapstructure:"baud_rate"`
	DataBits    int           `mapstructure:"data_bits"`
	StopBits    int           `mapstructure:"stop_bits"`
	Parity      string        `mapstructure:"parity"`
	RTS         bool          `mapstructure:"rts"`
	DTR         bool          `mapstructure:"dtr"`
	SyncWrite   bool          `mapstructure:"sync_write"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

// SessionConfig bounds the blocking session operations
type SessionConfig struct {
	OpenTimeout    time.Duration `mapstructure:"open_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	ReadBufferSize int           `mapstructure:"read_buffer_size"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// New returns a viper instance with defaults and SERIAL_SESSION_* environment support
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	link := serial.DefaultLinkConfig()

	v.SetDefault("device.name", "peripheral")
	v.SetDefault("device.ids", []string{serial.CH340.String()})
	v.SetDefault("device.backend", BackendSysfs)

	v.SetDefault("link.baud_rate", link.BaudRate)
	v.SetDefault("link.data_bits", link.DataBits)
	v.SetDefault("link.stop_bits", link.StopBits)
	v.SetDefault("link.parity", "none")
	v.SetDefault("link.rts", link.RTS)
	v.SetDefault("link.dtr", link.DTR)
	v.SetDefault("link.sync_write", false)
	v.SetDefault("link.read_timeout", time.Duration(0))

	v.SetDefault("session.open_timeout", serial.DefaultOpenTimeout)
	v.SetDefault("session.write_timeout", serial.DefaultWriteTimeout)
	v.SetDefault("session.read_buffer_size", 4096)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.max_size", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", false)
}

// Load reads configuration into v and decodes it.
// With an empty configFile, ~/.serial-session.yaml is used when present.
func Load(v *viper.Viper, configFile string, searchPaths ...string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(configFileName)
		v.SetConfigType("yaml")
		for _, path := range searchPaths {
			v.AddConfigPath(path)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate checks that every section can be turned into runtime values
func (c *Config) Validate() error {
	if c.Device.Name == "" {
		return fmt.Errorf("%w: device.name is required", serial.ErrInvalidConfig)
	}
	switch c.Device.Backend {
	case BackendSysfs, BackendBugst:
	default:
		return fmt.Errorf("%w: unknown backend %q (want %s or %s)",
			serial.ErrInvalidConfig, c.Device.Backend, BackendSysfs, BackendBugst)
	}
	if _, err := c.Filter(); err != nil {
		return err
	}
	if _, err := c.LinkConfig(); err != nil {
		return err
	}
	if c.Session.OpenTimeout < 0 || c.Session.WriteTimeout < 0 {
		return fmt.Errorf("%w: negative session timeout", serial.ErrInvalidConfig)
	}
	if c.Session.ReadBufferSize <= 0 {
		return fmt.Errorf("%w: session.read_buffer_size must be positive", serial.ErrInvalidConfig)
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%w: logging.level: %w", serial.ErrInvalidConfig, err)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("%w: logging.format %q (want json or console)", serial.ErrInvalidConfig, c.Logging.Format)
	}
	return nil
}

// Filter builds the device filter from device.ids
func (c *Config) Filter() (serial.DeviceFilter, error) {
	var ids []string
	for _, id := range c.Device.IDs {
		// env values arrive as one comma separated string
		for _, part := range strings.Split(id, ",") {
			if part = strings.TrimSpace(part); part != "" {
				ids = append(ids, part)
			}
		}
	}
	if len(ids) == 0 {
		return serial.DeviceFilter{}, fmt.Errorf("%w: device.ids is empty", serial.ErrInvalidConfig)
	}
	return serial.ParseDeviceFilter(ids)
}

// LinkConfig builds the serial link configuration from the link section
func (c *Config) LinkConfig() (serial.LinkConfig, error) {
	parity, err := ParseParity(c.Link.Parity)
	if err != nil {
		return serial.LinkConfig{}, err
	}

	opts := []serial.Option{
		serial.WithBaudRate(c.Link.BaudRate),
		serial.WithDataBits(c.Link.DataBits),
		serial.WithStopBits(c.Link.StopBits),
		serial.WithParity(parity),
		serial.WithRTS(c.Link.RTS),
		serial.WithDTR(c.Link.DTR),
		serial.WithReadTimeout(c.Link.ReadTimeout),
	}
	if c.Link.SyncWrite {
		opts = append(opts, serial.WithSyncWrite())
	}

	link, err := serial.NewLinkConfig(opts...)
	if err != nil {
		return serial.LinkConfig{}, fmt.Errorf("invalid link configuration: %w", err)
	}
	return link, nil
}

// SessionOptions returns the session bounds as serial.SessionOption values
func (c *Config) SessionOptions() []serial.SessionOption {
	return []serial.SessionOption{
		serial.WithOpenTimeout(c.Session.OpenTimeout),
		serial.WithWriteTimeout(c.Session.WriteTimeout),
		serial.WithReadBufferSize(c.Session.ReadBufferSize),
	}
}

// ParseParity accepts none/odd/even/mark/space or their one-letter forms
func ParseParity(s string) (serial.Parity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "n":
		return serial.ParityNone, nil
	case "odd", "o":
		return serial.ParityOdd, nil
	case "even", "e":
		return serial.ParityEven, nil
	case "mark", "m":
		return serial.ParityMark, nil
	case "space", "s":
		return serial.ParitySpace, nil
	default:
		return 0, fmt.Errorf("%w: parity %q", serial.ErrInvalidConfig, s)
	}
}
