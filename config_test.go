package serial

import (
	"errors"
	"testing"
	"time"
)

func TestDefaultLinkConfig(t *testing.T) {
	config := DefaultLinkConfig()

	if config.BaudRate != 115200 {
		t.Errorf("BaudRate = %d, want 115200", config.BaudRate)
	}
	if config.DataBits != 8 {
		t.Errorf("DataBits = %d, want 8", config.DataBits)
	}
	if config.StopBits != 1 {
		t.Errorf("StopBits = %d, want 1", config.StopBits)
	}
	if config.Parity != ParityNone {
		t.Errorf("Parity = %v, want N", config.Parity)
	}
	if config.RTS || config.DTR {
		t.Errorf("RTS/DTR = %v/%v, want both de-asserted", config.RTS, config.DTR)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
	if got := config.String(); got != "115200 8N1" {
		t.Errorf("String() = %q, want %q", got, "115200 8N1")
	}
}

func TestNewLinkConfig(t *testing.T) {
	config, err := NewLinkConfig(
		WithBaudRate(9600),
		WithDataBits(7),
		WithStopBits(2),
		WithParity(ParityEven),
		WithRTS(true),
		WithDTR(true),
		WithSyncWrite(),
	)
	if err != nil {
		t.Fatalf("NewLinkConfig() error = %v", err)
	}

	want := LinkConfig{
		BaudRate:  9600,
		DataBits:  7,
		StopBits:  2,
		Parity:    ParityEven,
		RTS:       true,
		DTR:       true,
		WriteMode: WriteModeSynced,
	}
	if config != want {
		t.Errorf("NewLinkConfig() = %+v, want %+v", config, want)
	}
	if got := config.String(); got != "9600 7E2" {
		t.Errorf("String() = %q, want %q", got, "9600 7E2")
	}
}

func TestNewLinkConfigInvalid(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
		want error
	}{
		{"baud rate", WithBaudRate(123456), ErrInvalidBaudRate},
		{"data bits", WithDataBits(9), ErrInvalidConfig},
		{"stop bits", WithStopBits(3), ErrInvalidConfig},
		{"parity", WithParity(Parity(42)), ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLinkConfig(tt.opt)
			if !errors.Is(err, tt.want) {
				t.Errorf("NewLinkConfig() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLinkConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*LinkConfig)
		want   error
	}{
		{"default", func(*LinkConfig) {}, nil},
		{"zero baud", func(c *LinkConfig) { c.BaudRate = 0 }, ErrInvalidBaudRate},
		{"four data bits", func(c *LinkConfig) { c.DataBits = 4 }, ErrInvalidConfig},
		{"zero stop bits", func(c *LinkConfig) { c.StopBits = 0 }, ErrInvalidConfig},
		{"unknown parity", func(c *LinkConfig) { c.Parity = -1 }, ErrInvalidConfig},
		{"negative read timeout", func(c *LinkConfig) { c.ReadTimeout = -time.Second }, ErrInvalidConfig},
		{"mark parity", func(c *LinkConfig) { c.Parity = ParityMark }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultLinkConfig()
			tt.mutate(&config)
			err := config.Validate()
			if tt.want == nil {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestWithReadTimeout(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		wantErr bool
	}{
		{"0ms (blocking)", 0, false},
		{"100ms (valid)", 100 * time.Millisecond, false},
		{"2500ms (valid)", 2500 * time.Millisecond, false},
		{"25500ms (max)", 25500 * time.Millisecond, false},
		{"150ms (not multiple of 100ms)", 150 * time.Millisecond, true},
		{"25600ms (exceeds max)", 25600 * time.Millisecond, true},
		{"-100ms (negative)", -100 * time.Millisecond, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultLinkConfig()
			err := WithReadTimeout(tt.timeout)(&config)
			if (err != nil) != tt.wantErr {
				t.Errorf("WithReadTimeout(%v) error = %v, wantErr %v", tt.timeout, err, tt.wantErr)
			}
			if err == nil && config.ReadTimeout != tt.timeout {
				t.Errorf("ReadTimeout = %v, want %v", config.ReadTimeout, tt.timeout)
			}
		})
	}
}

func TestParityString(t *testing.T) {
	tests := map[Parity]string{
		ParityNone:  "N",
		ParityOdd:   "O",
		ParityEven:  "E",
		ParityMark:  "M",
		ParitySpace: "S",
		Parity(9):   "?",
	}
	for parity, want := range tests {
		if got := parity.String(); got != want {
			t.Errorf("Parity(%d).String() = %q, want %q", int(parity), got, want)
		}
	}
}
