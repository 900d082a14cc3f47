package components

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var ErrEmptyInput = errors.New("empty input")

// ParseHex converts "48 65 6C 6C 6F", "48656c6c6f" or "0x48 0x65" to bytes
func ParseHex(s string) ([]byte, error) {
	clean := strings.NewReplacer(" ", "", "\t", "", "0x", "", "0X", "").Replace(strings.TrimSpace(s))
	if clean == "" {
		return nil, ErrEmptyInput
	}
	if len(clean)%2 != 0 {
		return nil, fmt.Errorf("hex string must have even number of digits (got %d)", len(clean))
	}
	data, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex input: %w", err)
	}
	return data, nil
}
