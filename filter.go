package serial

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DeviceID is a USB vendor/product identifier pair.
type DeviceID struct {
	VendorID  uint16
	ProductID uint16
}

// CH340 is the WCH USB-serial bridge found on most ESP32 and Arduino clone boards.
var CH340 = DeviceID{VendorID: 0x1A86, ProductID: 0x7523}

func (id DeviceID) String() string {
	return fmt.Sprintf("%04x:%04x", id.VendorID, id.ProductID)
}

// ParseDeviceID parses "VID:PID" in hexadecimal, e.g. "1a86:7523" or "0x1A86:0x7523".
func ParseDeviceID(s string) (DeviceID, error) {
	vid, pid, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return DeviceID{}, fmt.Errorf("%w: device id %q is not VID:PID", ErrInvalidConfig, s)
	}
	v, err := parseHex16(vid)
	if err != nil {
		return DeviceID{}, fmt.Errorf("%w: vendor id %q: %v", ErrInvalidConfig, vid, err)
	}
	p, err := parseHex16(pid)
	if err != nil {
		return DeviceID{}, fmt.Errorf("%w: product id %q: %v", ErrInvalidConfig, pid, err)
	}
	return DeviceID{VendorID: v, ProductID: p}, nil
}

var pnpIDPattern = regexp.MustCompile(`(?i)VID_([0-9a-f]{4})&PID_([0-9a-f]{4})`)

// ParsePNPID parses a Windows PnP hardware id such as `USB\VID_1A86&PID_7523`.
func ParsePNPID(s string) (DeviceID, error) {
	m := pnpIDPattern.FindStringSubmatch(s)
	if m == nil {
		return DeviceID{}, fmt.Errorf("%w: %q is not a USB PnP id", ErrInvalidConfig, s)
	}
	v, _ := parseHex16(m[1])
	p, _ := parseHex16(m[2])
	return DeviceID{VendorID: v, ProductID: p}, nil
}

func parseHex16(s string) (uint16, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	n, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, err
	}
	return uint16(n), nil
}

// DeviceFilter selects eligible ports by vendor/product id.
// The zero value matches nothing. A DeviceFilter is immutable once constructed.
type DeviceFilter struct {
	ids []DeviceID
}

// NewDeviceFilter returns a filter over ids in the given priority order.
// Duplicates keep their first position.
func NewDeviceFilter(ids ...DeviceID) DeviceFilter {
	out := make([]DeviceID, 0, len(ids))
	seen := make(map[DeviceID]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return DeviceFilter{ids: out}
}

// ParseDeviceFilter builds a filter from "VID:PID" or PnP id strings.
func ParseDeviceFilter(specs []string) (DeviceFilter, error) {
	ids := make([]DeviceID, 0, len(specs))
	for _, spec := range specs {
		var (
			id  DeviceID
			err error
		)
		if strings.Contains(strings.ToUpper(spec), "VID_") {
			id, err = ParsePNPID(spec)
		} else {
			id, err = ParseDeviceID(spec)
		}
		if err != nil {
			return DeviceFilter{}, err
		}
		ids = append(ids, id)
	}
	return NewDeviceFilter(ids...), nil
}

// IDs returns a copy of the filter entries in priority order.
func (f DeviceFilter) IDs() []DeviceID {
	return append([]DeviceID(nil), f.ids...)
}

func (f DeviceFilter) Len() int {
	return len(f.ids)
}

func (f DeviceFilter) String() string {
	parts := make([]string, len(f.ids))
	for i, id := range f.ids {
		parts[i] = id.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// Matches reports whether the port's vendor/product pair is in the filter.
func (f DeviceFilter) Matches(info PortInfo) bool {
	id, ok := info.DeviceID()
	if !ok {
		return false
	}
	return f.rank(id) >= 0
}

func (f DeviceFilter) rank(id DeviceID) int {
	for i, candidate := range f.ids {
		if candidate == id {
			return i
		}
	}
	return -1
}

// Select returns the matching ports ordered by filter priority, then by input order.
func (f DeviceFilter) Select(ports []PortInfo) []PortInfo {
	var matched []PortInfo
	for _, want := range f.ids {
		for _, info := range ports {
			if id, ok := info.DeviceID(); ok && id == want {
				matched = append(matched, info)
			}
		}
	}
	return matched
}
