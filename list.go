package serial

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	devDir    = "/dev"
	sysfsRoot = "/sys"
)

// Regular expressions for different types of serial devices
var serialPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^ttyUSB\d+$`), // USB serial adapters
	regexp.MustCompile(`^ttyACM\d+$`), // USB CDC/ACM devices
	regexp.MustCompile(`^ttyS\d+$`),   // Standard serial ports
	regexp.MustCompile(`^ttyAMA\d+$`), // ARM/Raspberry Pi serial
	regexp.MustCompile(`^ttymxc\d+$`), // i.MX serial ports
	regexp.MustCompile(`^ttyO\d+$`),   // OMAP serial ports
	regexp.MustCompile(`^ttySAC\d+$`), // Samsung serial ports
	regexp.MustCompile(`^ttyTHS\d+$`), // Tegra serial ports
}

// Exclude patterns for virtual terminals and other non-serial devices
var excludePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^tty\d+$`),  // Virtual terminals (tty1, tty2, etc.)
	regexp.MustCompile(`^console$`), // Console
	regexp.MustCompile(`^ptmx$`),    // Pseudo-terminal multiplexer
	regexp.MustCompile(`^pty.*$`),   // Pseudo-terminals
	regexp.MustCompile(`^pts/.*$`),  // Pseudo-terminal slaves
}

// ListPorts returns a list of available serial ports on the system
// Filters for communication-capable devices and excludes virtual terminals
func ListPorts() ([]string, error) {
	entries, err := os.ReadDir(devDir)
	if err != nil {
		return nil, err
	}

	var ports []string
	for _, entry := range entries {
		name := entry.Name()
		if !isSerialName(name) {
			continue
		}

		fullPath := filepath.Join(devDir, name)

		// Verify it's a character device (not a directory or regular file)
		if isCharacterDevice(fullPath) {
			ports = append(ports, fullPath)
		}
	}

	// Sort the ports for consistent ordering
	sort.Strings(ports)

	return ports, nil
}

// ListPortInfo returns PortInfo for every port ListPorts finds.
// Ports that vanish between listing and inspection are skipped.
func ListPortInfo() ([]PortInfo, error) {
	paths, err := ListPorts()
	if err != nil {
		return nil, err
	}
	infos := make([]PortInfo, 0, len(paths))
	for _, path := range paths {
		info, err := GetPortInfo(path)
		if err != nil {
			continue
		}
		infos = append(infos, *info)
	}
	return infos, nil
}

func isSerialName(name string) bool {
	for _, pattern := range excludePatterns {
		if pattern.MatchString(name) {
			return false
		}
	}
	for _, pattern := range serialPatterns {
		if pattern.MatchString(name) {
			return true
		}
	}
	return false
}

// isCharacterDevice checks if the given path is a character device
func isCharacterDevice(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// PortInfo describes a serial port and, for USB devices, the device behind it
type PortInfo struct {
	Name         string
	Path         string
	Description  string
	VendorID     string // four hex digits as reported by sysfs, e.g. "1a86"
	ProductID    string
	SerialNumber string

	Manufacturer    string
	Product         string
	InterfaceNumber string
	BusNumber       string
	DeviceNumber    string
}

// IsUSB reports whether USB identifiers were found for the port.
func (p PortInfo) IsUSB() bool {
	return p.VendorID != "" && p.ProductID != ""
}

// DeviceID parses the vendor/product pair. ok is false for non-USB ports.
func (p PortInfo) DeviceID() (DeviceID, bool) {
	if !p.IsUSB() {
		return DeviceID{}, false
	}
	vid, err := parseHex16(p.VendorID)
	if err != nil {
		return DeviceID{}, false
	}
	pid, err := parseHex16(p.ProductID)
	if err != nil {
		return DeviceID{}, false
	}
	return DeviceID{VendorID: vid, ProductID: pid}, true
}

// GetPortInfo returns detailed information about a specific port
func GetPortInfo(portPath string) (*PortInfo, error) {
	if !isCharacterDevice(portPath) {
		return nil, ErrDeviceNotFound
	}

	name := filepath.Base(portPath)

	info := &PortInfo{
		Name:        name,
		Path:        portPath,
		Description: getPortDescription(name),
	}

	if strings.HasPrefix(name, "ttyUSB") || strings.HasPrefix(name, "ttyACM") {
		enrichUSBInfo(info)
	}

	return info, nil
}

// getPortDescription provides human-readable descriptions for different port types
func getPortDescription(name string) string {
	switch {
	case strings.HasPrefix(name, "ttyUSB"):
		return "USB Serial Port"
	case strings.HasPrefix(name, "ttyACM"):
		return "USB CDC/ACM Device"
	case strings.HasPrefix(name, "ttyAMA"):
		return "ARM Serial Port"
	case strings.HasPrefix(name, "ttymxc"):
		return "i.MX Serial Port"
	case strings.HasPrefix(name, "ttySAC"):
		return "Samsung Serial Port"
	case strings.HasPrefix(name, "ttyTHS"):
		return "Tegra Serial Port"
	case strings.HasPrefix(name, "ttyO"):
		return "OMAP Serial Port"
	case strings.HasPrefix(name, "ttyS"):
		return "Standard Serial Port"
	default:
		return "Serial Port"
	}
}

// enrichUSBInfo fills USB metadata from sysfs.
// /sys/class/tty/<name>/device points at the USB interface (ttyACM) or a child of it
// (ttyUSB); the USB device owning idVendor/idProduct is the first ancestor carrying them.
func enrichUSBInfo(info *PortInfo) {
	link := filepath.Join(sysfsRoot, "class", "tty", info.Name, "device")
	dir, err := filepath.EvalSymlinks(link)
	if err != nil {
		return
	}

	usbDevice, usbInterface := findUSBDevice(dir)
	if usbDevice == "" {
		return
	}

	info.VendorID = readSysfsFile(filepath.Join(usbDevice, "idVendor"))
	info.ProductID = readSysfsFile(filepath.Join(usbDevice, "idProduct"))
	info.SerialNumber = readSysfsFile(filepath.Join(usbDevice, "serial"))
	info.Manufacturer = readSysfsFile(filepath.Join(usbDevice, "manufacturer"))
	info.Product = readSysfsFile(filepath.Join(usbDevice, "product"))
	info.BusNumber = readSysfsFile(filepath.Join(usbDevice, "busnum"))
	info.DeviceNumber = readSysfsFile(filepath.Join(usbDevice, "devnum"))
	if usbInterface != "" {
		info.InterfaceNumber = readSysfsFile(filepath.Join(usbInterface, "bInterfaceNumber"))
	}

	if info.Product != "" {
		info.Description = info.Product
	}
}

// findUSBDevice walks up from dir and returns the USB device directory and
// the interface directory directly below it. Both are empty when not found.
func findUSBDevice(dir string) (device, iface string) {
	prev := ""
	for i := 0; i < 8 && dir != "/" && dir != "."; i++ {
		if readSysfsFile(filepath.Join(dir, "idVendor")) != "" {
			return dir, prev
		}
		prev = dir
		dir = filepath.Dir(dir)
	}
	return "", ""
}

// readSysfsFile returns the trimmed content of a sysfs attribute, or "" if unreadable
func readSysfsFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// usbAddress returns the zero-padded "BBB/DDD" path usbreset expects.
func usbAddress(info *PortInfo) (string, error) {
	bus, err := strconv.Atoi(info.BusNumber)
	if err != nil {
		return "", ErrUSBInfoNotAvailable
	}
	dev, err := strconv.Atoi(info.DeviceNumber)
	if err != nil {
		return "", ErrUSBInfoNotAvailable
	}
	return strings.Join([]string{pad3(bus), pad3(dev)}, "/"), nil
}

func pad3(n int) string {
	s := strconv.Itoa(n)
	for len(s) < 3 {
		s = "0" + s
	}
	return s
}
