// Package serial connects to a USB-serial peripheral and keeps a byte-stream session
// with it: discovery by USB vendor/product identity, opening with a fixed line
// configuration, a background read loop and serialised writes.
//
// The library targets Linux (x86_64 and ARM). Ports are discovered under /dev and
// enriched from sysfs; lines are configured through termios.
//
// # Session
//
// A Session belongs to one logical peripheral and reports to a Controller:
//
//	ctrl := serial.ControllerFuncs{
//	    Connected:    func() { log.Println("connected") },
//	    Data:         func(p []byte) { os.Stdout.Write(p) },
//	    Disconnected: func(err error) { log.Println("disconnected:", err) },
//	}
//	session := serial.NewSession("esp32-cam", ctrl, serial.WithLogger(logger))
//
//	filter := serial.NewDeviceFilter(serial.CH340)
//	link := serial.DefaultLinkConfig() // 115200 8N1, RTS and DTR low
//
//	if err := session.Connect(ctx, filter, link); err != nil {
//	    if errors.Is(err, serial.ErrNoMatchingDevice) {
//	        // nothing plugged in
//	    }
//	    return err
//	}
//	defer session.Disconnect()
//
//	err := session.Write(ctx, []byte("hello\r\n"))
//
// Per connection the Controller sees OnConnected, then OnData zero or more times, then
// exactly one OnDisconnected. Writes from concurrent goroutines are delivered whole and
// in the order they acquire the write lock.
//
// # Port Discovery
//
//	ports, err := serial.ListPortInfo()
//	for _, info := range ports {
//	    fmt.Printf("%s: %s (VID=%s PID=%s Serial=%s)\n",
//	        info.Path, info.Description, info.VendorID, info.ProductID, info.SerialNumber)
//	}
//
// DeviceFilter.Select orders matches by filter priority, so the first identity in the
// filter wins when several adapters are plugged in.
//
// # Direct Port Access
//
// Open gives a Port without a session, for tools that manage the line themselves:
//
//	port, err := serial.Open("/dev/ttyUSB0", serial.WithBaudRate(9600), serial.WithDTR(true))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer port.Close()
//
//	signals, err := port.GetModemSignals()
//
// # USB Device Management
//
// Hung bridges can be reset with the usbreset utility from usbutils (root required):
//
//	err := serial.ResetMatchingDevice(ctx, filter)
//
// # Error Handling
//
// Errors wrap the sentinels in errors.go and are checked with errors.Is:
//
//	ErrNoMatchingDevice  // no port matched; ErrUserCancelled wraps it
//	ErrPermissionDenied  // the OS refused access
//	ErrOpenFailed        // the matched port could not be opened
//	ErrIO                // the link failed while connected
//	ErrNotConnected      // write without a live connection
package serial
