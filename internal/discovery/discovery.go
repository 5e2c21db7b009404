// internal/discovery/discovery.go
// Package discovery finds serial ports that might have a SportIdent
// station behind them, ranked by how likely that is.
package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/google/gousb"
)

// SportIdent USB stations enumerate through a Silicon Labs CP210x
// USB-to-UART bridge, either with the SPORTident product id or the
// generic CP210x one.
const (
	bridgeVendorID = 0x10C4
	pidSportIdent  = 0x800A
	pidCP210x      = 0xEA60
)

// Config controls candidate enumeration.
type Config struct {
	// IncludeTTYS also lists plain /dev/ttyS* ports on Linux, which
	// are almost never SI stations but can carry RS232 adapters.
	IncludeTTYS bool
}

// CandidatePorts returns serial device paths to probe, best first.
func CandidatePorts(cfg Config) ([]string, error) {
	switch runtime.GOOS {
	case "linux":
		return linuxPorts(cfg)
	case "darwin":
		return darwinPorts()
	default:
		return nil, fmt.Errorf("discovery: unsupported OS %q", runtime.GOOS)
	}
}

func linuxPorts(cfg Config) ([]string, error) {
	entries, err := os.ReadDir("/dev")
	if err != nil {
		return nil, fmt.Errorf("discovery: read /dev: %w", err)
	}
	var usb, tty []string
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasPrefix(name, "ttyUSB"):
			usb = append(usb, filepath.Join("/dev", name))
		case cfg.IncludeTTYS && strings.HasPrefix(name, "ttyS"):
			tty = append(tty, filepath.Join("/dev", name))
		}
	}
	sort.Strings(usb)
	sort.Strings(tty)
	return append(usb, tty...), nil
}

func darwinPorts() ([]string, error) {
	entries, err := os.ReadDir("/dev")
	if err != nil {
		return nil, fmt.Errorf("discovery: read /dev: %w", err)
	}
	var found []string
	for _, e := range entries {
		// The CP210x driver registers as tty.SLAB_USBtoUART.
		if strings.HasPrefix(e.Name(), "tty.SLAB") {
			found = append(found, filepath.Join("/dev", e.Name()))
		}
	}
	sort.Strings(found)
	return found, nil
}

// BridgePresent reports whether a SportIdent-compatible USB-to-UART
// bridge is attached. It saves probing every port when the answer is
// clearly no; enumeration failures err on the side of probing.
func BridgePresent() bool {
	ctx := gousb.NewContext()
	defer ctx.Close()

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == bridgeVendorID &&
			(desc.Product == pidSportIdent || desc.Product == pidCP210x)
	})
	for _, d := range devs {
		d.Close()
	}
	if err != nil {
		return true
	}
	return len(devs) > 0
}
