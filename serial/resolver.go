package serial

import (
	"fmt"
	"strings"
	"time"

	bugst "go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// PortInfo describes one system serial port.
type PortInfo struct {
	Device      string `json:"device"`
	Description string `json:"description"`
	Hwid        string `json:"hwid"`
}

// PrinterDirectory is the view of registered printers the resolver needs:
// lookup by hardware id and the ability to rewrite a printer's device path
// (in the store and on the live worker).
type PrinterDirectory interface {
	PrinterByHwid(hwid string) (id int64, device string, ok bool)
	UpdateDevice(id int64, device string) error
}

// Resolver enumerates system serial ports and keeps registered printers
// pointing at the device path they are actually attached to.
type Resolver struct {
	// Enumerate lists system ports; overridable in tests. Defaults to
	// EnumeratePorts.
	Enumerate func() ([]PortInfo, error)
}

// NewResolver returns a Resolver backed by the system port list.
func NewResolver() *Resolver {
	return &Resolver{Enumerate: EnumeratePorts}
}

// EnumeratePorts lists the host's serial ports. The hardware id is built
// from the USB identity (VID:PID plus serial number) and stripped of any
// trailing LOCATION suffix so it stays stable when the device moves ports.
func EnumeratePorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerate ports: %w", err)
	}
	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		hwid := d.Name
		if d.IsUSB {
			hwid = fmt.Sprintf("USB VID:PID=%s:%s SER=%s", d.VID, d.PID, d.SerialNumber)
		}
		ports = append(ports, PortInfo{
			Device:      d.Name,
			Description: d.Product,
			Hwid:        StripLocation(hwid),
		})
	}
	return ports, nil
}

// StripLocation drops the ` LOCATION=...` suffix some platforms append to
// the hardware id.
func StripLocation(hwid string) string {
	if i := strings.Index(hwid, " LOCATION="); i >= 0 {
		return hwid[:i]
	}
	return hwid
}

// FilterCandidates keeps only ports that look like supported 3D printers
// (description contains "original" or "prusa") and are not yet registered.
func (r *Resolver) FilterCandidates(dir PrinterDirectory) ([]PortInfo, error) {
	ports, err := r.Enumerate()
	if err != nil {
		return nil, err
	}
	var candidates []PortInfo
	for _, port := range ports {
		desc := strings.ToLower(port.Description)
		if !strings.Contains(desc, "original") && !strings.Contains(desc, "prusa") {
			continue
		}
		if _, _, registered := dir.PrinterByHwid(port.Hwid); registered {
			continue
		}
		candidates = append(candidates, port)
	}
	return candidates, nil
}

// Diagnose reports whether the given device path exists on the system and
// whether it maps to a registered printer. The returned string is shown
// verbatim in the UI.
func (r *Resolver) Diagnose(dir PrinterDirectory, device string, printerName func(id int64) string) (string, error) {
	ports, err := r.Enumerate()
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, port := range ports {
		if port.Device != device {
			continue
		}
		fmt.Fprintf(&b, "The system has found a <b>matching port</b> with the following details: <br><br> <b>Device:</b> %s, <br> <b>Description:</b> %s, <br> <b>HWID:</b> %s",
			port.Device, port.Description, port.Hwid)
		if id, regDevice, ok := dir.PrinterByHwid(port.Hwid); ok {
			name := ""
			if printerName != nil {
				name = printerName(id)
			}
			fmt.Fprintf(&b, "<hr><br>Device <b>%s</b> is registered with the following details: <br><br> <b>Name:</b> %s <br> <b>Device:</b> %s, <br> <b>HWID:</b> %s",
				port.Device, name, regDevice, port.Hwid)
		}
	}
	if b.Len() == 0 {
		return "The port this printer is registered under is <b>not found</b>. Please check the connection and try again.", nil
	}
	return b.String(), nil
}

// Repair walks the current system ports and, for every port whose hardware
// id matches a registered printer attached elsewhere, rewrites the
// printer's device path.
func (r *Resolver) Repair(dir PrinterDirectory) error {
	ports, err := r.Enumerate()
	if err != nil {
		return err
	}
	for _, port := range ports {
		id, device, ok := dir.PrinterByHwid(port.Hwid)
		if !ok || device == port.Device {
			continue
		}
		if err := dir.UpdateDevice(id, port.Device); err != nil {
			return err
		}
	}
	return nil
}

// MoveHead homes the printer on the given device so the operator can tell
// which physical machine a port belongs to. Returns an error when the
// firmware reports one.
func MoveHead(device string) error {
	p, err := bugst.Open(device, &bugst.Mode{BaudRate: BaudRate})
	if err != nil {
		return fmt.Errorf("open %s: %w", device, err)
	}
	defer p.Close()
	if err := p.SetReadTimeout(time.Second); err != nil {
		return fmt.Errorf("open %s: %w", device, err)
	}
	port := &Port{p: p, device: device}
	if err := port.WriteLine("G28"); err != nil {
		return err
	}
	response, err := port.ReadLine()
	if err != nil {
		return err
	}
	if strings.Contains(strings.ToLower(response), "error") {
		return fmt.Errorf("move head on %s: %s", device, response)
	}
	return nil
}
