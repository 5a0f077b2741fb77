package serial

import (
	"strings"
	"sync"
	"testing"
)

type fakeDirectory struct {
	mu       sync.Mutex
	printers map[string]struct {
		id     int64
		device string
	}
	updated map[int64]string
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		printers: make(map[string]struct {
			id     int64
			device string
		}),
		updated: make(map[int64]string),
	}
}

func (d *fakeDirectory) add(hwid string, id int64, device string) {
	d.printers[hwid] = struct {
		id     int64
		device string
	}{id, device}
}

func (d *fakeDirectory) PrinterByHwid(hwid string) (int64, string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.printers[hwid]
	return p.id, p.device, ok
}

func (d *fakeDirectory) UpdateDevice(id int64, device string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updated[id] = device
	for hwid, p := range d.printers {
		if p.id == id {
			p.device = device
			d.printers[hwid] = p
		}
	}
	return nil
}

func fixedPorts(ports []PortInfo) func() ([]PortInfo, error) {
	return func() ([]PortInfo, error) { return ports, nil }
}

func TestStripLocation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{"USB VID:PID=2C99:000D SER=123 LOCATION=1-2:1.0", "USB VID:PID=2C99:000D SER=123"},
		{"USB VID:PID=2C99:000D SER=123", "USB VID:PID=2C99:000D SER=123"},
		{"/dev/ttyS0", "/dev/ttyS0"},
	}
	for _, tt := range tests {
		if got := StripLocation(tt.in); got != tt.want {
			t.Errorf("StripLocation(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFilterCandidates(t *testing.T) {
	t.Parallel()
	dir := newFakeDirectory()
	dir.add("USB VID:PID=2C99:000D SER=REG", 1, "/dev/ttyACM0")

	r := &Resolver{Enumerate: fixedPorts([]PortInfo{
		{Device: "/dev/ttyACM0", Description: "Original Prusa MK4", Hwid: "USB VID:PID=2C99:000D SER=REG"},
		{Device: "/dev/ttyACM1", Description: "Prusa MINI", Hwid: "USB VID:PID=2C99:000E SER=NEW"},
		{Device: "/dev/ttyUSB0", Description: "FTDI adapter", Hwid: "USB VID:PID=0403:6001 SER=X"},
	})}

	candidates, err := r.FilterCandidates(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(candidates) != 1 {
		t.Fatalf("candidates = %v, want exactly the unregistered Prusa", candidates)
	}
	if candidates[0].Device != "/dev/ttyACM1" {
		t.Fatalf("candidate device = %q, want /dev/ttyACM1", candidates[0].Device)
	}
}

func TestRepairUpdatesMovedPrinters(t *testing.T) {
	t.Parallel()
	dir := newFakeDirectory()
	dir.add("USB VID:PID=2C99:000D SER=A", 1, "/dev/ttyACM0")
	dir.add("USB VID:PID=2C99:000D SER=B", 2, "/dev/ttyACM1")

	// Printer 1 moved to ACM2, printer 2 is where it was registered.
	r := &Resolver{Enumerate: fixedPorts([]PortInfo{
		{Device: "/dev/ttyACM2", Description: "Original Prusa MK4", Hwid: "USB VID:PID=2C99:000D SER=A"},
		{Device: "/dev/ttyACM1", Description: "Original Prusa MK4", Hwid: "USB VID:PID=2C99:000D SER=B"},
	})}

	if err := r.Repair(dir); err != nil {
		t.Fatal(err)
	}
	if got := dir.updated[1]; got != "/dev/ttyACM2" {
		t.Fatalf("printer 1 device = %q, want /dev/ttyACM2", got)
	}
	if _, touched := dir.updated[2]; touched {
		t.Fatal("printer 2 rewritten although its port did not move")
	}

	_, device, _ := dir.PrinterByHwid("USB VID:PID=2C99:000D SER=A")
	if device != "/dev/ttyACM2" {
		t.Fatalf("directory device = %q, want /dev/ttyACM2", device)
	}
}

func TestDiagnose(t *testing.T) {
	t.Parallel()
	dir := newFakeDirectory()
	dir.add("USB VID:PID=2C99:000D SER=A", 1, "/dev/ttyACM0")

	r := &Resolver{Enumerate: fixedPorts([]PortInfo{
		{Device: "/dev/ttyACM0", Description: "Original Prusa MK4", Hwid: "USB VID:PID=2C99:000D SER=A"},
	})}

	found, err := r.Diagnose(dir, "/dev/ttyACM0", func(id int64) string { return "prusa-a" })
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(found, "matching port") || !strings.Contains(found, "prusa-a") {
		t.Fatalf("diagnose output missing details: %q", found)
	}

	missing, err := r.Diagnose(dir, "/dev/ttyACM9", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(missing, "not found") {
		t.Fatalf("diagnose for absent device = %q", missing)
	}
}
