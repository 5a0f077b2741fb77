package fleet

import (
	"bytes"
	"compress/gzip"
	"os"
	"sync"
	"testing"
	"time"

	"printvista/server/storage"
)

// TestMain tightens the worker poll intervals so lifecycle tests finish in
// milliseconds.
func TestMain(m *testing.M) {
	workerTick = 10 * time.Millisecond
	workerSettle = time.Millisecond
	releasePollInterval = time.Millisecond
	pausePollInterval = time.Millisecond
	resumeSettle = time.Millisecond
	os.Exit(m.Run())
}

// recordingSink captures emitted events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	Name string
	Data map[string]interface{}
}

func (s *recordingSink) Emit(event string, data map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, recordedEvent{Name: event, Data: data})
}

func (s *recordingSink) byName(name string) []recordedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []recordedEvent
	for _, e := range s.events {
		if e.Name == name {
			matched = append(matched, e)
		}
	}
	return matched
}

// fakePort is a scripted serial port. Each written line produces the
// replies from the reply function (default: a single "ok"); onWrite fires
// before the replies are queued so tests can flip printer state mid-print.
type fakePort struct {
	mu      sync.Mutex
	writes  []string
	pending []string
	reply   func(line string) []string
	onWrite func(line string)
	closed  bool
}

func (f *fakePort) WriteLine(line string) error {
	f.mu.Lock()
	f.writes = append(f.writes, line)
	f.mu.Unlock()
	if f.onWrite != nil {
		f.onWrite(line)
	}
	replies := []string{"ok"}
	if f.reply != nil {
		replies = f.reply(line)
	}
	f.mu.Lock()
	f.pending = append(f.pending, replies...)
	f.mu.Unlock()
	return nil
}

func (f *fakePort) ReadLine() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return "", nil
	}
	response := f.pending[0]
	f.pending = f.pending[1:]
	return response, nil
}

func (f *fakePort) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakePort) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	lines := make([]string, len(f.writes))
	copy(lines, f.writes)
	return lines
}

// fakeStore records persisted job statuses.
type fakeStore struct {
	mu       sync.Mutex
	statuses map[int64][]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{statuses: make(map[int64][]string)}
}

func (s *fakeStore) UpdateJobStatus(id int64, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[id] = append(s.statuses[id], status)
	return nil
}

func (s *fakeStore) lastStatus(id int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.statuses[id]
	if len(history) == 0 {
		return ""
	}
	return history[len(history)-1]
}

func gzipBytes(data []byte) []byte {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write(data)
	zw.Close()
	return buf.Bytes()
}

func newTestJob(id int64, gcode string, sink EventSink) *Job {
	row := &storage.JobRow{
		ID:               id,
		File:             gzipBytes([]byte(gcode)),
		Name:             "test job",
		Status:           JobInQueue,
		PrinterID:        1,
		PrinterName:      "prusa-a",
		FileNameOriginal: "cube.gcode",
	}
	return NewJob(row, "PLA", sink)
}

func newTestPrinter(sink EventSink, store JobStore, port SerialPort) *Printer {
	p := NewPrinter(Descriptor{
		ID:          1,
		Device:      "/dev/ttyACM0",
		Description: "Original Prusa MK4",
		Hwid:        "USB VID:PID=2C99:000D SER=123456",
		Name:        "prusa-a",
	}, StatusPrinting, Deps{
		Sink:  sink,
		Store: store,
	})
	p.port = port
	return p
}
