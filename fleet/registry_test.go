package fleet

import (
	"testing"
	"time"
)

func testDescriptor(id int64) Descriptor {
	return Descriptor{
		ID:          id,
		Device:      "/dev/ttyACM0",
		Description: "Original Prusa MK4",
		Hwid:        "USB VID:PID=2C99:000D SER=00000",
		Name:        "prusa",
	}
}

func TestSmallestQueue(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{}
	r := NewRegistry(Deps{Sink: sink})
	for id := int64(1); id <= 3; id++ {
		r.Create(testDescriptor(id), StatusConfiguring)
	}

	// Queue sizes 3, 1, 2.
	sizes := map[int64]int{1: 3, 2: 1, 3: 2}
	jobID := int64(100)
	for printerID, n := range sizes {
		q := r.FindByID(printerID).Queue()
		for i := 0; i < n; i++ {
			if err := q.AddToBack(newTestJob(jobID, "", sink)); err != nil {
				t.Fatal(err)
			}
			jobID++
		}
	}

	id, err := r.SmallestQueue()
	if err != nil {
		t.Fatal(err)
	}
	if id != 2 {
		t.Fatalf("SmallestQueue = %d, want 2", id)
	}
	if size := r.FindByID(id).Queue().Size(); size != 1 {
		t.Fatalf("winner queue size = %d, want 1", size)
	}
}

func TestSmallestQueueTieBreaksByOrder(t *testing.T) {
	t.Parallel()
	r := NewRegistry(Deps{})
	r.Create(testDescriptor(5), StatusConfiguring)
	r.Create(testDescriptor(6), StatusConfiguring)

	id, err := r.SmallestQueue()
	if err != nil {
		t.Fatal(err)
	}
	if id != 5 {
		t.Fatalf("SmallestQueue = %d, want first-registered 5", id)
	}
}

func TestSmallestQueueNoPrinters(t *testing.T) {
	t.Parallel()
	r := NewRegistry(Deps{})
	if _, err := r.SmallestQueue(); err == nil {
		t.Fatal("SmallestQueue on empty registry: want error")
	}
}

func TestResetRebuildsWorker(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{}
	r := NewRegistry(Deps{Sink: sink})
	old := r.Create(testDescriptor(1), StatusConfiguring)
	old.Queue().AddToBack(newTestJob(1, "", sink))

	if err := r.Reset(1); err != nil {
		t.Fatal(err)
	}
	fresh := r.FindByID(1)
	if fresh == nil {
		t.Fatal("printer missing after reset")
	}
	if fresh == old {
		t.Fatal("reset did not rebuild the printer")
	}
	if !old.Terminated() {
		t.Fatal("old worker not terminated")
	}
	if fresh.Queue().Size() != 0 {
		t.Fatalf("fresh queue size = %d, want 0", fresh.Queue().Size())
	}
	if fresh.Status() != StatusConfiguring {
		t.Fatalf("fresh status = %q, want configuring", fresh.Status())
	}
}

func TestResetAndRestoreKeepsQueue(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{}
	r := NewRegistry(Deps{Sink: sink})
	old := r.Create(testDescriptor(1), StatusConfiguring)
	old.Queue().AddToBack(newTestJob(1, "", sink))
	old.Queue().AddToBack(newTestJob(2, "", sink))

	if err := r.ResetAndRestore(1); err != nil {
		t.Fatal(err)
	}
	fresh := r.FindByID(1)
	if fresh == old {
		t.Fatal("reset did not rebuild the printer")
	}
	if fresh.Queue().Size() != 2 {
		t.Fatalf("restored queue size = %d, want 2", fresh.Queue().Size())
	}
}

func TestDeleteRemovesWorker(t *testing.T) {
	t.Parallel()
	r := NewRegistry(Deps{})
	p := r.Create(testDescriptor(9), StatusConfiguring)
	if err := r.Delete(9); err != nil {
		t.Fatal(err)
	}
	if !p.Terminated() {
		t.Fatal("deleted worker not terminated")
	}
	if r.FindByID(9) != nil {
		t.Fatal("printer still listed after delete")
	}
	if err := r.Delete(9); err == nil {
		t.Fatal("second delete: want error")
	}
}

func TestReorderAndSnapshot(t *testing.T) {
	t.Parallel()
	r := NewRegistry(Deps{})
	for id := int64(1); id <= 3; id++ {
		r.Create(testDescriptor(id), StatusConfiguring)
	}
	r.Reorder([]int64{3, 1, 2})

	snapshot := r.Snapshot()
	if len(snapshot) != 3 {
		t.Fatalf("snapshot length = %d, want 3", len(snapshot))
	}
	wantOrder := []int64{3, 1, 2}
	for i, entry := range snapshot {
		if entry["id"] != wantOrder[i] {
			t.Fatalf("snapshot order = %v, want %v", snapshot, wantOrder)
		}
		for _, key := range []string{"device", "description", "hwid", "name", "status", "error", "canPause", "queue", "colorChangeBuffer"} {
			if _, ok := entry[key]; !ok {
				t.Fatalf("snapshot entry missing %q: %v", key, entry)
			}
		}
	}
}

func TestEditNameInMemory(t *testing.T) {
	t.Parallel()
	r := NewRegistry(Deps{})
	r.Create(testDescriptor(4), StatusConfiguring)
	if err := r.EditName(4, "left-rack"); err != nil {
		t.Fatal(err)
	}
	if got := r.FindByID(4).Name(); got != "left-rack" {
		t.Fatalf("name = %q, want left-rack", got)
	}
	if err := r.EditName(99, "x"); err == nil {
		t.Fatal("rename of unknown printer: want error")
	}
}

// TestWorkerPrintsReleasedJob drives the full worker cycle: a ready printer
// with a released job in queue connects, streams the file, and lands on
// complete.
func TestWorkerPrintsReleasedJob(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{}
	store := newFakeStore()
	port := &fakePort{}
	deps := Deps{
		Sink:  sink,
		Store: store,
		OpenPort: func(device string) (SerialPort, error) {
			return port, nil
		},
		ProbeDevice: func(device string) bool { return true },
		UploadsDir:  t.TempDir(),
	}
	r := NewRegistry(deps)
	p := r.Create(testDescriptor(1), StatusReady)

	gcode := ";FLAVOR:Marlin\n;TIME:60\n;LAYER_CHANGE\n;Z:0.2\nM569\nG1 X1\nG1 X2\nM104 S0\n"
	job := newTestJob(1, gcode, sink)
	job.SetReleased(1)
	if err := p.Queue().AddToBack(job); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if store.lastStatus(1) == JobComplete {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if store.lastStatus(1) != JobComplete {
		t.Fatalf("persisted status = %q, want complete", store.lastStatus(1))
	}
	if p.Status() != StatusComplete {
		t.Fatalf("printer status = %q, want complete", p.Status())
	}
	if port.closed != true {
		t.Fatal("serial link left open after print")
	}

	// M155 from connect, then the four command lines.
	want := []string{"M155 S5", "M569", "G1 X1", "G1 X2", "M104 S0"}
	if got := port.written(); !equalLines(got, want) {
		t.Fatalf("sent lines = %v, want %v", got, want)
	}
}
