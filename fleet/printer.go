package fleet

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"printvista/server/logger"
)

// SerialPort is the transport the fleet drives: newline-framed writes and
// reads against one printer. Implemented by the serial package and by test
// fakes.
type SerialPort interface {
	WriteLine(line string) error
	ReadLine() (string, error)
	Close() error
}

// JobStore is the slice of persistence the worker needs while printing.
type JobStore interface {
	UpdateJobStatus(id int64, status string) error
}

// Descriptor identifies a registered printer; workers are built from it and
// rebuilt from it on hard reset.
type Descriptor struct {
	ID          int64
	Device      string
	Description string
	Hwid        string
	Name        string
}

// Deps carries the process-wide collaborators every printer worker uses.
type Deps struct {
	Sink        EventSink
	Log         *logger.Logger
	Store       JobStore
	OpenPort    func(device string) (SerialPort, error)
	RepairPorts func() error
	// ProbeDevice reports whether the device path is present on the system.
	// Backs the ready→offline coercion; nil skips the probe.
	ProbeDevice func(device string) bool
	UploadsDir  string
}

// errAborted unwinds send/stream loops when the worker is hard-reset.
var errAborted = errors.New("fleet: worker terminated")

// ErrNoResponse is the watchdog failure after ten consecutive empty replies.
var ErrNoResponse = errors.New("No response from printer")

const maxEmptyResponses = 10

// Printer is the live, worker-owned state of one registered printer.
type Printer struct {
	mu sync.Mutex

	id          int64
	device      string
	description string
	hwid        string
	name        string

	status        string
	errMsg        string
	extruderTemp  float64
	bedTemp       float64
	canPause      int
	colorBuff     int
	prevMes       string
	responseCount int

	terminated atomic.Bool

	queue *Queue
	port  SerialPort

	deps Deps

	// onLeaveError is invoked (asynchronously) when the printer transitions
	// out of error via user action; the registry hard-resets the worker.
	onLeaveError func(printerID int64)
}

// NewPrinter builds the live printer for a descriptor. The initial status is
// set directly, bypassing SetStatus side effects.
func NewPrinter(d Descriptor, status string, deps Deps) *Printer {
	p := &Printer{
		id:          d.ID,
		device:      d.Device,
		description: d.Description,
		hwid:        d.Hwid,
		name:        d.Name,
		status:      status,
		deps:        deps,
	}
	p.queue = NewQueue(d.ID, deps.Sink)
	return p
}

// Descriptor returns the identity this printer was built from, with the
// current device path.
func (p *Printer) Descriptor() Descriptor {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Descriptor{ID: p.id, Device: p.device, Description: p.description, Hwid: p.hwid, Name: p.name}
}

func (p *Printer) ID() int64 { return p.id }

func (p *Printer) Hwid() string { return p.hwid }

func (p *Printer) Device() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.device
}

// SetDevice rewrites the device path after port repair.
func (p *Printer) SetDevice(device string) {
	p.mu.Lock()
	p.device = device
	p.mu.Unlock()
}

func (p *Printer) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.name
}

// SetName renames the printer in memory; the store row is updated by the
// HTTP layer.
func (p *Printer) SetName(name string) {
	p.mu.Lock()
	p.name = name
	p.mu.Unlock()
}

func (p *Printer) Queue() *Queue {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue
}

// setQueue attaches an existing queue, used by hard reset with restore.
func (p *Printer) setQueue(q *Queue) {
	p.mu.Lock()
	p.queue = q
	p.mu.Unlock()
}

func (p *Printer) Status() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// SetStatus transitions the printer's status and notifies the UI. A printer
// whose serial device is neither open nor present on the system cannot be
// ready; such a transition records offline instead. Any transition out of
// error requests a hard reset of the worker so it restarts from clean
// state.
func (p *Printer) SetStatus(status string) {
	if status == StatusReady {
		p.mu.Lock()
		open := p.port != nil
		device := p.device
		p.mu.Unlock()
		if !open && p.deps.ProbeDevice != nil && !p.deps.ProbeDevice(device) {
			status = StatusOffline
		}
	}
	p.mu.Lock()
	leavingError := p.status == StatusError && status != StatusError
	p.status = status
	id := p.id
	reset := p.onLeaveError
	p.mu.Unlock()

	emit(p.deps.Sink, EventStatusUpdate, map[string]interface{}{"printer_id": id, "status": status})

	if leavingError && reset != nil {
		go reset(id)
	}
}

func (p *Printer) Error() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errMsg
}

// ClearError wipes the recorded failure message.
func (p *Printer) ClearError() {
	p.mu.Lock()
	p.errMsg = ""
	p.mu.Unlock()
}

// setError disconnects, records the failure, flips the printer to error and
// pushes both updates to the UI.
func (p *Printer) setError(message string) {
	p.disconnect()
	p.mu.Lock()
	p.errMsg = message
	p.status = StatusError
	id := p.id
	p.mu.Unlock()
	emit(p.deps.Sink, EventStatusUpdate, map[string]interface{}{"printer_id": id, "status": StatusError})
	emit(p.deps.Sink, EventErrorUpdate, map[string]interface{}{"printerid": id, "error": message})
	if p.deps.Log != nil {
		p.deps.Log.Error("Printer fault", "printer_id", id, "error", message)
	}
}

// SetErrorMessage records a failure supplied by the user (release key 3)
// without touching the serial link.
func (p *Printer) SetErrorMessage(message string) {
	p.mu.Lock()
	p.errMsg = message
	p.status = StatusError
	id := p.id
	p.mu.Unlock()
	emit(p.deps.Sink, EventStatusUpdate, map[string]interface{}{"printer_id": id, "status": StatusError})
	emit(p.deps.Sink, EventErrorUpdate, map[string]interface{}{"printerid": id, "error": message})
}

func (p *Printer) Temps() (extruder, bed float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.extruderTemp, p.bedTemp
}

func (p *Printer) setTemps(extruder, bed float64) {
	p.mu.Lock()
	p.extruderTemp = extruder
	p.bedTemp = bed
	id := p.id
	p.mu.Unlock()
	emit(p.deps.Sink, EventTempUpdate, map[string]interface{}{
		"printerid": id, "extruder_temp": extruder, "bed_temp": bed,
	})
}

func (p *Printer) CanPause() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.canPause
}

// SetCanPause flags whether the user may pause right now (calibration
// phases cannot be paused).
func (p *Printer) SetCanPause(canPause int) {
	p.mu.Lock()
	p.canPause = canPause
	id := p.id
	p.mu.Unlock()
	emit(p.deps.Sink, EventCanPause, map[string]interface{}{"printerid": id, "canPause": canPause})
}

func (p *Printer) ColorBuff() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.colorBuff
}

// setColorChangeBuffer arms or disarms the layer-boundary gate for a
// user-requested color change.
func (p *Printer) setColorChangeBuffer(buff int) {
	p.mu.Lock()
	p.colorBuff = buff
	id := p.id
	p.mu.Unlock()
	emit(p.deps.Sink, EventColorBuff, map[string]interface{}{"printerid": id, "colorChangeBuffer": buff})
}

func (p *Printer) prevMessage() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.prevMes
}

func (p *Printer) setPrevMessage(message string) {
	p.mu.Lock()
	p.prevMes = message
	p.mu.Unlock()
}

func (p *Printer) resetResponseCount() {
	p.mu.Lock()
	p.responseCount = 0
	p.mu.Unlock()
}

// Terminate signals the worker to abandon its current activity. Every
// blocking loop in the worker checks this flag.
func (p *Printer) Terminate() {
	p.terminated.Store(true)
	p.Queue().wake()
}

// Terminated reports whether a hard reset was requested.
func (p *Printer) Terminated() bool {
	return p.terminated.Load()
}

// ---- serial link ----

// connect opens the serial port and asks the firmware for periodic
// temperature reports.
func (p *Printer) connect() error {
	opener := p.deps.OpenPort
	if opener == nil {
		return errors.New("fleet: no port opener configured")
	}
	port, err := opener(p.Device())
	if err != nil {
		p.setError(err.Error())
		return err
	}
	p.mu.Lock()
	p.port = port
	p.mu.Unlock()
	if err := port.WriteLine("M155 S5"); err != nil {
		p.setError(err.Error())
		return err
	}
	return nil
}

// disconnect closes and drops the serial link, if open.
func (p *Printer) disconnect() {
	p.mu.Lock()
	port := p.port
	p.port = nil
	p.mu.Unlock()
	if port != nil {
		port.Close()
	}
}

// Connected reports whether a serial link is open.
func (p *Printer) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.port != nil
}

func (p *Printer) currentPort() SerialPort {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.port
}

var (
	tempExtruder = regexp.MustCompile(`T:(\d+\.?\d*)`)
	tempBed      = regexp.MustCompile(`B:(\d+\.?\d*)`)
)

// sendGcode writes one command and reads replies until the firmware
// acknowledges with ok. Empty replies are tolerated while the previous
// message was M602 (resume runs a calibration sequence with long silences);
// otherwise ten consecutive empties trip the no-response watchdog. A reply
// containing "error" records the fault and leaves the terminal-state check
// to the streamer.
func (p *Printer) sendGcode(line string) error {
	port := p.currentPort()
	if port == nil {
		p.setError("Printer not connected")
		return ErrNoResponse
	}
	if err := port.WriteLine(line); err != nil {
		p.setError(err.Error())
		return err
	}
	for {
		if p.Terminated() {
			return errAborted
		}
		response, err := port.ReadLine()
		if err != nil {
			p.setError(err.Error())
			return err
		}

		if response == "" {
			if p.prevMessage() == "M602" {
				p.resetResponseCount()
			} else {
				p.mu.Lock()
				p.responseCount++
				count := p.responseCount
				p.mu.Unlock()
				if count >= maxEmptyResponses {
					p.setError(ErrNoResponse.Error())
					return ErrNoResponse
				}
			}
		} else if strings.Contains(strings.ToLower(response), "error") {
			p.setError(response)
			return nil
		} else {
			p.resetResponseCount()
		}

		if strings.Contains(response, "T:") && strings.Contains(response, "B:") {
			p.parseTemps(response)
		}

		if strings.Contains(response, "ok") {
			return nil
		}

		if p.deps.Log != nil {
			p.deps.Log.Trace("Serial reply", "printer_id", p.id, "command", line, "response", response)
		}
	}
}

// gcodeEnding is the send primitive for the ending sequence: the same
// contract as sendGcode minus the M602 exemption and temperature parsing.
func (p *Printer) gcodeEnding(line string) error {
	port := p.currentPort()
	if port == nil {
		return ErrNoResponse
	}
	if err := port.WriteLine(line); err != nil {
		p.setError(err.Error())
		return err
	}
	for {
		if p.Terminated() {
			return errAborted
		}
		response, err := port.ReadLine()
		if err != nil {
			p.setError(err.Error())
			return err
		}

		if response == "" {
			p.mu.Lock()
			p.responseCount++
			count := p.responseCount
			p.mu.Unlock()
			if count >= maxEmptyResponses {
				p.setError(ErrNoResponse.Error())
				return ErrNoResponse
			}
		} else if strings.Contains(strings.ToLower(response), "error") {
			p.setError(response)
			return nil
		} else {
			p.resetResponseCount()
		}

		if strings.Contains(response, "ok") {
			return nil
		}
	}
}

func (p *Printer) parseTemps(response string) {
	t := tempExtruder.FindStringSubmatch(response)
	b := tempBed.FindStringSubmatch(response)
	if t == nil || b == nil {
		return
	}
	extruder, err1 := strconv.ParseFloat(t[1], 64)
	bed, err2 := strconv.ParseFloat(b[1], 64)
	if err1 != nil || err2 != nil {
		return
	}
	p.setTemps(extruder, bed)
}
