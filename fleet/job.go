package fleet

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"printvista/server/storage"
)

// timeNow is swapped out in tests.
var timeNow = time.Now

// Job is the in-memory unit of work while it sits in a printer's queue. The
// durable row lives in the store; this carries the runtime telemetry the
// streamer mutates and the user-controlled flags gating the print.
type Job struct {
	mu   sync.Mutex
	sink EventSink

	id               int64
	file             []byte // gzip-compressed G-code
	name             string
	date             time.Time
	printerID        int64
	printerName      string
	tdID             int64
	errorID          int64
	comments         string
	fileNameOriginal string
	fileNamePk       string
	filament         string
	favorite         bool

	status             string
	progress           float64
	released           int
	filePause          int
	extruded           int
	timeStarted        int
	maxLayerHeight     float64
	currentLayerHeight float64
	sentLines          int

	// Job clock: total print seconds, ETA, started-at, paused-at. The zero
	// time means "unset" for the three timestamp slots.
	totalSeconds int
	eta          time.Time
	startedAt    time.Time
	pausedAt     time.Time
}

// NewJob builds the runtime job for a stored row.
func NewJob(row *storage.JobRow, filament string, sink EventSink) *Job {
	j := &Job{
		sink:             sink,
		id:               row.ID,
		file:             row.File,
		name:             row.Name,
		date:             row.Date,
		printerID:        row.PrinterID,
		printerName:      row.PrinterName,
		tdID:             row.TdID,
		errorID:          row.ErrorID,
		comments:         row.Comments,
		fileNameOriginal: row.FileNameOriginal,
		favorite:         row.Favorite,
		filament:         filament,
		status:           row.Status,
	}
	j.fileNamePk = MakeFileNamePk(row.FileNameOriginal, row.ID)
	return j
}

// MakeFileNamePk derives the unique on-disk file name for a job:
// `<base>_<id><ext>`.
func MakeFileNamePk(original string, id int64) string {
	ext := filepath.Ext(original)
	base := strings.TrimSuffix(original, ext)
	return fmt.Sprintf("%s_%d%s", base, id, ext)
}

// ---- accessors ----

func (j *Job) ID() int64 { return j.id }

func (j *Job) Name() string { return j.name }

func (j *Job) PrinterID() int64 { return j.printerID }

func (j *Job) FileNameOriginal() string { return j.fileNameOriginal }

func (j *Job) FileNamePk() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.fileNamePk
}

func (j *Job) Comments() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.comments
}

func (j *Job) Status() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// SetStatus updates the in-memory status only; the durable row is written
// through the store by whoever owns the transition.
func (j *Job) SetStatus(status string) {
	j.mu.Lock()
	j.status = status
	j.mu.Unlock()
}

func (j *Job) Progress() float64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.progress
}

// SetProgress applies only while the job is printing.
func (j *Job) SetProgress(progress float64) {
	j.mu.Lock()
	if j.status != JobPrinting {
		j.mu.Unlock()
		return
	}
	j.progress = progress
	id := j.id
	j.mu.Unlock()
	emit(j.sink, EventProgressUpdate, map[string]interface{}{"job_id": id, "progress": progress})
}

func (j *Job) Released() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.released
}

// SetReleased latches the user's release. The core never resets it.
func (j *Job) SetReleased(released int) {
	j.mu.Lock()
	j.released = released
	id := j.id
	j.mu.Unlock()
	emit(j.sink, EventReleaseJob, map[string]interface{}{"job_id": id, "released": released})
}

func (j *Job) FilePause() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.filePause
}

func (j *Job) SetFilePause(pause int) {
	j.mu.Lock()
	j.filePause = pause
	id := j.id
	j.mu.Unlock()
	emit(j.sink, EventFilePauseUpdate, map[string]interface{}{"job_id": id, "file_pause": pause})
}

func (j *Job) Extruded() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.extruded
}

func (j *Job) SetExtruded(extruded int) {
	j.mu.Lock()
	j.extruded = extruded
	id := j.id
	j.mu.Unlock()
	emit(j.sink, EventExtrudedUpdate, map[string]interface{}{"job_id": id, "extruded": extruded})
}

func (j *Job) TimeStarted() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.timeStarted
}

func (j *Job) SetTimeStarted(started int) {
	j.mu.Lock()
	j.timeStarted = started
	id := j.id
	j.mu.Unlock()
	emit(j.sink, EventSetTimeStarted, map[string]interface{}{"job_id": id, "started": started})
}

func (j *Job) MaxLayerHeight() float64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.maxLayerHeight
}

func (j *Job) SetMaxLayerHeight(height float64) {
	j.mu.Lock()
	j.maxLayerHeight = height
	id := j.id
	j.mu.Unlock()
	emit(j.sink, EventMaxLayerHeight, map[string]interface{}{"job_id": id, "max_layer_height": height})
}

func (j *Job) CurrentLayerHeight() float64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.currentLayerHeight
}

func (j *Job) SetCurrentLayerHeight(height float64) {
	j.mu.Lock()
	j.currentLayerHeight = height
	id := j.id
	j.mu.Unlock()
	emit(j.sink, EventCurrentLayerHeight, map[string]interface{}{"job_id": id, "current_layer_height": height})
}

// SetSentLines records the per-job counter of transmitted command lines.
// Snapshot-only telemetry, no event.
func (j *Job) SetSentLines(n int) {
	j.mu.Lock()
	j.sentLines = n
	j.mu.Unlock()
}

func (j *Job) SentLines() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.sentLines
}

// ---- job clock ----

// Clock slot indexes carried on set_time events.
const (
	clockTotal   = 0
	clockEta     = 1
	clockStarted = 2
	clockPaused  = 3
)

func (j *Job) TotalSeconds() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.totalSeconds
}

func (j *Job) Eta() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.eta
}

func (j *Job) StartedAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.startedAt
}

func (j *Job) PausedAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.pausedAt
}

// SetTotalSeconds stores the total print seconds (clock slot 0) and emits
// set_time with an integer payload.
func (j *Job) SetTotalSeconds(seconds int) {
	j.mu.Lock()
	j.totalSeconds = seconds
	id := j.id
	j.mu.Unlock()
	emit(j.sink, EventSetTime, map[string]interface{}{"job_id": id, "new_time": seconds, "index": clockTotal})
}

// setClock stores one of the timestamp slots (1..3). The zero time clears
// the slot and is sent as null.
func (j *Job) setClock(index int, t time.Time) {
	j.mu.Lock()
	switch index {
	case clockEta:
		j.eta = t
	case clockStarted:
		j.startedAt = t
	case clockPaused:
		j.pausedAt = t
	}
	id := j.id
	j.mu.Unlock()

	var payload interface{}
	if !t.IsZero() {
		payload = t.Format(time.RFC3339)
	}
	emit(j.sink, EventSetTime, map[string]interface{}{"job_id": id, "new_time": payload, "index": index})
}

// SetEta stores clock slot 1.
func (j *Job) SetEta(t time.Time) { j.setClock(clockEta, t) }

// SetStartedAt stores clock slot 2.
func (j *Job) SetStartedAt(t time.Time) { j.setClock(clockStarted, t) }

// SetPausedAt stores clock slot 3. Pass the zero time to mark "not paused".
func (j *Job) SetPausedAt(t time.Time) { j.setClock(clockPaused, t) }

// CalculateEta projects the finish time from now plus the total print
// seconds.
func (j *Job) CalculateEta() time.Time {
	return timeNow().Add(time.Duration(j.TotalSeconds()) * time.Second)
}

// ColorEta advances the stored ETA by the time spent paused.
func (j *Job) ColorEta() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.eta.Add(timeNow().Sub(j.pausedAt))
}

// CalculateColorChangeTotal grows the total print seconds by the time spent
// paused.
func (j *Job) CalculateColorChangeTotal() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.totalSeconds + int(timeNow().Sub(j.pausedAt).Seconds())
}

// ---- file handling ----

// SaveToFolder decompresses the job's G-code payload into path for the
// duration of the print.
func (j *Job) SaveToFolder(path string) error {
	zr, err := gzip.NewReader(bytes.NewReader(j.file))
	if err != nil {
		return fmt.Errorf("job %d: decompress: %w", j.id, err)
	}
	defer zr.Close()
	data, err := io.ReadAll(zr)
	if err != nil {
		return fmt.Errorf("job %d: decompress: %w", j.id, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("job %d: write temp file: %w", j.id, err)
	}
	return nil
}

// ---- time parsing ----

var intGroups = regexp.MustCompile(`\d+`)

// GetTimeFromFile parses the total print seconds out of the file's comment
// lines. Two slicer formats are recognized: a leading FLAVOR comment
// followed by `;TIME:<seconds>`, or the first comment mentioning "time"
// with integer groups read right-to-left as seconds, minutes, hours, days.
func GetTimeFromFile(comments []string) (int, bool) {
	if len(comments) == 0 {
		return 0, false
	}
	if strings.Contains(comments[0], "FLAVOR") {
		if len(comments) < 2 {
			return 0, false
		}
		parts := strings.SplitN(comments[1], ":", 2)
		if len(parts) < 2 {
			return 0, false
		}
		seconds, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return 0, false
		}
		return seconds, true
	}

	for _, line := range comments {
		if !strings.Contains(line, "time") {
			continue
		}
		values := intGroups.FindAllString(line, -1)
		if len(values) == 0 {
			return 0, false
		}
		// Right to left: seconds, minutes, hours, days.
		var units [4]int
		for i := 0; i < len(values) && i < 4; i++ {
			n, err := strconv.Atoi(values[len(values)-1-i])
			if err != nil {
				return 0, false
			}
			units[i] = n
		}
		total := units[3]*24*60*60 + units[2]*60*60 + units[1]*60 + units[0]
		return total, true
	}
	return 0, false
}

// Snapshot is the JSON shape of this job inside queue_update payloads and
// printer snapshots.
func (j *Job) Snapshot() map[string]interface{} {
	j.mu.Lock()
	defer j.mu.Unlock()
	return map[string]interface{}{
		"id":                   j.id,
		"name":                 j.name,
		"status":               j.status,
		"date":                 j.date.Format("Mon, 02 Jan 2006 15:04:05"),
		"printerid":            j.printerID,
		"errorid":              j.errorID,
		"file_name_original":   j.fileNameOriginal,
		"progress":             j.progress,
		"favorite":             j.favorite,
		"released":             j.released,
		"file_pause":           j.filePause,
		"comments":             j.comments,
		"extruded":             j.extruded,
		"td_id":                j.tdID,
		"time_started":         j.timeStarted,
		"printer_name":         j.printerName,
		"max_layer_height":     j.maxLayerHeight,
		"current_layer_height": j.currentLayerHeight,
		"filament":             j.filament,
	}
}
