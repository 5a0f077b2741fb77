package fleet

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Poll and settle intervals used by the worker loops. Package variables so
// tests can tighten them.
var (
	workerTick          = 2 * time.Second
	workerSettle        = 2 * time.Second
	releasePollInterval = time.Second
	pausePollInterval   = time.Second
	resumeSettle        = 2 * time.Second
)

var layerZ = regexp.MustCompile(`;Z:(\d+\.?\d*)`)

// streamGcode drives one print: a pre-scan over the file's comments for the
// layer ceiling and the slicer's time estimate, then the per-line streaming
// state machine interleaving pause, color change, cancellation and progress
// accounting. The verdict tells the worker which cleanup to run; VerdictNone
// means the worker was hard-reset and no outcome is reported.
func (p *Printer) streamGcode(path string, job *Job) Verdict {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// The scratch file vanished before the first line went out;
			// treat as a clean no-op end.
			return VerdictComplete
		}
		p.setError(err.Error())
		return VerdictError
	}
	if p.Terminated() {
		return VerdictNone
	}

	lines := strings.Split(string(data), "\n")

	var comments []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && strings.HasPrefix(trimmed, ";") {
			comments = append(comments, trimmed)
		}
	}

	// Walk the comments from the end: the last ;LAYER_CHANGE followed by a
	// ;Z: comment carries the model's final layer height. A file without the
	// marker pair is not streamable; the print never starts.
	foundLayerHeight := false
	for i := len(comments) - 1; i >= 0; i-- {
		if !strings.Contains(comments[i], ";LAYER_CHANGE") || i+1 >= len(comments) {
			continue
		}
		if m := layerZ.FindStringSubmatch(comments[i+1]); m != nil {
			if height, err := strconv.ParseFloat(m[1], 64); err == nil {
				job.SetMaxLayerHeight(height)
				foundLayerHeight = true
				break
			}
		}
	}
	if !foundLayerHeight {
		p.setError("no layer height marker in G-code comments")
		return VerdictError
	}

	total, ok := GetTimeFromFile(comments)
	if !ok {
		p.setError("no time estimate in G-code comments")
		return VerdictError
	}
	job.SetTotalSeconds(total)

	totalLines := 0
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && !strings.HasPrefix(trimmed, ";") {
			totalLines++
		}
	}

	sentLines := 0
	prevLine := ""

	for _, rawLine := range lines {
		if p.Terminated() {
			return VerdictNone
		}

		// A user-requested color change waits for the current layer to
		// finish: arm the gate when the next layer marker scrolls past.
		if strings.Contains(strings.ToLower(rawLine), "layer") &&
			p.Status() == StatusColorChange && job.FilePause() == 0 && p.ColorBuff() == 0 {
			p.setColorChangeBuffer(1)
		}

		if strings.Contains(prevLine, ";LAYER_CHANGE") {
			if m := layerZ.FindStringSubmatch(rawLine); m != nil {
				if height, err := strconv.ParseFloat(m[1], 64); err == nil {
					job.SetCurrentLayerHeight(height)
				}
			}
		}
		prevLine = rawLine

		line := strings.TrimSpace(rawLine)
		if i := strings.Index(line, ";"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if len(line) == 0 {
			continue
		}

		// M569 marks the start of the actual print on Prusa firmware; the
		// clocks start here rather than at the first calibration move.
		if strings.Contains(line, "M569") && job.TimeStarted() == 0 {
			job.SetTimeStarted(1)
			job.SetEta(job.CalculateEta())
			job.SetStartedAt(timeNow())
		}

		if err := p.sendGcode(line); errors.Is(err, errAborted) {
			return VerdictNone
		}

		// The previous line completed an M600 filament swap (from the file
		// or requested by the user); fold the paused duration into the
		// clocks and resume, unless the user cancelled while the printer
		// sat waiting. The M601/M602 pause below folds its own clocks.
		if job.FilePause() == 1 {
			job.SetEta(job.ColorEta())
			job.SetTotalSeconds(job.CalculateColorChangeTotal())
			job.SetPausedAt(time.Time{})
			job.SetFilePause(0)
			if p.Status() == StatusComplete {
				return VerdictCancelled
			}
			p.SetStatus(StatusPrinting)
		}

		if strings.Contains(line, "M600") {
			job.SetPausedAt(timeNow())
			p.SetStatus(StatusColorChange)
			job.SetFilePause(1)
		}

		if strings.Contains(line, "M569") && job.Extruded() == 0 {
			job.SetExtruded(1)
		}

		if p.prevMessage() == "M602" {
			p.setPrevMessage("")
		}

		if p.Status() == StatusPaused {
			if err := p.sendGcode("M601"); errors.Is(err, errAborted) {
				return VerdictNone
			}
			job.SetPausedAt(timeNow())
			for {
				if p.Terminated() {
					return VerdictNone
				}
				time.Sleep(pausePollInterval)
				if p.Status() != StatusPrinting {
					continue
				}
				p.setPrevMessage("M602")
				if err := p.sendGcode("M602"); errors.Is(err, errAborted) {
					return VerdictNone
				}
				time.Sleep(resumeSettle)
				job.SetEta(job.ColorEta())
				job.SetTotalSeconds(job.CalculateColorChangeTotal())
				job.SetPausedAt(time.Time{})
				break
			}
		}

		if p.Status() == StatusColorChange && job.FilePause() == 0 && p.ColorBuff() == 1 {
			job.SetPausedAt(timeNow())
			// Stuck here until the user swaps filament on the LCD.
			if err := p.sendGcode("M600"); errors.Is(err, errAborted) {
				return VerdictNone
			}
			job.SetEta(job.ColorEta())
			job.SetTotalSeconds(job.CalculateColorChangeTotal())
			job.SetPausedAt(time.Time{})
			job.SetFilePause(1)
			p.setColorChangeBuffer(0)
		}

		sentLines++
		job.SetSentLines(sentLines)
		job.SetProgress(float64(sentLines) / float64(totalLines) * 100)

		if p.Status() == StatusComplete {
			return VerdictCancelled
		}
		if p.Status() == StatusError {
			return VerdictError
		}
	}

	return VerdictComplete
}

// endingSequence shuts the printer down after a cancelled print: heaters and
// fan off, park the nozzle if anything was extruded, reset linear advance
// and the heatbreak target, release the motors. Prusa MK4 sequence.
func (p *Printer) endingSequence(job *Job) {
	commands := []string{"M104 S0", "M140 S0", "M107"}
	if job != nil && job.Extruded() == 1 {
		commands = append(commands, "G1 X241 Y170 F3600", "G4")
	}
	commands = append(commands, "M900 K0", "M142 S36", "M84 X Y E")
	for _, command := range commands {
		if err := p.gcodeEnding(command); err != nil {
			if p.deps.Log != nil && !errors.Is(err, errAborted) {
				p.deps.Log.Error("Ending sequence failed", "printer_id", p.id, "command", command, "error", err)
			}
			return
		}
	}
}

// printNextInQueue runs the head of the queue through a full print cycle:
// mark printing, await the user's release, repair ports and connect, write
// the scratch file, stream, and handle the verdict.
func (p *Printer) printNextInQueue() {
	job := p.Queue().GetNext()
	if job == nil {
		return
	}

	p.SetStatus(StatusPrinting)
	p.sendStatusToJob(job, JobPrinting)

	switch p.awaitRelease(job) {
	case releaseAborted:
		return
	case releaseSkipped:
		p.handleVerdict(VerdictMisprint, job)
		return
	}

	if p.deps.RepairPorts != nil {
		if err := p.deps.RepairPorts(); err != nil && p.deps.Log != nil {
			p.deps.Log.Warn("Port repair failed", "printer_id", p.id, "error", err)
		}
	}

	if err := p.connect(); err != nil || !p.Connected() {
		p.Queue().DeleteJob(job.ID())
		p.setError("Printer not connected")
		p.sendStatusToJob(job, JobError)
		return
	}
	p.resetResponseCount()

	path := filepath.Join(p.deps.UploadsDir, job.FileNamePk())
	if err := job.SaveToFolder(path); err != nil {
		p.disconnect()
		p.Queue().DeleteJob(job.ID())
		p.setError(err.Error())
		p.sendStatusToJob(job, JobError)
		return
	}

	verdict := p.streamGcode(path, job)
	p.handleVerdict(verdict, job)
	os.Remove(path)
}

type releaseResult int

const (
	releaseGo releaseResult = iota
	releaseSkipped
	releaseAborted
)

// awaitRelease blocks until the user starts the print, cancels it, or hard
// resets the worker.
func (p *Printer) awaitRelease(job *Job) releaseResult {
	for {
		if p.Terminated() {
			return releaseAborted
		}
		time.Sleep(releasePollInterval)
		if job.Released() == 1 {
			return releaseGo
		}
		if p.Status() == StatusComplete {
			return releaseSkipped
		}
	}
}

// handleVerdict runs the cleanup matching the streaming outcome and records
// the job's final status.
func (p *Printer) handleVerdict(verdict Verdict, job *Job) {
	switch verdict {
	case VerdictComplete:
		p.disconnect()
		p.SetStatus(StatusComplete)
		p.sendStatusToJob(job, JobComplete)
	case VerdictError:
		p.disconnect()
		p.Queue().DeleteJob(job.ID())
		p.SetStatus(StatusError)
		p.sendStatusToJob(job, JobError)
	case VerdictCancelled:
		p.endingSequence(job)
		p.sendStatusToJob(job, JobCancelled)
		p.disconnect()
	case VerdictMisprint:
		p.sendStatusToJob(job, JobCancelled)
	}
}

// sendStatusToJob records the job's status in memory and in the store, and
// notifies the UI.
func (p *Printer) sendStatusToJob(job *Job, status string) {
	job.SetStatus(status)
	if p.deps.Store != nil {
		if err := p.deps.Store.UpdateJobStatus(job.ID(), status); err != nil && p.deps.Log != nil {
			p.deps.Log.Error("Failed to persist job status", "job_id", job.ID(), "status", status, "error", err)
		}
	}
	emit(p.deps.Sink, EventJobStatusUpdate, map[string]interface{}{"job_id": job.ID(), "status": status})
}
