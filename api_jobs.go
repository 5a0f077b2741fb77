package main

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"printvista/server/fleet"
	"printvista/server/storage"
)

// handleGetJobs lists job history with the UI's filter set.
func handleGetJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("pageSize"))

	filter := storage.JobFilter{
		Page:           page,
		PageSize:       pageSize,
		PrinterIDs:     parseIDList(q.Get("printerIds")),
		OldestFirst:    q.Get("oldestFirst") == "true" || q.Get("oldestFirst") == "1",
		SearchJob:      q.Get("searchJob"),
		SearchCriteria: q.Get("searchCriteria"),
		SearchTicketID: q.Get("searchTicketId"),
		FavoriteOnly:   q.Get("favoriteOnly") == "true" || q.Get("favoriteOnly") == "1",
		IssueIDs:       parseIDList(q.Get("issueIds")),
		StartDate:      q.Get("startdate"),
		EndDate:        q.Get("enddate"),
		FromError:      q.Get("fromError") == "1",
		CountOnly:      q.Get("countOnly") == "1",
	}

	items, total, err := serverStore.JobHistory(filter)
	if err != nil {
		serverLogger.Error("Failed to list jobs", "error", err)
		jsonError(w, http.StatusInternalServerError, "Failed to retrieve jobs")
		return
	}
	if filter.CountOnly {
		jsonResponse(w, http.StatusOK, map[string]interface{}{"total": total})
		return
	}
	list := make([]map[string]interface{}, 0, len(items))
	for _, it := range items {
		list = append(list, map[string]interface{}{
			"id":                 it.ID,
			"name":               it.Name,
			"status":             it.Status,
			"date":               it.Date.Format("Mon, 02 Jan 2006 15:04:05"),
			"printerid":          it.PrinterID,
			"errorid":            it.ErrorID,
			"file_name_original": it.FileNameOriginal,
			"comments":           it.Comments,
			"td_id":              it.TdID,
			"printer":            it.Printer,
			"error":              it.Error,
			"printer_name":       it.PrinterName,
		})
	}
	jsonResponse(w, http.StatusOK, map[string]interface{}{"jobs": list, "total": total})
}

// readUploadForm pulls the shared multipart fields for job submission.
func readUploadForm(r *http.Request) (file []byte, fileName, name string, favorite bool, tdID int64, filament string, priority bool, err error) {
	if err = r.ParseMultipartForm(64 << 20); err != nil {
		return
	}
	f, header, ferr := r.FormFile("file")
	if ferr != nil {
		err = ferr
		return
	}
	defer f.Close()
	file, err = io.ReadAll(f)
	if err != nil {
		return
	}
	fileName = header.Filename
	name = r.FormValue("name")
	favorite = r.FormValue("favorite") == "true"
	tdID, _ = strconv.ParseInt(r.FormValue("td_id"), 10, 64)
	filament = r.FormValue("filament")
	priority = r.FormValue("priority") == "true"
	return
}

// insertAndEnqueue stores a new job row and places the runtime job on the
// printer's queue.
func insertAndEnqueue(file []byte, fileName, name string, printer *fleet.Printer, favorite bool, tdID int64, filament string, priority bool) error {
	row := &storage.JobRow{
		File:             file,
		Name:             name,
		Status:           fleet.JobInQueue,
		PrinterID:        printer.ID(),
		PrinterName:      printer.Name(),
		TdID:             tdID,
		FileNameOriginal: fileName,
		Favorite:         favorite,
	}
	id, err := serverStore.InsertJob(row)
	if err != nil {
		return err
	}
	row.ID = id
	row.Date = time.Now()

	job := fleet.NewJob(row, filament, hubSink{hub: serverHub})
	return fleet.PlaceJob(printer.Queue(), job, priority)
}

// handleAddJobToQueue accepts a multipart job submission bound to a
// specific printer.
func handleAddJobToQueue(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	file, fileName, name, favorite, tdID, filament, priority, err := readUploadForm(r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid upload")
		return
	}
	printerID, err := strconv.ParseInt(r.FormValue("printerid"), 10, 64)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid printerid")
		return
	}
	printer := fleetRegistry.FindByID(printerID)
	if printer == nil {
		jsonError(w, http.StatusInternalServerError, "printer not registered")
		return
	}
	if err := insertAndEnqueue(file, fileName, name, printer, favorite, tdID, filament, priority); err != nil {
		serverLogger.Error("Failed to enqueue job", "printer_id", printerID, "error", err)
		jsonError(w, http.StatusInternalServerError, "Failed to add job to queue")
		return
	}
	jsonSuccess(w, "Job added to printer queue.")
}

// handleAutoQueue accepts a job submission without a printer; the printer
// with the smallest queue wins.
func handleAutoQueue(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	file, fileName, name, favorite, tdID, filament, priority, err := readUploadForm(r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid upload")
		return
	}
	printerID, err := fleetRegistry.SmallestQueue()
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "no printers registered")
		return
	}
	printer := fleetRegistry.FindByID(printerID)
	if printer == nil {
		jsonError(w, http.StatusInternalServerError, "printer not registered")
		return
	}
	if err := insertAndEnqueue(file, fileName, name, printer, favorite, tdID, filament, priority); err != nil {
		serverLogger.Error("Failed to auto-queue job", "printer_id", printerID, "error", err)
		jsonError(w, http.StatusInternalServerError, "Failed to add job to queue")
		return
	}
	jsonSuccess(w, "Job added to printer queue.")
}

// rerunJob duplicates a stored job onto a live queue.
func rerunJob(printerID, jobID int64, front bool) error {
	row, err := serverStore.GetJob(jobID)
	if err != nil {
		return err
	}
	printer := fleetRegistry.FindByID(printerID)
	if printer == nil {
		return errors.New("printer not registered")
	}
	fresh := &storage.JobRow{
		File:             row.File,
		Name:             row.Name,
		Status:           fleet.JobInQueue,
		PrinterID:        printerID,
		PrinterName:      printer.Name(),
		TdID:             row.TdID,
		FileNameOriginal: row.FileNameOriginal,
		Favorite:         row.Favorite,
	}
	id, err := serverStore.InsertJob(fresh)
	if err != nil {
		return err
	}
	fresh.ID = id
	fresh.Date = time.Now()

	job := fleet.NewJob(fresh, "", hubSink{hub: serverHub})
	return fleet.PlaceJob(printer.Queue(), job, front)
}

// handleRerunJob duplicates an old job to the back of a printer's queue.
func handleRerunJob(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var body struct {
		PrinterPK int64 `json:"printerpk"`
		JobPK     int64 `json:"jobpk"`
	}
	if err := decodeJSON(r, &body); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := rerunJob(body.PrinterPK, body.JobPK, false); err != nil {
		serverLogger.Error("Failed to rerun job", "job_id", body.JobPK, "error", err)
		jsonError(w, http.StatusInternalServerError, "Failed to rerun job")
		return
	}
	jsonSuccess(w, "Job added to printer queue.")
}

// cancelJob cancels one job: a printing job ends by flipping its printer to
// complete (the streamer notices at the next checkpoint); a queued job is
// simply removed.
func cancelJob(jobID int64) error {
	row, err := serverStore.GetJob(jobID)
	if err != nil {
		return err
	}
	printer := fleetRegistry.FindByID(row.PrinterID)
	if printer == nil {
		return errors.New("printer not registered")
	}
	queue := printer.Queue()
	inmem := queue.GetJobByID(jobID)

	if row.Status == fleet.JobPrinting {
		printer.SetStatus(fleet.StatusComplete)
	} else {
		queue.DeleteJob(jobID)
	}
	if inmem != nil {
		inmem.SetStatus(fleet.JobCancelled)
	}
	if err := serverStore.UpdateJobStatus(jobID, fleet.JobCancelled); err != nil {
		return err
	}
	serverHub.Broadcast(wsEvent(fleet.EventJobStatusUpdate, map[string]interface{}{
		"job_id": jobID, "status": fleet.JobCancelled,
	}))
	return nil
}

// handleCancelFromQueue cancels a batch of jobs (or a single one).
func handleCancelFromQueue(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var body struct {
		JobArr []int64 `json:"jobarr"`
		JobPK  int64   `json:"jobpk"`
	}
	if err := decodeJSON(r, &body); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	jobs := body.JobArr
	if len(jobs) == 0 && body.JobPK != 0 {
		jobs = []int64{body.JobPK}
	}
	for _, jobID := range jobs {
		if err := cancelJob(jobID); err != nil {
			serverLogger.Error("Failed to cancel job", "job_id", jobID, "error", err)
			jsonError(w, http.StatusInternalServerError, "Failed to cancel job")
			return
		}
	}
	jsonSuccess(w, "Job removed from printer queue.")
}

// handleReleaseJob clears a finished print from the printer: key 1 clears,
// key 2 clears and reruns at the front, key 3 marks the job and printer
// failed with the job's comments as the error.
func handleReleaseJob(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var body struct {
		JobPK     int64 `json:"jobpk"`
		Key       int   `json:"key"`
		PrinterID int64 `json:"printerid"`
	}
	if err := decodeJSON(r, &body); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	row, err := serverStore.GetJob(body.JobPK)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "job not found")
		return
	}
	printer := fleetRegistry.FindByID(row.PrinterID)
	if printer == nil {
		jsonError(w, http.StatusInternalServerError, "printer not registered")
		return
	}
	printer.ClearError()
	printer.Queue().DeleteJob(body.JobPK)
	currentStatus := printer.Status()

	switch body.Key {
	case 3:
		if err := serverStore.UpdateJobStatus(body.JobPK, fleet.JobError); err != nil {
			jsonError(w, http.StatusInternalServerError, "Failed to update job status")
			return
		}
		serverHub.Broadcast(wsEvent(fleet.EventJobStatusUpdate, map[string]interface{}{
			"job_id": body.JobPK, "status": fleet.JobError,
		}))
		printer.SetErrorMessage(row.Comments)
	case 2:
		if err := rerunJob(body.PrinterID, body.JobPK, true); err != nil {
			serverLogger.Error("Failed to rerun job on release", "job_id", body.JobPK, "error", err)
			jsonError(w, http.StatusInternalServerError, "Failed to rerun job")
			return
		}
		if currentStatus != fleet.StatusOffline {
			printer.SetStatus(fleet.StatusReady)
		}
	case 1:
		if currentStatus != fleet.StatusOffline {
			printer.SetStatus(fleet.StatusReady)
		}
	}
	jsonSuccess(w, "Job released successfully.")
}

// handleBumpJob nudges a job within its queue. Kept for UI parity; the
// reorder route supersedes it.
func handleBumpJob(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var body struct {
		PrinterID int64 `json:"printerid"`
		JobID     int64 `json:"jobid"`
		Choice    int   `json:"choice"`
	}
	if err := decodeJSON(r, &body); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	printer := fleetRegistry.FindByID(body.PrinterID)
	if printer == nil {
		jsonError(w, http.StatusInternalServerError, "printer not registered")
		return
	}
	queue := printer.Queue()
	switch body.Choice {
	case 1:
		queue.Bump(true, body.JobID)
	case 2:
		queue.Bump(false, body.JobID)
	case 3:
		queue.BumpExtreme(true, body.JobID)
	case 4:
		queue.BumpExtreme(false, body.JobID)
	default:
		jsonError(w, http.StatusInternalServerError, "invalid choice")
		return
	}
	jsonSuccess(w, "Job bumped in printer queue.")
}

// handleMoveJob reorders a printer's queue to match the UI.
func handleMoveJob(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var body struct {
		PrinterID int64   `json:"printerid"`
		Arr       []int64 `json:"arr"`
	}
	if err := decodeJSON(r, &body); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	printer := fleetRegistry.FindByID(body.PrinterID)
	if printer == nil {
		jsonError(w, http.StatusInternalServerError, "printer not registered")
		return
	}
	printer.Queue().Reorder(body.Arr)
	jsonSuccess(w, "Queue updated successfully.")
}

// handleUpdateJobStatus rewrites a job's status in memory and in the
// store. The job stays queued.
func handleUpdateJobStatus(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var body struct {
		JobID  int64  `json:"jobid"`
		Status string `json:"status"`
	}
	if err := decodeJSON(r, &body); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := updateJobStatusEverywhere(body.JobID, body.Status, false); err != nil {
		serverLogger.Error("Failed to update job status", "job_id", body.JobID, "error", err)
		jsonError(w, http.StatusInternalServerError, "Failed to update job status")
		return
	}
	jsonSuccess(w, "Job status updated successfully.")
}

// handleAssignToError marks a job failed and removes it from its queue.
func handleAssignToError(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var body struct {
		JobID  int64  `json:"jobid"`
		Status string `json:"status"`
	}
	if err := decodeJSON(r, &body); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := updateJobStatusEverywhere(body.JobID, body.Status, true); err != nil {
		serverLogger.Error("Failed to assign job to error", "job_id", body.JobID, "error", err)
		jsonError(w, http.StatusInternalServerError, "Failed to update job status")
		return
	}
	jsonSuccess(w, "Job status updated successfully.")
}

// updateJobStatusEverywhere rewrites the stored status, mirrors it onto the
// queued runtime job when present, and optionally evicts the job from its
// queue.
func updateJobStatusEverywhere(jobID int64, status string, evict bool) error {
	if err := serverStore.UpdateJobStatus(jobID, status); err != nil {
		return err
	}
	serverHub.Broadcast(wsEvent(fleet.EventJobStatusUpdate, map[string]interface{}{
		"job_id": jobID, "status": status,
	}))
	row, err := serverStore.GetJob(jobID)
	if err != nil {
		return err
	}
	if printer := fleetRegistry.FindByID(row.PrinterID); printer != nil {
		if inmem := printer.Queue().GetJobByID(jobID); inmem != nil {
			inmem.SetStatus(status)
		}
		if evict {
			printer.Queue().DeleteJob(jobID)
		}
	}
	return nil
}

// handleDeleteJob removes a job from the store and from its queue if still
// there.
func handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var body struct {
		JobID int64 `json:"jobid"`
	}
	if err := decodeJSON(r, &body); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	row, err := serverStore.GetJob(body.JobID)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "job not found")
		return
	}
	if row.PrinterID != 0 {
		if printer := fleetRegistry.FindByID(row.PrinterID); printer != nil {
			printer.Queue().DeleteJob(body.JobID)
		}
	}
	if err := serverStore.DeleteJob(body.JobID); err != nil {
		serverLogger.Error("Failed to delete job", "job_id", body.JobID, "error", err)
		jsonError(w, http.StatusInternalServerError, "Failed to delete job")
		return
	}
	jsonSuccess(w, "Job deleted successfully.")
}

// handleSetPrinterStatus applies a user status change to a live printer.
func handleSetPrinterStatus(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var body struct {
		PrinterID int64  `json:"printerid"`
		Status    string `json:"status"`
	}
	if err := decodeJSON(r, &body); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	printer := fleetRegistry.FindByID(body.PrinterID)
	if printer == nil {
		jsonError(w, http.StatusInternalServerError, "printer not registered")
		return
	}
	printer.SetStatus(body.Status)
	jsonSuccess(w, "Status updated successfully.")
}

// handleGetFile returns the decompressed G-code of a stored job.
func handleGetFile(w http.ResponseWriter, r *http.Request) {
	jobID, err := strconv.ParseInt(r.URL.Query().Get("jobid"), 10, 64)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid jobid")
		return
	}
	row, err := serverStore.GetJob(jobID)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "job not found")
		return
	}
	data, err := storage.Decompress(row.File)
	if err != nil {
		serverLogger.Error("Failed to decompress job file", "job_id", jobID, "error", err)
		jsonError(w, http.StatusInternalServerError, "Failed to read job file")
		return
	}
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"file":      string(data),
		"file_name": row.FileNameOriginal,
	})
}

// handleNullifyJobs detaches all jobs from a deregistered printer.
func handleNullifyJobs(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var body struct {
		PrinterID int64 `json:"printerid"`
	}
	if err := decodeJSON(r, &body); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := serverStore.NullifyPrinterID(body.PrinterID); err != nil {
		serverLogger.Error("Failed to nullify jobs", "printer_id", body.PrinterID, "error", err)
		jsonError(w, http.StatusInternalServerError, "Failed to nullify printer ID")
		return
	}
	jsonSuccess(w, "Printer ID nullified successfully.")
}

// handleClearSpace drops stored files older than six months, favorites
// excepted.
func handleClearSpace(w http.ResponseWriter, r *http.Request) {
	if err := serverStore.ClearSpace(); err != nil {
		serverLogger.Error("Failed to clear space", "error", err)
		jsonError(w, http.StatusInternalServerError, "Failed to clear space")
		return
	}
	jsonSuccess(w, "Space cleared successfully.")
}

// handleGetFavoriteJobs returns all favorited jobs.
func handleGetFavoriteJobs(w http.ResponseWriter, r *http.Request) {
	items, err := serverStore.FavoriteJobs()
	if err != nil {
		serverLogger.Error("Failed to list favorite jobs", "error", err)
		jsonError(w, http.StatusInternalServerError, "Failed to retrieve favorite jobs")
		return
	}
	list := make([]map[string]interface{}, 0, len(items))
	for _, it := range items {
		list = append(list, map[string]interface{}{
			"id":                 it.ID,
			"name":               it.Name,
			"status":             it.Status,
			"date":               it.Date.Format("Mon, 02 Jan 2006 15:04:05"),
			"printer":            it.Printer,
			"file_name_original": it.FileNameOriginal,
			"favorite":           it.Favorite,
		})
	}
	jsonResponse(w, http.StatusOK, list)
}

// handleFavoriteJob toggles a job's favorite flag.
func handleFavoriteJob(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var body struct {
		JobID    int64 `json:"jobid"`
		Favorite bool  `json:"favorite"`
	}
	if err := decodeJSON(r, &body); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := serverStore.SetJobFavorite(body.JobID, body.Favorite); err != nil {
		serverLogger.Error("Failed to set favorite", "job_id", body.JobID, "error", err)
		jsonError(w, http.StatusInternalServerError, "Failed to update favorite status")
		return
	}
	jsonSuccess(w, "Favorite status updated successfully.")
}

// handleAssignIssue attaches an issue label to a job.
func handleAssignIssue(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var body struct {
		JobID   int64 `json:"jobid"`
		IssueID int64 `json:"issueid"`
	}
	if err := decodeJSON(r, &body); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := serverStore.SetJobIssue(body.JobID, body.IssueID); err != nil {
		serverLogger.Error("Failed to assign issue", "job_id", body.JobID, "error", err)
		jsonError(w, http.StatusInternalServerError, "Failed to assign issue")
		return
	}
	jsonSuccess(w, "Issue assigned successfully.")
}

// handleRemoveIssue detaches the issue label from a job.
func handleRemoveIssue(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var body struct {
		JobID int64 `json:"jobid"`
	}
	if err := decodeJSON(r, &body); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := serverStore.ClearJobIssue(body.JobID); err != nil {
		serverLogger.Error("Failed to remove issue", "job_id", body.JobID, "error", err)
		jsonError(w, http.StatusInternalServerError, "Failed to remove issue")
		return
	}
	jsonSuccess(w, "Issue removed successfully.")
}

// handleStartPrint releases a queued job; the waiting worker picks it up on
// its next poll.
func handleStartPrint(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var body struct {
		PrinterID int64 `json:"printerid"`
		JobID     int64 `json:"jobid"`
	}
	if err := decodeJSON(r, &body); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	printer := fleetRegistry.FindByID(body.PrinterID)
	if printer == nil {
		jsonError(w, http.StatusInternalServerError, "printer not registered")
		return
	}
	job := printer.Queue().GetJobByID(body.JobID)
	if job == nil {
		jsonError(w, http.StatusInternalServerError, "job not queued")
		return
	}
	job.SetReleased(1)
	jsonSuccess(w, "Job started successfully.")
}

// handleSaveComment attaches user comments to a job.
func handleSaveComment(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var body struct {
		JobID   int64  `json:"jobid"`
		Comment string `json:"comment"`
	}
	if err := decodeJSON(r, &body); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := serverStore.SetJobComments(body.JobID, body.Comment); err != nil {
		serverLogger.Error("Failed to save comment", "job_id", body.JobID, "error", err)
		jsonError(w, http.StatusInternalServerError, "Failed to save comment")
		return
	}
	jsonSuccess(w, "Comments added successfully.")
}

// handleDownloadCSV exports the selected jobs (or all of them) as CSV.
func handleDownloadCSV(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var body struct {
		AllJobs int     `json:"allJobs"`
		JobIDs  []int64 `json:"jobIds"`
	}
	if err := decodeJSON(r, &body); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ids := body.JobIDs
	if body.AllJobs == 1 {
		ids = nil
	}
	path, err := serverStore.ExportCSV(serverConfig.TempCSVDir(), ids)
	if err != nil {
		serverLogger.Error("Failed to export CSV", "error", err)
		jsonError(w, http.StatusInternalServerError, "Failed to export CSV")
		return
	}
	w.Header().Set("Content-Disposition", "attachment")
	http.ServeFile(w, r, path)
}

// handleRemoveCSV empties the CSV scratch directory after the download.
func handleRemoveCSV(w http.ResponseWriter, r *http.Request) {
	dir := serverConfig.TempCSVDir()
	if err := recreateDir(dir); err != nil {
		serverLogger.Error("Failed to reset CSV dir", "dir", dir, "error", err)
		jsonError(w, http.StatusInternalServerError, "Failed to remove CSV file")
		return
	}
	jsonSuccess(w, "CSV file removed successfully.")
}

// handleRefetchTimeData returns the clock of the job at the head of a
// printer's queue.
func handleRefetchTimeData(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var body struct {
		JobID     int64 `json:"jobid"`
		PrinterID int64 `json:"printerid"`
	}
	if err := decodeJSON(r, &body); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	printer := fleetRegistry.FindByID(body.PrinterID)
	if printer == nil {
		jsonError(w, http.StatusInternalServerError, "printer not registered")
		return
	}
	job := printer.Queue().GetNext()
	if job == nil {
		jsonError(w, http.StatusInternalServerError, "queue is empty")
		return
	}
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"total":     job.TotalSeconds(),
		"eta":       isoOrNull(job.Eta()),
		"timestart": isoOrNull(job.StartedAt()),
		"pause":     isoOrNull(job.PausedAt()),
	})
}

func isoOrNull(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339)
}
