package main

import (
	"net/http"
	"time"
)

// handleGetPrinterInfo returns every live printer with its embedded queue;
// the UI's main view renders from this snapshot plus the event stream.
func handleGetPrinterInfo(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, fleetRegistry.Snapshot())
}

// handleHardReset tears the worker down and rebuilds it with a fresh queue.
func handleHardReset(w http.ResponseWriter, r *http.Request) {
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
	if err := fleetRegistry.Reset(body.PrinterID); err != nil {
		serverLogger.Error("Hard reset failed", "printer_id", body.PrinterID, "error", err)
		jsonError(w, http.StatusInternalServerError, "Failed to reset printer worker")
		return
	}
	jsonSuccess(w, "Printer worker reset successfully")
}

// handleHardResetQueue is a hard reset that keeps the current queue.
func handleHardResetQueue(w http.ResponseWriter, r *http.Request) {
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
	if err := fleetRegistry.ResetAndRestore(body.PrinterID); err != nil {
		serverLogger.Error("Hard reset failed", "printer_id", body.PrinterID, "error", err)
		jsonError(w, http.StatusInternalServerError, "Failed to reset printer worker")
		return
	}
	jsonSuccess(w, "Printer worker reset successfully")
}

// handleRemoveWorker tears down the worker for a deregistered printer.
func handleRemoveWorker(w http.ResponseWriter, r *http.Request) {
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
	if err := fleetRegistry.Delete(body.PrinterID); err != nil {
		serverLogger.Error("Worker removal failed", "printer_id", body.PrinterID, "error", err)
		jsonError(w, http.StatusInternalServerError, "Failed to remove printer worker")
		return
	}
	jsonSuccess(w, "Printer worker removed successfully")
}

// handleEditNameInMemory renames the live printer to match a store-side
// rename.
func handleEditNameInMemory(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var body struct {
		PrinterID int64  `json:"printerid"`
		Name      string `json:"newname"`
	}
	if err := decodeJSON(r, &body); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := fleetRegistry.EditName(body.PrinterID, body.Name); err != nil {
		jsonError(w, http.StatusInternalServerError, "Failed to update printer name")
		return
	}
	jsonSuccess(w, "Printer name updated successfully")
}

// handleHealth is the liveness probe.
func handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"time":     time.Now().Format(time.RFC3339),
		"printers": len(fleetRegistry.Printers()),
		"clients":  serverHub.ClientCount(),
	})
}
