package main

import (
	"errors"
	"net/http"

	"printvista/server/fleet"
	"printvista/server/serial"
	"printvista/server/storage"
)

// handleGetPorts lists connected serial ports that look like unregistered
// 3D printers, for the registration dropdown.
func handleGetPorts(w http.ResponseWriter, r *http.Request) {
	candidates, err := portResolver.FilterCandidates(printerDirectory{})
	if err != nil {
		serverLogger.Error("Port enumeration failed", "error", err)
		jsonError(w, http.StatusInternalServerError, "Failed to enumerate ports")
		return
	}
	if candidates == nil {
		candidates = []serial.PortInfo{}
	}
	jsonResponse(w, http.StatusOK, candidates)
}

// handleGetPrinters returns all registered printers from the store.
func handleGetPrinters(w http.ResponseWriter, r *http.Request) {
	printers, err := serverStore.GetPrinters()
	if err != nil {
		serverLogger.Error("Failed to list printers", "error", err)
		jsonError(w, http.StatusInternalServerError, "Failed to retrieve printers")
		return
	}
	list := make([]map[string]interface{}, 0, len(printers))
	for _, p := range printers {
		list = append(list, map[string]interface{}{
			"id":          p.ID,
			"device":      p.Device,
			"description": p.Description,
			"hwid":        p.Hwid,
			"name":        p.Name,
			"date":        p.Date.Format("Mon, 02 Jan 2006 15:04:05"),
		})
	}
	jsonResponse(w, http.StatusOK, map[string]interface{}{"printers": list})
}

// handleRegisterPrinter registers a new printer and starts its worker.
func handleRegisterPrinter(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var body struct {
		Printer struct {
			Device      string `json:"device"`
			Description string `json:"description"`
			Hwid        string `json:"hwid"`
			Name        string `json:"name"`
		} `json:"printer"`
	}
	if err := decodeJSON(r, &body); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := serverStore.CreatePrinter(body.Printer.Device, body.Printer.Description, body.Printer.Hwid, body.Printer.Name)
	if errors.Is(err, storage.ErrAlreadyRegistered) {
		jsonResponse(w, http.StatusOK, map[string]interface{}{"success": false, "message": "Printer already registered."})
		return
	}
	if err != nil {
		serverLogger.Error("Failed to register printer", "error", err)
		jsonError(w, http.StatusInternalServerError, "Failed to register printer")
		return
	}

	fleetRegistry.Create(fleet.Descriptor{
		ID:          id,
		Device:      body.Printer.Device,
		Description: body.Printer.Description,
		Hwid:        body.Printer.Hwid,
		Name:        body.Printer.Name,
	}, fleet.StatusReady)

	serverLogger.Info("Printer registered", "printer_id", id, "device", body.Printer.Device, "name", body.Printer.Name)
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"message":    "Printer successfully registered.",
		"printer_id": id,
	})
}

// handleDeletePrinter removes the printer row. The worker is torn down
// separately through /removethread.
func handleDeletePrinter(w http.ResponseWriter, r *http.Request) {
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
	if err := serverStore.DeletePrinter(body.PrinterID); err != nil {
		serverLogger.Error("Failed to delete printer", "printer_id", body.PrinterID, "error", err)
		jsonError(w, http.StatusInternalServerError, "Failed to delete printer")
		return
	}
	jsonSuccess(w, "Printer successfully deleted.")
}

// handleEditPrinterName renames the printer in the store. The live worker's
// name is updated through /editNameInThread.
func handleEditPrinterName(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var body struct {
		PrinterID int64  `json:"printerid"`
		Name      string `json:"name"`
	}
	if err := decodeJSON(r, &body); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := serverStore.UpdatePrinterName(body.PrinterID, body.Name); err != nil {
		serverLogger.Error("Failed to rename printer", "printer_id", body.PrinterID, "error", err)
		jsonError(w, http.StatusInternalServerError, "Failed to update printer name")
		return
	}
	jsonSuccess(w, "Printer name successfully updated.")
}

// handleDiagnosePrinter reports whether a device path exists and which
// registered printer it maps to.
func handleDiagnosePrinter(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var body struct {
		Device string `json:"device"`
	}
	if err := decodeJSON(r, &body); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	diagnosis, err := portResolver.Diagnose(printerDirectory{}, body.Device, func(id int64) string {
		if row, err := serverStore.GetPrinter(id); err == nil {
			return row.Name
		}
		return ""
	})
	if err != nil {
		serverLogger.Error("Diagnose failed", "device", body.Device, "error", err)
		jsonError(w, http.StatusInternalServerError, "Failed to diagnose printer")
		return
	}
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"message":        "Printer successfully diagnosed.",
		"diagnoseString": diagnosis,
	})
}

// handleMoveHead homes the printer on the given port so the operator can
// identify the physical machine.
func handleMoveHead(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var body struct {
		Port string `json:"port"`
	}
	if err := decodeJSON(r, &body); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := serial.MoveHead(body.Port); err != nil {
		serverLogger.Warn("Move head failed", "device", body.Port, "error", err)
		jsonResponse(w, http.StatusOK, map[string]interface{}{"success": false, "message": "Head move unsuccessful."})
		return
	}
	jsonSuccess(w, "Head move successful.")
}

// handleMovePrinterList reorders the registry to match the UI.
func handleMovePrinterList(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var body struct {
		PrinterIDs []int64 `json:"printersIds"`
	}
	if err := decodeJSON(r, &body); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	fleetRegistry.Reorder(body.PrinterIDs)
	jsonSuccess(w, "Printer list successfully updated.")
}

// handleRepairPorts re-points every registered printer whose hardware id is
// found on a different system port.
func handleRepairPorts(w http.ResponseWriter, r *http.Request) {
	if err := portResolver.Repair(printerDirectory{}); err != nil {
		serverLogger.Error("Port repair failed", "error", err)
		jsonError(w, http.StatusInternalServerError, "Failed to repair ports")
		return
	}
	jsonSuccess(w, "Printer port(s) successfully updated.")
}
