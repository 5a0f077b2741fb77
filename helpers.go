package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"printvista/server/ws"
)

// jsonResponse writes v as a JSON body with the given status code.
func jsonResponse(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil && serverLogger != nil {
		serverLogger.Error("Failed to encode response", "error", err)
	}
}

// jsonError writes the standard error shape.
func jsonError(w http.ResponseWriter, code int, msg string) {
	jsonResponse(w, code, map[string]interface{}{"error": msg})
}

// jsonSuccess writes the standard success shape.
func jsonSuccess(w http.ResponseWriter, msg string) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{"success": true, "message": msg})
}

// decodeJSON parses the request body into v.
func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

// requirePost rejects non-POST requests.
func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		jsonError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}

// parseIDList decodes a JSON array of integer ids from a query parameter.
func parseIDList(raw string) []int64 {
	if raw == "" {
		return nil
	}
	var ids []int64
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil
	}
	return ids
}

// wsEvent wraps an event payload in the websocket message shape.
func wsEvent(event string, data map[string]interface{}) ws.Message {
	return ws.Message{Type: event, Data: data}
}

// recreateDir empties a scratch directory.
func recreateDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}
