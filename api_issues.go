package main

import (
	"net/http"
)

// handleGetIssues lists the user-defined issue labels.
func handleGetIssues(w http.ResponseWriter, r *http.Request) {
	issues, err := serverStore.Issues()
	if err != nil {
		serverLogger.Error("Failed to list issues", "error", err)
		jsonError(w, http.StatusInternalServerError, "Failed to retrieve issues")
		return
	}
	jsonResponse(w, http.StatusOK, issues)
}

// handleCreateIssue adds a new issue label.
func handleCreateIssue(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var body struct {
		Issue string `json:"issue"`
	}
	if err := decodeJSON(r, &body); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id, err := serverStore.CreateIssue(body.Issue)
	if err != nil {
		serverLogger.Error("Failed to create issue", "error", err)
		jsonError(w, http.StatusInternalServerError, "Failed to create issue")
		return
	}
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Issue created successfully.",
		"id":      id,
	})
}

// handleDeleteIssue removes an issue label.
func handleDeleteIssue(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var body struct {
		IssueID int64 `json:"issueid"`
	}
	if err := decodeJSON(r, &body); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := serverStore.DeleteIssue(body.IssueID); err != nil {
		serverLogger.Error("Failed to delete issue", "issue_id", body.IssueID, "error", err)
		jsonError(w, http.StatusInternalServerError, "Failed to delete issue")
		return
	}
	jsonSuccess(w, "Issue deleted successfully.")
}

// handleEditIssue rewrites an issue label.
func handleEditIssue(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var body struct {
		IssueID  int64  `json:"issueid"`
		IssueNew string `json:"issuenew"`
	}
	if err := decodeJSON(r, &body); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := serverStore.EditIssue(body.IssueID, body.IssueNew); err != nil {
		serverLogger.Error("Failed to edit issue", "issue_id", body.IssueID, "error", err)
		jsonError(w, http.StatusInternalServerError, "Failed to edit issue")
		return
	}
	jsonSuccess(w, "Issue updated successfully.")
}
