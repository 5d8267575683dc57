package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/zombor/inventory-tracker/internal/capture"
	"github.com/zombor/inventory-tracker/internal/inventory"
	"github.com/zombor/inventory-tracker/internal/parsing"
	"github.com/zombor/inventory-tracker/internal/recognition"
	"github.com/zombor/inventory-tracker/internal/review"
	"github.com/zombor/inventory-tracker/internal/scan"
)

// maxUploadSize allows high-resolution phone photos
const maxUploadSize = int64(50 << 20) // 50MB

const noItemsMessage = "no items found; adjust crop and retry"

// writeJSON writes v as a JSON response
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError writes {"error": message}. Service unavailable responses are
// marked retryable.
func writeError(w http.ResponseWriter, code int, message string) {
	body := map[string]any{"error": message}
	if code == http.StatusServiceUnavailable {
		body["retry"] = true
	}
	writeJSON(w, code, body)
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, capture.ErrUnsupportedFormat),
		errors.Is(err, capture.ErrInvalidRegion),
		errors.Is(err, review.ErrIndexOutOfRange),
		errors.Is(err, review.ErrUnknownField),
		errors.Is(err, inventory.ErrInvalidItem):
		return http.StatusBadRequest
	case errors.Is(err, scan.ErrScanNotFound), errors.Is(err, scan.ErrNoArchive):
		return http.StatusNotFound
	case errors.Is(err, scan.ErrInvalidTransition), errors.Is(err, recognition.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, parsing.ErrNoItemsFound):
		return http.StatusUnprocessableEntity
	case errors.Is(err, inventory.ErrQuotaExceeded):
		return http.StatusForbidden
	case errors.Is(err, recognition.ErrEngineUnavailable), errors.Is(err, recognition.ErrRecognitionFailed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail logs unexpected errors and writes the mapped status
func fail(w http.ResponseWriter, err error, msg string) {
	code := statusFor(err)
	switch code {
	case http.StatusInternalServerError:
		slog.Error(msg, "error", err)
		writeError(w, code, "Internal server error")
		return
	case http.StatusUnprocessableEntity:
		writeError(w, code, noItemsMessage)
		return
	}
	writeError(w, code, err.Error())
}

// flow looks up the request's scan for the resolved owner
func (s *Server) flow(w http.ResponseWriter, r *http.Request) (*scan.Flow, bool) {
	f, err := s.scans.Get(ownerKey(r), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Scan not found")
		return nil, false
	}
	return f, true
}

// handleCreateScan starts a scan from an uploaded receipt image
func (s *Server) handleCreateScan(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		if err.Error() == "http: request body too large" {
			errorMsg = "File is too large. Maximum size is 50MB. Please compress or resize your image."
		}
		writeError(w, http.StatusBadRequest, errorMsg)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		writeError(w, http.StatusBadRequest, "No file was selected. Please choose a file to upload.")
		return
	}
	defer file.Close()

	if header.Size > maxUploadSize {
		writeError(w, http.StatusBadRequest, "File is too large. Maximum size is 50MB. Please compress or resize your image.")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, http.StatusInternalServerError, "Error reading file. Please try again.")
		return
	}

	owner := ownerKey(r)
	f := s.scans.Start(owner)
	if err := f.Capture(data, header.Filename); err != nil {
		slog.Warn("Error capturing receipt", "filename", header.Filename, "error", err)
		if _, derr := s.scans.Discard(owner, f.ID()); derr != nil {
			slog.Error("Error discarding scan", "scan", f.ID(), "error", derr)
		}
		fail(w, err, "Error capturing receipt")
		return
	}

	writeJSON(w, http.StatusCreated, f.Snapshot())
}

// handleSetRegion sets the crop region from a rectangle drawn on the
// displayed image
func (s *Server) handleSetRegion(w http.ResponseWriter, r *http.Request) {
	f, ok := s.flow(w, r)
	if !ok {
		return
	}

	var req struct {
		X             float64 `json:"x"`
		Y             float64 `json:"y"`
		Width         float64 `json:"width"`
		Height        float64 `json:"height"`
		DisplayWidth  float64 `json:"display_width"`
		DisplayHeight float64 `json:"display_height"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	displayed := capture.Rect{X: req.X, Y: req.Y, Width: req.Width, Height: req.Height}
	dims := capture.Dimensions{Width: req.DisplayWidth, Height: req.DisplayHeight}
	if _, err := f.Crop(displayed, dims); err != nil {
		fail(w, err, "Error setting crop region")
		return
	}

	writeJSON(w, http.StatusOK, f.Snapshot())
}

// handleRecognize runs OCR and parsing. It blocks until recognition ends;
// a cancelled scan is reported with its snapshot.
func (s *Server) handleRecognize(w http.ResponseWriter, r *http.Request) {
	f, ok := s.flow(w, r)
	if !ok {
		return
	}

	if err := f.Recognize(r.Context()); err != nil {
		if errors.Is(err, recognition.ErrCancelled) {
			writeJSON(w, http.StatusOK, f.Snapshot())
			return
		}
		fail(w, err, "Error recognizing receipt")
		return
	}

	writeJSON(w, http.StatusOK, f.Snapshot())
}

// handleGetScan returns the scan's current state
func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	f, ok := s.flow(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, f.Snapshot())
}

// itemIndex reads the {index} path value
func itemIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid item index")
		return 0, false
	}
	return index, true
}

// handleEditItem changes one field of a staged item
func (s *Server) handleEditItem(w http.ResponseWriter, r *http.Request) {
	f, ok := s.flow(w, r)
	if !ok {
		return
	}
	index, ok := itemIndex(w, r)
	if !ok {
		return
	}

	var req struct {
		Field string `json:"field"`
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := f.EditItem(index, req.Field, req.Value); err != nil {
		fail(w, err, "Error editing item")
		return
	}

	writeJSON(w, http.StatusOK, f.Snapshot())
}

// handleRemoveItem drops a staged item
func (s *Server) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	f, ok := s.flow(w, r)
	if !ok {
		return
	}
	index, ok := itemIndex(w, r)
	if !ok {
		return
	}

	if err := f.RemoveItem(index); err != nil {
		fail(w, err, "Error removing item")
		return
	}

	writeJSON(w, http.StatusOK, f.Snapshot())
}

// handleCommit stores the staged items and reports per-item outcomes
func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	f, ok := s.flow(w, r)
	if !ok {
		return
	}

	result, err := f.Commit(r.Context())
	if err != nil {
		fail(w, err, "Error committing items")
		return
	}

	summary := result.Summary()
	writeJSON(w, http.StatusOK, map[string]any{
		"result":  result,
		"summary": summary,
		"message": summary.String(),
		"scan":    f.Snapshot(),
	})
}

// handleCancelScan cancels the scan and forgets it
func (s *Server) handleCancelScan(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	state, err := s.scans.Discard(ownerKey(r), id)
	if err != nil {
		fail(w, err, "Error cancelling scan")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":    id,
		"state": state,
	})
}

// handleGetImage returns the archived receipt image of a completed scan
func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	f, ok := s.flow(w, r)
	if !ok {
		return
	}

	data, err := f.ArchivedImage()
	if err != nil {
		if errors.Is(err, scan.ErrNoArchive) {
			writeError(w, http.StatusNotFound, "No archived image")
			return
		}
		fail(w, err, "Error reading archived image")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Write(data)
}

// handleListItems returns the owner's inventory
func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.ListItems(r.Context(), ownerKey(r))
	if err != nil {
		slog.Error("Error listing items", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	// Ensure we always return an array, not nil
	if items == nil {
		items = []*inventory.Item{}
	}

	writeJSON(w, http.StatusOK, items)
}

// handleAddItem adds one manually entered item through the quota-gated
// committer
func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var candidate inventory.Candidate
	if err := json.NewDecoder(r.Body).Decode(&candidate); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := s.committer.Commit(r.Context(), []inventory.Candidate{candidate}, ownerKey(r))
	if err != nil {
		fail(w, err, "Error adding item")
		return
	}

	if len(result.Failed) > 0 {
		failure := result.Failed[0]
		code := statusFor(failure.Err)
		if code == http.StatusInternalServerError {
			slog.Error("Error adding item", "error", failure.Err)
		}
		writeError(w, code, failure.Reason)
		return
	}

	writeJSON(w, http.StatusCreated, result.Succeeded[0].Item)
}

// handleQuota reports the owner's remaining inventory allowance
func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	remaining := inventory.Unlimited
	if s.quota != nil {
		var err error
		remaining, err = s.quota.RemainingAllowance(r.Context(), ownerKey(r), inventory.ResourceInventoryItems)
		if err != nil {
			slog.Error("Error reading quota", "error", err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"resource":  inventory.ResourceInventoryItems,
		"remaining": remaining,
	})
}
