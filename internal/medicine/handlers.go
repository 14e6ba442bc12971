package medicine

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zombor/medtrack/internal/expiry"
)

const maxUploadSize = int64(20 << 20) // 20MB, enough for full resolution phone photos

// medicineView is a medicine with its status at request time
type medicineView struct {
	*Medicine
	Status expiry.Status `json:"status"`
}

type createMedicineRequest struct {
	Name       string `json:"name"`
	Company    string `json:"company"`
	ExpiryDate string `json:"expiry_date"`
	Notes      string `json:"notes"`
	ImageURI   string `json:"image_uri"`
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

// writeStoreError maps a record store write error to a status code
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNameRequired):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrDuplicateID):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrStorageUnavailable):
		slog.Error("Storage unavailable", "error", err)
		writeError(w, "Storage unavailable, please retry", http.StatusServiceUnavailable)
	default:
		slog.Error("Unexpected store error", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
	}
}

// validExpiry accepts an empty date (unknown) or a strict MM/YYYY one
func validExpiry(w http.ResponseWriter, text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return true
	}
	if _, err := expiry.ParseStrict(text); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) view(m *Medicine) medicineView {
	return medicineView{Medicine: m, Status: s.service.Status(m)}
}

// handleListMedicines returns all medicines with their status
func (s *Server) handleListMedicines(w http.ResponseWriter, r *http.Request) {
	medicines := s.service.List()
	views := make([]medicineView, 0, len(medicines))
	for _, m := range medicines {
		views = append(views, s.view(m))
	}
	writeJSON(w, http.StatusOK, views)
}

// handleCreateMedicine adds a medicine and schedules its reminder
func (s *Server) handleCreateMedicine(w http.ResponseWriter, r *http.Request) {
	var req createMedicineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if !validExpiry(w, req.ExpiryDate) {
		return
	}

	m := &Medicine{
		Name:       req.Name,
		Company:    req.Company,
		ExpiryDate: req.ExpiryDate,
		Notes:      req.Notes,
		ImageURI:   req.ImageURI,
	}
	if _, err := s.service.Add(m); err != nil {
		writeStoreError(w, err)
		return
	}

	s.reminders.Schedule(r.Context(), m)
	writeJSON(w, http.StatusCreated, s.view(m))
}

// handleGetMedicine returns a single medicine
func (s *Server) handleGetMedicine(w http.ResponseWriter, r *http.Request) {
	m := s.service.Get(r.PathValue("id"))
	if m == nil {
		writeError(w, "Medicine not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.view(m))
}

// handleUpdateMedicine merges the request into a medicine and reschedules
// its reminder
func (s *Server) handleUpdateMedicine(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var patch Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if patch.ExpiryDate != nil && !validExpiry(w, *patch.ExpiryDate) {
		return
	}

	found, err := s.service.Update(id, patch)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !found {
		writeError(w, "Medicine not found", http.StatusNotFound)
		return
	}

	s.reminders.Cancel(r.Context(), id)
	m := s.service.Get(id)
	if m == nil {
		writeError(w, "Medicine not found", http.StatusNotFound)
		return
	}
	s.reminders.Schedule(r.Context(), m)
	writeJSON(w, http.StatusOK, s.view(m))
}

// handleDeleteMedicine cancels the reminder of a medicine and deletes it
func (s *Server) handleDeleteMedicine(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.reminders.Cancel(r.Context(), id)
	found, err := s.service.Delete(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !found {
		writeError(w, "Medicine not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleClearMedicines removes every medicine and its reminders
func (s *Server) handleClearMedicines(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Clear(); err != nil {
		writeStoreError(w, err)
		return
	}
	s.reminders.ReconcileAll(r.Context(), s.service.List())
	w.WriteHeader(http.StatusNoContent)
}

// handleExpiring returns medicines expiring within ?days= (default configured)
func (s *Server) handleExpiring(w http.ResponseWriter, r *http.Request) {
	days := s.expiringDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, "days must be a non-negative integer", http.StatusBadRequest)
			return
		}
		days = n
	}
	writeJSON(w, http.StatusOK, s.service.Expiring(days))
}

// handleExpired returns medicines whose expiry month has been reached
func (s *Server) handleExpired(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Expired())
}

// uploadContentType determines the content type of an uploaded photo
func uploadContentType(header string, filename string) string {
	contentType := strings.ToLower(strings.TrimSpace(header))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// handleScanLabel stores an uploaded label photo and returns a draft
func (s *Server) handleScanLabel(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, "File is too large. Maximum size is 20MB.", http.StatusRequestEntityTooLarge)
			return
		}
		writeError(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, "No file was selected. Please choose a photo of the label.", http.StatusBadRequest)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}

	draft, err := s.service.ScanLabel(header.Filename, data, uploadContentType(header.Header.Get("Content-Type"), header.Filename))
	if err != nil {
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

// handleGetImage returns the label photo of a medicine
func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetImage(r.PathValue("id"))
	if err != nil {
		writeError(w, "Image not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleListReminders returns the medicine id to reminder id table
func (s *Server) handleListReminders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.reminders.Bindings())
}

// handleReconcile resynchronizes every reminder with the stored medicines
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	s.reminders.ReconcileAll(r.Context(), s.service.List())
	writeJSON(w, http.StatusOK, s.reminders.Bindings())
}
