package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MeKo-Tech/emeter/internal/jobs"
	"github.com/MeKo-Tech/emeter/internal/version"
	"github.com/gorilla/mux"
)

// Client-facing error messages.
const (
	msgInternal      = "Some error occurred."
	msgNoFile        = "No file provided."
	msgInvalidForm   = "Failed to parse form data."
	msgInvalidImage  = "Invalid image."
	msgTooLarge      = "File too large."
	msgUnavailable   = "Service unavailable, try again later."
	uploadFormField  = "file"
	multipartMemory  = 8 << 20
	contentTypeJSON  = "application/json"
	contentTypeImage = "image/jpeg"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// ValuesResponse carries the readings of a completed job.
type ValuesResponse struct {
	ID     string   `json:"uuid"`
	Values []string `json:"values"`
}

// HealthResponse reports liveness and job counts.
type HealthResponse struct {
	Status  string     `json:"status"`
	Version string     `json:"version,omitempty"`
	Time    string     `json:"time"`
	Uptime  string     `json:"uptime"`
	Jobs    jobs.Stats `json:"jobs"`
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: version.Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
		Uptime:  time.Since(s.started).Round(time.Second).String(),
		Jobs:    s.jobs.Stats(),
	})
}

// uploadHandler accepts a multipart image in the "file" field and queues it.
func (s *Server) uploadHandler(w http.ResponseWriter, r *http.Request) {
	limit := s.maxUploadMB << 20
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if isTooLarge(err) {
			s.writeErrorResponse(w, msgTooLarge, http.StatusRequestEntityTooLarge)
			return
		}
		s.writeErrorResponse(w, msgInvalidForm, http.StatusBadRequest)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile(uploadFormField)
	if err != nil {
		s.writeErrorResponse(w, msgNoFile, http.StatusBadRequest)
		return
	}
	defer func() { _ = file.Close() }()

	if header.Size > limit {
		s.writeErrorResponse(w, msgTooLarge, http.StatusRequestEntityTooLarge)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, err)
		return
	}
	uploadSizeBytes.Observe(float64(len(data)))

	res, err := s.jobs.Upload(r.Context(), data)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Debug("Upload accepted", "job_id", res.ID, "filename", header.Filename)
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	res, err := s.jobs.CheckStatus(mux.Vars(r)["uuid"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// resultHandler streams the annotated JPEG of a completed job.
func (s *Server) resultHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["uuid"]
	path, err := s.jobs.GetResult(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	f, err := os.Open(path) //nolint:gosec // G304: path is built by the job service
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// swept between lookup and open
			s.writeError(w, &jobs.NotFoundError{ID: id, Message: jobs.MsgResultNotReady})
			return
		}
		s.writeError(w, err)
		return
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentTypeImage)
	w.Header().Set("Content-Disposition", `inline; filename="`+filepath.Base(path)+`"`)
	http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)
}

func (s *Server) valuesHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["uuid"]
	values, err := s.jobs.GetValues(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if values == nil {
		values = []string{}
	}
	s.writeJSON(w, http.StatusOK, ValuesResponse{ID: id, Values: values})
}

func (s *Server) jobHandler(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Job(mux.Vars(r)["uuid"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) indexHandler(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, filepath.Join(s.staticDir, "index.html"))
}

func isTooLarge(err error) bool {
	var tooLarge *http.MaxBytesError
	return errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large")
}

// writeError maps service errors onto HTTP replies. Only unexpected errors
// are logged; their detail never reaches the client.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var notFound *jobs.NotFoundError
	switch {
	case errors.As(err, &notFound):
		s.writeErrorResponse(w, notFound.Message, http.StatusNotFound)
	case errors.Is(err, jobs.ErrNotFound):
		s.writeErrorResponse(w, jobs.MsgImageNotFound, http.StatusNotFound)
	case errors.Is(err, jobs.ErrInvalidImage):
		s.writeErrorResponse(w, msgInvalidImage, http.StatusBadRequest)
	case errors.Is(err, jobs.ErrQueueFull), errors.Is(err, jobs.ErrShuttingDown):
		s.writeErrorResponse(w, msgUnavailable, http.StatusServiceUnavailable)
	default:
		s.logger.Error("Request failed", "error", err)
		s.writeErrorResponse(w, msgInternal, http.StatusInternalServerError)
	}
}

// writeErrorResponse writes a JSON error response.
func (s *Server) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSON(w, statusCode, ErrorResponse{Detail: message})
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// headers are gone, nothing left to tell the client
		s.logger.Error("Failed to encode response", "error", err)
	}
}
