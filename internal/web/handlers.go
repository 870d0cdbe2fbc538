package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"csvload/internal/logging"
	"csvload/internal/queue"
)

const uploadField = "file"

var (
	errNoFile     = errors.New("multipart field \"file\" is missing")
	errNotCSV     = errors.New("only .csv files are accepted")
	errBadName    = errors.New("invalid file name")
	errPending    = errors.New("a file with this name is already waiting to be processed")
	errQueueClose = errors.New("server is shutting down")
)

// ImportResponse is the body of an accepted upload.
type ImportResponse struct {
	Message          string `json:"message"`
	OriginalFilename string `json:"original_filename"`
	JobID            string `json:"job_id,omitempty"`
}

// ErrorResponse is the body of every error answer.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "queued": s.q.Len()})
}

// handleImport stages the "file" part of a multipart upload and queues it.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context(), s.logger)
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)

	mr, err := r.MultipartReader()
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	var staged, original string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.respondError(w, r, err, uploadStatus(err))
			return
		}
		if part.FormName() != uploadField {
			part.Close()
			continue
		}

		original = part.FileName()
		staged, err = s.stage(part, original)
		part.Close()
		if err != nil {
			s.respondError(w, r, err, uploadStatus(err))
			return
		}
		break
	}
	if staged == "" {
		s.respondError(w, r, errNoFile, http.StatusBadRequest)
		return
	}

	name := filepath.Base(staged)
	resp := ImportResponse{OriginalFilename: original}

	if s.opts.StageOnly {
		resp.Message = "File received and staged for processing"
		log.Info("upload staged", "file", name)
		writeJSON(w, http.StatusAccepted, resp)
		return
	}

	job, err := s.q.Enqueue(name)
	if err != nil {
		if errors.Is(err, queue.ErrStopped) {
			err = errQueueClose
		}
		s.respondError(w, r, err, http.StatusServiceUnavailable)
		return
	}
	resp.Message = "File received and queued for processing"
	resp.JobID = job.ID
	log.Info("upload queued", "file", name, "job_id", job.ID)
	writeJSON(w, http.StatusAccepted, resp)
}

// stage copies src to a hidden temp file in the staging directory and then
// renames it to the sanitized upload name, returning the final path.
func (s *Server) stage(src io.Reader, filename string) (string, error) {
	name, err := sanitizeName(filename)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(s.opts.StagingDir, 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(s.opts.StagingDir, ".upload-*.part")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	dest := filepath.Join(s.opts.StagingDir, name)

	s.stageMu.Lock()
	defer s.stageMu.Unlock()

	if _, err := os.Lstat(dest); err == nil {
		return "", errPending
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// sanitizeName keeps the base name of an uploaded file and requires a .csv
// extension. Hidden names are refused since the watcher ignores them.
func sanitizeName(filename string) (string, error) {
	name := filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == "/" || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", errBadName, filename)
	}
	if !strings.EqualFold(filepath.Ext(name), ".csv") {
		return "", errNotCSV
	}
	return name, nil
}

func uploadStatus(err error) int {
	var (
		mbe *http.MaxBytesError
		pe  *os.PathError
		le  *os.LinkError
	)
	switch {
	case errors.As(err, &mbe):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errPending):
		return http.StatusConflict
	case errors.Is(err, errNotCSV), errors.Is(err, errBadName):
		return http.StatusBadRequest
	case errors.As(err, &pe), errors.As(err, &le):
		// staging directory trouble
		return http.StatusInternalServerError
	default:
		// malformed multipart body
		return http.StatusBadRequest
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	logging.FromContext(r.Context(), s.logger).Warn("request error",
		"path", r.URL.Path,
		"status", status,
		"error", err.Error(),
	)
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
