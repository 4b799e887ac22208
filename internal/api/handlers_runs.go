package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/netip"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/docforge/internal/format"
	"github.com/dgallion1/docforge/internal/pipeline"
)

var runIDPattern = regexp.MustCompile(`^[A-Za-z0-9-]{1,64}$`)

// createRunRequest is the JSON form of POST /api/runs.
type createRunRequest struct {
	Location string `json:"location"`
	Output   string `json:"output"`
	Title    string `json:"title"`
}

type runAccepted struct {
	RunID    string             `json:"run_id"`
	Status   pipeline.JobStatus `json:"status"`
	Filename string             `json:"filename,omitempty"`
	PollURL  string             `json:"poll_url"`
}

func accepted(job *pipeline.Job) runAccepted {
	return runAccepted{
		RunID:    job.ID,
		Status:   pipeline.StatusQueued,
		Filename: job.Filename,
		PollURL:  fmt.Sprintf("/api/runs/%s", job.ID),
	}
}

// handleCreateRun accepts either a multipart upload ("file", "output",
// "title") or a JSON body naming a remote URL.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		s.createFromUpload(w, r)
		return
	}

	var req createRunRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		jsonError(w, "invalid json body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := checkRemoteLocation(req.Location); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	output, err := s.outputKind(req.Output)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	job := pipeline.NewJob("", req.Location, output, strings.TrimSpace(req.Title), nil)
	if err := s.runner.Submit(job); err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, accepted(job))
}

func (s *Server) createFromUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024) // extra 1MB for form overhead

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	output, err := s.outputKind(r.FormValue("output"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "file is required: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	job, code, err := s.stageUpload(file, header.Filename, output, r.FormValue("title"))
	if err != nil {
		jsonError(w, err.Error(), code)
		return
	}
	if err := s.runner.Submit(job); err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, accepted(job))
}

// handleBatchRuns queues one run per uploaded "files" part.
func (s *Server) handleBatchRuns(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes*10+10*1024*1024)

	if err := r.ParseMultipartForm(64 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	output, err := s.outputKind(r.FormValue("output"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		jsonError(w, "at least one file is required", http.StatusBadRequest)
		return
	}

	results := make([]map[string]any, 0, len(files))
	for _, fh := range files {
		filename := sanitizeFilename(fh.Filename)
		f, err := fh.Open()
		if err != nil {
			results = append(results, map[string]any{"filename": filename, "error": "failed to open file"})
			continue
		}
		job, _, err := s.stageUpload(f, fh.Filename, output, "")
		f.Close()
		if err != nil {
			results = append(results, map[string]any{"filename": filename, "error": err.Error()})
			continue
		}
		if err := s.runner.Submit(job); err != nil {
			results = append(results, map[string]any{"filename": filename, "run_id": job.ID, "error": err.Error()})
			continue
		}
		a := accepted(job)
		results = append(results, map[string]any{
			"filename": a.Filename,
			"run_id":   a.RunID,
			"status":   a.Status,
			"poll_url": a.PollURL,
		})
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"runs": results})
}

// stageUpload copies an upload into its own temp dir and returns a queued
// job that removes the dir when the run ends. The int is the HTTP status for
// a returned error.
func (s *Server) stageUpload(src io.Reader, name string, output format.OutputKind, title string) (*pipeline.Job, int, error) {
	filename := sanitizeFilename(name)
	if !format.IsSupported(filename) {
		return nil, http.StatusBadRequest, fmt.Errorf("unsupported file type: %s", filepath.Ext(filename))
	}

	data, err := io.ReadAll(io.LimitReader(src, s.cfg.MaxUploadBytes+1))
	if err != nil {
		return nil, http.StatusInternalServerError, errors.New("failed to read file")
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		return nil, http.StatusRequestEntityTooLarge, fmt.Errorf("file exceeds max size (%d bytes)", s.cfg.MaxUploadBytes)
	}

	dir, err := os.MkdirTemp("", "docforge-upload-*")
	if err != nil {
		return nil, http.StatusInternalServerError, errors.New("failed to stage upload")
	}
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		os.RemoveAll(dir)
		return nil, http.StatusInternalServerError, errors.New("failed to stage upload")
	}

	job := pipeline.NewJob("", path, output, strings.TrimSpace(title), func() {
		if err := os.RemoveAll(dir); err != nil {
			s.log.Warn("upload cleanup failed", "dir", dir, "error", err)
		}
	})
	job.Filename = filename
	job.ContentHash = pipeline.ContentHashHex(data)
	return job, 0, nil
}

func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	runID, ok := runIDParam(w, r)
	if !ok {
		return
	}
	if job := s.runner.GetJob(runID); job != nil {
		writeJSON(w, http.StatusOK, job.Snapshot())
		return
	}

	run, err := s.archivedRun(r, runID)
	if err != nil {
		jsonError(w, "failed to read archive: "+err.Error(), http.StatusBadGateway)
		return
	}
	if run == nil {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	run["archived"] = true
	writeJSON(w, http.StatusOK, run)
}

// handleRunOutput streams the artifact of a succeeded run.
func (s *Server) handleRunOutput(w http.ResponseWriter, r *http.Request) {
	runID, ok := runIDParam(w, r)
	if !ok {
		return
	}

	var location string
	if job := s.runner.GetJob(runID); job != nil {
		snap := job.Snapshot()
		if snap.Status != pipeline.StatusCompleted {
			jsonError(w, fmt.Sprintf("run is %s", snap.Status), http.StatusConflict)
			return
		}
		location = snap.OutputLocation
	} else {
		run, err := s.archivedRun(r, runID)
		if err != nil {
			jsonError(w, "failed to read archive: "+err.Error(), http.StatusBadGateway)
			return
		}
		if run == nil {
			jsonError(w, "run not found", http.StatusNotFound)
			return
		}
		if ok, _ := run["success"].(bool); !ok {
			jsonError(w, "run did not succeed", http.StatusConflict)
			return
		}
		location, _ = run["output_location"].(string)
	}

	if location == "" {
		jsonError(w, "run has no output", http.StatusNotFound)
		return
	}
	if info, err := os.Stat(location); err != nil || !info.Mode().IsRegular() {
		jsonError(w, "output no longer available", http.StatusGone)
		return
	}
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filepath.Base(location)}))
	http.ServeFile(w, r, location)
}

func (s *Server) outputKind(raw string) (format.OutputKind, error) {
	if strings.TrimSpace(raw) == "" {
		raw = s.cfg.OutputKind
	}
	return format.ParseOutputKind(raw)
}

// checkRemoteLocation only admits http(s) URLs; local files come in as uploads.
func checkRemoteLocation(location string) error {
	if strings.TrimSpace(location) == "" {
		return errors.New("location is required")
	}
	u, err := url.Parse(location)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("location must be an http(s) URL; upload local files as multipart")
	}
	if internalHost(u.Hostname()) {
		return errors.New("location must not point at a loopback, private or link-local address")
	}
	return nil
}

// internalHost reports whether host is localhost or a literal address the
// server should not fetch on a caller's behalf. Names are not resolved, so a
// public name that resolves to an internal address still passes.
func internalHost(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	ip = ip.Unmap()
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}

func runIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	runID := chi.URLParam(r, "runID")
	if !runIDPattern.MatchString(runID) {
		jsonError(w, "invalid run id", http.StatusBadRequest)
		return "", false
	}
	return runID, true
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." || name == "/" {
		name = "unnamed"
	}
	return name
}
