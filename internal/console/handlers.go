package console

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/embedlink/embedlink/internal/intake"
	"github.com/embedlink/embedlink/internal/operation"
)

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"configured": false,
		"accept":     intake.AcceptFilter(),
		"allowed":    intake.AllowedList(),
	}
	if s.deps.Images != nil {
		payload["configured"] = s.deps.Images.Configured()
		payload["api_base_url"] = s.deps.Images.BaseURL()
	}
	RespondWithJSON(w, http.StatusOK, payload)
}

// Training

func (s *Server) trainingView() OperationView {
	tr := s.deps.Training
	snap := tr.Snapshot()
	n, ok := tr.Notification()
	v := viewOf(snap, n, ok)
	v.StatusText = operation.TrainingStatusText(snap)
	return v
}

func (s *Server) handleGetTraining(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, s.trainingView())
}

func (s *Server) handleStartTraining(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Training.Submit(); err != nil {
		s.respondSubmitError(w, err, s.trainingView())
		return
	}
	RespondWithJSON(w, http.StatusAccepted, s.trainingView())
}

func (s *Server) handleResetTraining(w http.ResponseWriter, r *http.Request) {
	s.deps.Training.Reset()
	RespondWithJSON(w, http.StatusOK, s.trainingView())
}

// Search

type searchView struct {
	Operation OperationView  `json:"operation"`
	Selection *selectionView `json:"selection,omitempty"`
}

type selectionView struct {
	Name    string               `json:"name"`
	Size    string               `json:"size"`
	Preview intake.PreviewHandle `json:"preview"`
}

func (s *Server) searchView() searchView {
	sr := s.deps.Search
	n, ok := sr.Notification()
	v := searchView{Operation: viewOf(sr.Snapshot(), n, ok)}
	if f, h, ok := sr.Selection(); ok {
		v.Selection = &selectionView{Name: f.Name, Size: intake.FormatKB(f.Size), Preview: h}
	}
	return v
}

func (s *Server) handleGetSearch(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, s.searchView())
}

func (s *Server) handleSelectQuery(w http.ResponseWriter, r *http.Request) {
	files, err := readFiles(r)
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(files) != 1 {
		RespondWithError(w, http.StatusBadRequest, "exactly one file is required")
		return
	}
	if err := s.deps.Search.Select(files[0]); err != nil {
		s.respondSubmitError(w, err, s.searchView())
		return
	}
	RespondWithJSON(w, http.StatusOK, s.searchView())
}

func (s *Server) handleSubmitSearch(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Search.Submit(); err != nil {
		s.respondSubmitError(w, err, s.searchView())
		return
	}
	RespondWithJSON(w, http.StatusAccepted, s.searchView())
}

func (s *Server) handleResetSearch(w http.ResponseWriter, r *http.Request) {
	s.deps.Search.Reset()
	RespondWithJSON(w, http.StatusOK, s.searchView())
}

// Upload

type uploadView struct {
	Operation OperationView `json:"operation"`
	Items     []itemView    `json:"items"`
}

type itemView struct {
	operation.Item
	SizeText string `json:"size_text"`
}

type addItemsResponse struct {
	Added    []itemView `json:"added"`
	Rejected []string   `json:"rejected"`
	Upload   uploadView `json:"upload"`
}

func itemViews(items []operation.Item) []itemView {
	out := make([]itemView, len(items))
	for i, it := range items {
		out[i] = itemView{Item: it, SizeText: it.SizeText()}
	}
	return out
}

func (s *Server) uploadView() uploadView {
	up := s.deps.Upload
	n, ok := up.Notification()
	return uploadView{
		Operation: viewOf(up.Snapshot(), n, ok),
		Items:     itemViews(up.Items()),
	}
}

func (s *Server) handleGetUpload(w http.ResponseWriter, r *http.Request) {
	RespondWithJSON(w, http.StatusOK, s.uploadView())
}

func (s *Server) handleAddItems(w http.ResponseWriter, r *http.Request) {
	files, err := readFiles(r)
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	added, rejected, err := s.deps.Upload.AddFiles(files)
	if err != nil {
		s.respondSubmitError(w, err, s.uploadView())
		return
	}

	resp := addItemsResponse{
		Added:    itemViews(added),
		Rejected: make([]string, len(rejected)),
		Upload:   s.uploadView(),
	}
	for i, f := range rejected {
		resp.Rejected[i] = f.Name
	}
	RespondWithJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "itemID"))
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid item ID")
		return
	}
	removed, err := s.deps.Upload.RemoveItem(id)
	if err != nil {
		s.respondSubmitError(w, err, s.uploadView())
		return
	}
	if !removed {
		RespondWithError(w, http.StatusNotFound, "Item not found")
		return
	}
	RespondWithJSON(w, http.StatusOK, s.uploadView())
}

func (s *Server) handleSubmitUpload(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Upload.Submit(); err != nil {
		s.respondSubmitError(w, err, s.uploadView())
		return
	}
	RespondWithJSON(w, http.StatusAccepted, s.uploadView())
}

func (s *Server) handleResetUpload(w http.ResponseWriter, r *http.Request) {
	s.deps.Upload.Reset()
	RespondWithJSON(w, http.StatusOK, s.uploadView())
}

// Previews and result images

func (s *Server) handleGetPreview(w http.ResponseWriter, r *http.Request) {
	h, err := strconv.ParseUint(chi.URLParam(r, "handle"), 10, 64)
	if err != nil || s.deps.Previews == nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid preview handle")
		return
	}
	uri, ok := s.deps.Previews.URI(intake.PreviewHandle(h))
	if !ok {
		RespondWithError(w, http.StatusNotFound, "Preview not found")
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]string{"uri": uri})
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		RespondWithError(w, http.StatusBadRequest, "path is required")
		return
	}
	if s.deps.Images == nil {
		RespondWithError(w, http.StatusServiceUnavailable, "no remote configured")
		return
	}

	var buf bytes.Buffer
	_, contentType, err := s.deps.Images.FetchImage(r.Context(), path, &buf)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("Image fetch failed")
		RespondWithError(w, statusFor(err), err.Error())
		return
	}
	if contentType == "" {
		contentType = http.DetectContentType(buf.Bytes())
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) respondSubmitError(w http.ResponseWriter, err error, view any) {
	RespondWithJSON(w, statusFor(err), map[string]any{
		"error": err.Error(),
		"view":  view,
	})
}

// readFiles reads every "file" part of a multipart request into memory.
func readFiles(r *http.Request) ([]intake.File, error) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		return nil, fmt.Errorf("multipart form expected")
	}
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		return nil, fmt.Errorf("invalid multipart form: %w", err)
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["file"]
	files := make([]intake.File, 0, len(headers))
	for _, fh := range headers {
		data, err := readPart(fh)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", fh.Filename, err)
		}
		files = append(files, intake.FromBytes(fh.Filename, data))
	}
	return files, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
