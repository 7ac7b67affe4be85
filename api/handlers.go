package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/cloudchase/tfmeta/errdefs"
	"github.com/cloudchase/tfmeta/registry"
	"github.com/cloudchase/tfmeta/schema"
	"github.com/cloudchase/tfmeta/tflite"
)

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("failed to write JSON response", zap.Error(err))
	}
}

// writeError writes an error response with the given status code.
func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, ErrorResponse{Error: msg})
}

// statusFor maps registry and model errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrNotFound), errdefs.IsMissingInputFile(err):
		return http.StatusNotFound
	case errors.Is(err, errdefs.ErrUnsupportedModel), errdefs.IsSchemaMismatch(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func artifactInfo(m registry.ArtifactManifest) ArtifactInfo {
	return ArtifactInfo{
		Name:      m.Name,
		Size:      m.Size,
		ModelName: m.ModelName,
		Version:   m.Version,
		Files:     m.Files,
		AddedAt:   m.AddedAt,
	}
}

func tensorInfos(ts []tflite.Tensor) []TensorInfo {
	out := make([]TensorInfo, len(ts))
	for i, t := range ts {
		out[i] = TensorInfo{Name: t.Name, Type: t.Type.String(), Shape: t.Shape}
	}
	return out
}

// handleHealth handles GET /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleListModels handles GET /api/models.
func (s *Server) handleListModels(w http.ResponseWriter, _ *http.Request) {
	manifests, err := s.manager.List()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list models: "+err.Error())
		return
	}

	models := make([]ArtifactInfo, 0, len(manifests))
	for _, m := range manifests {
		models = append(models, artifactInfo(m))
	}
	s.writeJSON(w, http.StatusOK, ListResponse{Models: models})
}

// handleGetModel handles GET /api/models/{name}. The artifact is re-read on
// every request so the response reflects the file on disk.
func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	manifest, model, err := s.manager.Open(chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}

	resp := ModelResponse{
		ArtifactInfo: artifactInfo(*manifest),
		Path:         manifest.Path,
	}
	resp.Size = model.Size()
	if len(model.Subgraphs) > 0 {
		resp.Inputs = tensorInfos(model.Subgraphs[0].Inputs)
		resp.Outputs = tensorInfos(model.Subgraphs[0].Outputs)
	}

	buf, err := model.MetadataBuffer(tflite.MetadataName)
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	if buf != nil {
		meta, err := schema.Unmarshal(buf)
		if err != nil {
			s.writeError(w, statusFor(err), err.Error())
			return
		}
		resp.Metadata = &meta
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleGetFile handles GET /api/models/{name}/files/{file}.
func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	_, model, err := s.manager.Open(chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}

	name := chi.URLParam(r, "file")
	f, ok := model.File(name)
	if !ok {
		s.writeError(w, http.StatusNotFound, "no packed file named "+strconv.Quote(name))
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(f.Data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(f.Data); err != nil {
		s.log.Warn("failed to write file response", zap.String("file", name), zap.Error(err))
	}
}

// handleDeleteModel handles DELETE /api/models/{name}. Only the registry entry
// is removed.
func (s *Server) handleDeleteModel(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Remove(chi.URLParam(r, "name")); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, registry.ErrNotFound) {
			status = http.StatusNotFound
		}
		s.writeError(w, status, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
