package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudchase/tfmeta/config"
	"github.com/cloudchase/tfmeta/metadata"
	"github.com/cloudchase/tfmeta/populator"
	"github.com/cloudchase/tfmeta/registry"
	"github.com/cloudchase/tfmeta/tflite/tflitetest"
)

func newTestServer(t *testing.T) (*Server, *registry.ArtifactManager) {
	t.Helper()
	mgr, err := registry.NewArtifactManager(t.TempDir())
	require.NoError(t, err)

	dir := t.TempDir()
	modelPath := tflitetest.Write(t, dir, "second_model.tflite", tflitetest.Emotion())
	cfg := config.Default()
	cfg.Labels.Path = tflitetest.WriteLabels(t, dir, "labels.txt", tflitetest.EmotionLabels)
	_, err = populator.Run(modelPath, cfg, populator.DefaultOptions())
	require.NoError(t, err)
	_, err = mgr.Register("emotion", modelPath)
	require.NoError(t, err)

	return NewServer(mgr, ":0", nil), mgr
}

func do(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/api/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestListModels(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/api/models")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp ListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Models, 1)
	assert.Equal(t, "emotion", resp.Models[0].Name)
	assert.Equal(t, "Emotion Classification Model", resp.Models[0].ModelName)
	assert.Equal(t, []string{"labels.txt"}, resp.Models[0].Files)
}

func TestGetModel(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/api/models/emotion")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Name    string       `json:"name"`
		Inputs  []TensorInfo `json:"inputs"`
		Outputs []TensorInfo `json:"outputs"`
		Meta    struct {
			Info      metadata.ModelInfo `json:"info"`
			Subgraphs []struct {
				Inputs []struct {
					ContentType string `json:"content_type"`
					Content     struct {
						Width  uint32 `json:"width"`
						Height uint32 `json:"height"`
					} `json:"content"`
				} `json:"input_tensor_metadata"`
			} `json:"subgraph_metadata"`
		} `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "emotion", resp.Name)
	require.Len(t, resp.Inputs, 1)
	assert.Equal(t, []int32{1, 150, 150, 3}, resp.Inputs[0].Shape)
	assert.Equal(t, "float32", resp.Inputs[0].Type)
	assert.Equal(t, []int32{1, 7}, resp.Outputs[0].Shape)
	assert.Equal(t, "v1", resp.Meta.Info.Version)
	require.Len(t, resp.Meta.Subgraphs, 1)
	in := resp.Meta.Subgraphs[0].Inputs[0]
	assert.Equal(t, "ImageProperties", in.ContentType)
	assert.Equal(t, uint32(150), in.Content.Width)
	assert.Equal(t, uint32(150), in.Content.Height)
}

func TestGetModel_NotFound(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/api/models/absent")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error, "absent")
}

func TestGetFile(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/api/models/emotion/files/labels.txt")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, "angry\ndisgust\nfear\nhappy\nneutral\nsad\nsurprise\n", string(body))

	rec = do(t, s, http.MethodGet, "/api/models/emotion/files/vocab.txt")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteModel(t *testing.T) {
	s, mgr := newTestServer(t)

	rec := do(t, s, http.MethodDelete, "/api/models/emotion")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	_, err := mgr.Get("emotion")
	assert.ErrorIs(t, err, registry.ErrNotFound)

	rec = do(t, s, http.MethodDelete, "/api/models/emotion")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
