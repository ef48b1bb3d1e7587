package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/asyncinfer/internal/engine"
	"github.com/seantiz/asyncinfer/internal/model"
	"github.com/seantiz/asyncinfer/internal/service"
)

const maxModelBodySize = 8 << 20 // 8 MB

// loadModelRequest is the JSON body for POST /v1/models.
type loadModelRequest struct {
	Device string            `json:"device"`
	Model  json.RawMessage   `json:"model"`
	Config map[string]string `json:"config"`
}

// listModelsResponse wraps the model list.
type listModelsResponse struct {
	Models []model.ModelInfo `json:"models"`
}

func (s *Server) handleLoadModel(w http.ResponseWriter, r *http.Request) {
	var req loadModelRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxModelBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if len(req.Model) == 0 {
		s.writeError(w, http.StatusBadRequest, "model is required")
		return
	}
	if req.Device == "" {
		req.Device = engine.DeviceAuto
	}

	info, err := s.service.LoadModel(r.Context(), req.Device, bytes.NewReader(req.Model), req.Config)
	switch {
	case errors.Is(err, engine.ErrUnknownDevice), errors.Is(err, service.ErrInvalidModel):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Error("load model", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load model")
		return
	}

	s.writeJSON(w, http.StatusCreated, info)
}

func (s *Server) handleListModels(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, listModelsResponse{Models: s.service.Models()})
}

func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	info, err := s.service.Model(chi.URLParam(r, "id"))
	if errors.Is(err, service.ErrModelNotFound) {
		s.writeError(w, http.StatusNotFound, "model not found")
		return
	}
	if err != nil {
		s.logger.Error("get model", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get model")
		return
	}

	s.writeJSON(w, http.StatusOK, info)
}
