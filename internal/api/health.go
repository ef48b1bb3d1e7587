package api

import "net/http"

type healthResponse struct {
	Status  string `json:"status"`
	Devices int    `json:"devices"`
	Models  int    `json:"models"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Devices: len(s.registry.List()),
		Models:  len(s.service.Models()),
	})
}
