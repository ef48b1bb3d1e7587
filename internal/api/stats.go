package api

import (
	"net/http"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Batches           int            `json:"batches"`
	BatchesByStatus   map[string]int `json:"batches_by_status"`
	Tasks             int            `json:"tasks"`
	TasksByStatus     map[string]int `json:"tasks_by_status"`
	AvgTaskDurationMS float64        `json:"avg_task_duration_ms"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetBatchStats(r.Context())
	if err != nil {
		s.logger.Error("get batch stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Batches:           stats.TotalBatches,
		BatchesByStatus:   stats.BatchesByStatus,
		Tasks:             stats.TotalTasks,
		TasksByStatus:     stats.TasksByStatus,
		AvgTaskDurationMS: stats.AvgTaskDurationMS,
	})
}
