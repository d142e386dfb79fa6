package api

import (
	"encoding/json"
	"net/http"

	"task-assistant/internal/service"
)

type generateRequest struct {
	Prompt string `json:"prompt"`
}

type generatedTask struct {
	ID          uint   `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type generateResponse struct {
	Tasks  []generatedTask       `json:"tasks"`
	Failed []service.FailedDraft `json:"failed"`
}

func (s *Server) handleGenerateTasks(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	res, err := s.ingestion.Generate(r.Context(), req.Prompt)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := generateResponse{Tasks: make([]generatedTask, 0, len(res.Tasks)), Failed: res.Failed}
	for _, t := range res.Tasks {
		out.Tasks = append(out.Tasks, generatedTask{ID: t.ID, Title: t.Title, Description: t.Description})
	}
	writeJSON(w, http.StatusOK, out)
}
