package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"task-assistant/internal/model"
	"task-assistant/internal/service"
)

type createTaskRequest struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Type        model.Category `json:"type"`
	Priority    model.Priority `json:"priority"`
	Tags        string         `json:"tags"`
}

// updateTaskRequest mirrors TaskPatch; absent and null fields stay nil.
type updateTaskRequest struct {
	Title       *string         `json:"title"`
	Description *string         `json:"description"`
	Type        *model.Category `json:"type"`
	Status      *model.Status   `json:"status"`
	Priority    *model.Priority `json:"priority"`
	Tags        *string         `json:"tags"`
}

func (s *Server) handleTaskCreate(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	task, err := s.tasks.Create(r.Context(), service.TaskInput{
		Title:       req.Title,
		Description: req.Description,
		Type:        req.Type,
		Priority:    req.Priority,
		Tags:        req.Tags,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleTaskList(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	tasks, err := s.tasks.List(r.Context(), opts)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleTaskGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	task, err := s.tasks.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleTaskUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req updateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	task, err := s.tasks.Update(r.Context(), id, service.TaskPatch{
		Title:       req.Title,
		Description: req.Description,
		Type:        req.Type,
		Status:      req.Status,
		Priority:    req.Priority,
		Tags:        req.Tags,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleTaskDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, err := s.tasks.Delete(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// listOptions reads skip, limit, q, status (comma separated), type, priority,
// created_from and created_to (YYYY-MM-DD).
func listOptions(r *http.Request) (service.ListOptions, error) {
	q := r.URL.Query()
	var opts service.ListOptions
	var err error
	if opts.Skip, err = queryInt(r, "skip", 0); err != nil {
		return opts, err
	}
	if opts.Limit, err = queryInt(r, "limit", service.DefaultListLimit); err != nil {
		return opts, err
	}
	opts.Query = q.Get("q")
	for _, st := range strings.Split(q.Get("status"), ",") {
		if st = strings.TrimSpace(st); st != "" {
			opts.Statuses = append(opts.Statuses, model.Status(st))
		}
	}
	opts.Type = model.Category(q.Get("type"))
	opts.Priority = model.Priority(q.Get("priority"))
	if opts.CreatedFrom, err = queryDate(r, "created_from"); err != nil {
		return opts, err
	}
	if opts.CreatedTo, err = queryDate(r, "created_to"); err != nil {
		return opts, err
	}
	return opts, nil
}

func queryDate(r *http.Request, key string) (*time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	d, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return nil, &service.ValidationError{Field: key, Reason: "must be a date in YYYY-MM-DD form"}
	}
	return &d, nil
}
