package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"task-assistant/internal/ai"
	"task-assistant/internal/model"
)

// decompositionSystemPrompt asks the model for a bare JSON array of tasks.
const decompositionSystemPrompt = `You are a task decomposition assistant. Break the user's goal into a short list of concrete, actionable tasks.

Reply with a JSON array only, no prose and no markdown. Each element is an object with two string fields:
  "title": a short imperative title (at most 100 characters)
  "description": one or two sentences on what to do

Example:
[{"title":"Draft outline","description":"Write the section headings for the report."},{"title":"Collect data","description":"Export last quarter's numbers from the dashboard."}]`

const maxPromptLen = 4000

// Draft is one task proposed by the completion API.
type Draft struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// FailedDraft reports a draft that parsed but could not be stored.
type FailedDraft struct {
	Index int    `json:"index"`
	Title string `json:"title"`
	Error string `json:"error"`
}

// IngestResult holds the tasks created from one prompt.
type IngestResult struct {
	Tasks  []model.Task
	Failed []FailedDraft
}

// IngestionService turns a free-text goal into tasks via the completion API.
type IngestionService struct {
	completer ai.Completer
	tasks     *TaskService
	logger    *slog.Logger
}

func NewIngestionService(completer ai.Completer, tasks *TaskService, logger *slog.Logger) *IngestionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestionService{completer: completer, tasks: tasks, logger: logger}
}

// Generate asks for a decomposition of prompt and creates one knowledge task
// per draft. The reply is parsed as a whole before anything is written: an
// unusable reply creates no tasks. Drafts are then stored one by one and
// failures are reported per draft.
func (s *IngestionService) Generate(ctx context.Context, prompt string) (*IngestResult, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, invalid("prompt", "is required")
	}
	if len([]rune(prompt)) > maxPromptLen {
		return nil, invalid("prompt", "must be at most %d characters", maxPromptLen)
	}

	content, err := s.completer.Complete(ctx, decompositionSystemPrompt, prompt)
	if err != nil {
		return nil, externalErr("completion call failed: %v", err)
	}
	drafts, err := parseDrafts(content)
	if err != nil {
		s.logger.Warn("unusable completion", "error", err, "content", truncate(content, 300))
		return nil, err
	}

	result := &IngestResult{Tasks: make([]model.Task, 0, len(drafts)), Failed: []FailedDraft{}}
	for i, d := range drafts {
		task, err := s.tasks.Create(ctx, TaskInput{
			Title:       d.Title,
			Description: d.Description,
			Type:        model.CategoryKnowledge,
		})
		if err != nil {
			s.logger.Warn("store generated task", "index", i, "title", d.Title, "error", err)
			result.Failed = append(result.Failed, FailedDraft{Index: i, Title: d.Title, Error: err.Error()})
			continue
		}
		result.Tasks = append(result.Tasks, *task)
	}
	s.logger.Info("generated tasks", "created", len(result.Tasks), "failed", len(result.Failed))
	return result, nil
}

// parseDrafts accepts a JSON array of drafts, optionally wrapped in a
// markdown code fence or in an object under "tasks".
func parseDrafts(content string) ([]Draft, error) {
	body := stripCodeFence(content)
	if body == "" {
		return nil, externalErr("empty completion")
	}

	var drafts []Draft
	if strings.HasPrefix(body, "{") {
		var wrapped struct {
			Tasks *[]Draft `json:"tasks"`
		}
		if err := json.Unmarshal([]byte(body), &wrapped); err != nil || wrapped.Tasks == nil {
			return nil, externalErr("completion is not a JSON array of tasks: %s", truncate(body, 200))
		}
		drafts = *wrapped.Tasks
	} else if err := json.Unmarshal([]byte(body), &drafts); err != nil {
		return nil, externalErr("completion is not a JSON array of tasks: %v", err)
	}

	if drafts == nil {
		return nil, externalErr("completion is not a JSON array of tasks: %s", truncate(body, 200))
	}
	for i := range drafts {
		drafts[i].Title = strings.TrimSpace(drafts[i].Title)
		drafts[i].Description = strings.TrimSpace(drafts[i].Description)
		if drafts[i].Title == "" {
			return nil, externalErr("task %d in completion has no title", i)
		}
	}
	return drafts, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop the info string, e.g. "json".
	if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], "[{") {
		s = s[nl+1:]
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
