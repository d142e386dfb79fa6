package service

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"task-assistant/internal/model"
	"task-assistant/internal/repository"
)

// SummaryService builds human-readable digests of open tasks.
type SummaryService struct {
	taskRepo *repository.TaskRepository
}

// maxSummaryRows caps the tasks shown per status section.
const maxSummaryRows = 10

func NewSummaryService(taskRepo *repository.TaskRepository) *SummaryService {
	return &SummaryService{taskRepo: taskRepo}
}

// Summary renders open tasks as Telegram HTML, grouped by status with the
// most urgent first.
func (s *SummaryService) Summary(ctx context.Context, now time.Time) (string, error) {
	tasks, err := s.taskRepo.List(ctx, repository.TaskFilter{
		Statuses: []model.Status{model.StatusInProgress, model.StatusPending, model.StatusPaused},
		Limit:    MaxListLimit,
	})
	if err != nil {
		return "", err
	}

	groups := map[model.Status][]model.Task{}
	for _, task := range tasks {
		groups[task.Status] = append(groups[task.Status], task)
	}
	for _, group := range groups {
		sortByUrgency(group)
	}

	var builder strings.Builder
	builder.WriteString("📋 <b>Task summary</b>\n")
	builder.WriteString(fmt.Sprintf("🗓 %s · %d open\n", now.Format("2006-01-02"), len(tasks)))

	sections := []struct {
		status model.Status
		title  string
		empty  string
	}{
		{model.StatusInProgress, "🔥 <b>In progress</b>", "— nothing in progress"},
		{model.StatusPending, "🕒 <b>Pending</b>", "— no pending tasks"},
		{model.StatusPaused, "⏸ <b>Paused</b>", "— no paused tasks"},
	}
	for _, sec := range sections {
		builder.WriteString("\n" + sec.title + "\n")
		if len(groups[sec.status]) == 0 {
			builder.WriteString(sec.empty + "\n")
			continue
		}
		group := groups[sec.status]
		for i, task := range group {
			if i == maxSummaryRows {
				builder.WriteString(fmt.Sprintf("… and %d more\n", len(group)-maxSummaryRows))
				break
			}
			builder.WriteString(formatTask(task, now))
		}
	}

	return strings.TrimSpace(builder.String()), nil
}

func sortByUrgency(tasks []model.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		ri, rj := tasks[i].Priority.Rank(), tasks[j].Priority.Rank()
		if ri != rj {
			return ri > rj
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
}

func priorityIcon(p model.Priority) string {
	switch p {
	case model.PriorityHigh:
		return "🔴"
	case model.PriorityLow:
		return "🟢"
	default:
		return "🟡"
	}
}

func formatTask(task model.Task, now time.Time) string {
	var sb strings.Builder

	title := html.EscapeString(strings.TrimSpace(task.Title))
	sb.WriteString(fmt.Sprintf("%s #%d %s <i>(%s)</i>", priorityIcon(task.Priority), task.ID, title, task.Type))

	age := int(now.Sub(task.CreatedAt).Hours() / 24)
	switch {
	case age <= 0:
		sb.WriteString("\n   ⏱ created today")
	case age == 1:
		sb.WriteString("\n   ⏱ open for 1 day")
	default:
		sb.WriteString(fmt.Sprintf("\n   ⏱ open for %d days", age))
	}

	if tags := strings.TrimSpace(task.Tags); tags != "" {
		sb.WriteString(fmt.Sprintf("\n   🏷 %s", html.EscapeString(tags)))
	}
	if desc := strings.TrimSpace(task.Description); desc != "" {
		sb.WriteString(fmt.Sprintf("\n   📝 %s", html.EscapeString(truncate(desc, 200))))
	}

	sb.WriteByte('\n')
	return sb.String()
}
