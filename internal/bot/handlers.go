package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"task-assistant/internal/model"
	"task-assistant/internal/service"
)

const (
	callbackStart    = "start:"
	callbackPause    = "pause:"
	callbackComplete = "complete:"
	callbackDelete   = "delete:"
)

const (
	buttonNewTask = "➕ New task"
	buttonTasks   = "📋 Tasks"
	buttonAI      = "🤖 Plan with AI"
	buttonSummary = "🗓 Summary"
	buttonHelp    = "ℹ️ Help"
	buttonSkip    = "Skip"
	buttonCancel  = "Cancel"
	buttonConfirm = "✅ Yes"
	buttonDecline = "❌ No"
)

const helpText = `<b>Commands</b>
/new - create a task step by step
/tasks - open tasks with actions
/ai &lt;goal&gt; - break a goal into tasks
/summary - today's digest
/complete &lt;id&gt; - mark a task completed
/delete &lt;id&gt; - delete a task
/cancel - abort the current dialog
/stop - stop the daily summary`

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.From == nil {
		return nil
	}
	if msg.IsCommand() {
		return b.handleCommand(ctx, msg)
	}

	userID := msg.From.ID
	text := strings.TrimSpace(msg.Text)

	if req, ok := b.getConfirmation(userID); ok {
		return b.handleConfirmation(ctx, msg.Chat.ID, userID, req, text)
	}
	if state := b.getConversation(userID); state != nil {
		return b.continueConversation(ctx, msg.Chat.ID, userID, state, text)
	}

	switch text {
	case buttonNewTask:
		return b.startTaskCreation(msg.Chat.ID, userID)
	case buttonTasks:
		return b.sendTaskList(ctx, msg.Chat.ID)
	case buttonAI:
		b.setConversation(userID, &conversationState{stage: stageAIPrompt})
		return b.sendWithReplyMarkup(msg.Chat.ID, "Describe the goal you want to plan.", cancelKeyboard())
	case buttonSummary:
		return b.sendSummary(ctx, msg.Chat.ID)
	case buttonHelp:
		return b.sendText(msg.Chat.ID, helpText)
	}
	return b.sendText(msg.Chat.ID, "Pick an action from the menu or send /help.")
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	chatID := msg.Chat.ID
	userID := msg.From.ID
	args := strings.TrimSpace(msg.CommandArguments())

	switch msg.Command() {
	case "start":
		b.clearSession(userID)
		if err := b.subscribe(ctx, msg.From, chatID); err != nil {
			return err
		}
		greeting := fmt.Sprintf("Hi, %s! I keep track of your tasks and send a daily summary.\n\n%s", escape(msg.From.FirstName), helpText)
		return b.sendText(chatID, greeting)
	case "stop":
		b.clearSession(userID)
		removed, err := b.subscribers.Remove(ctx, userID)
		if err != nil {
			return err
		}
		if !removed {
			return b.sendText(chatID, "You were not subscribed.")
		}
		return b.sendText(chatID, "Daily summary turned off. Send /start to turn it back on.")
	case "help":
		return b.sendText(chatID, helpText)
	case "cancel":
		b.clearSession(userID)
		return b.sendText(chatID, "Cancelled.")
	case "new":
		return b.startTaskCreation(chatID, userID)
	case "tasks":
		return b.sendTaskList(ctx, chatID)
	case "summary":
		return b.sendSummary(ctx, chatID)
	case "ai":
		if args == "" {
			b.setConversation(userID, &conversationState{stage: stageAIPrompt})
			return b.sendWithReplyMarkup(chatID, "Describe the goal you want to plan.", cancelKeyboard())
		}
		return b.generateTasks(ctx, chatID, args)
	case "complete", "delete":
		id, err := parseTaskID(args)
		if err != nil {
			return b.sendText(chatID, fmt.Sprintf("Usage: /%s &lt;id&gt;", msg.Command()))
		}
		action := actionComplete
		if msg.Command() == "delete" {
			action = actionDelete
		}
		return b.askConfirmation(ctx, chatID, userID, id, action)
	}
	return b.sendText(chatID, "Unknown command. Send /help.")
}

// --- task creation dialog ---

func (b *Bot) startTaskCreation(chatID, userID int64) error {
	b.setConversation(userID, &conversationState{stage: stageTitle})
	return b.sendWithReplyMarkup(chatID, "Task title?", cancelKeyboard())
}

func (b *Bot) continueConversation(ctx context.Context, chatID, userID int64, state *conversationState, text string) error {
	if text == buttonCancel {
		b.clearSession(userID)
		return b.sendText(chatID, "Cancelled.")
	}
	if state.stage == stageAIPrompt {
		b.clearSession(userID)
		return b.generateTasks(ctx, chatID, text)
	}

	prompt, done, err := advance(state, text)
	if err != nil {
		return b.sendWithReplyMarkup(chatID, escape(err.Error()), keyboardFor(state.stage))
	}
	if !done {
		b.setConversation(userID, state)
		return b.sendWithReplyMarkup(chatID, prompt, keyboardFor(state.stage))
	}

	b.clearSession(userID)
	task, err := b.tasks.Create(ctx, state.input)
	if err != nil {
		if service.IsValidation(err) {
			return b.sendText(chatID, "Could not create the task: "+escape(err.Error()))
		}
		return err
	}
	return b.sendText(chatID, "Created:\n"+formatTaskLine(*task))
}

// advance applies one answer to the dialog. It returns the next prompt, or
// done once every field has been collected.
func advance(state *conversationState, text string) (prompt string, done bool, err error) {
	skip := text == buttonSkip
	switch state.stage {
	case stageTitle:
		title := normalizeTitle(text)
		if title == "" || skip {
			return "", false, errors.New("the title cannot be empty")
		}
		state.input.Title = title
		state.stage = stageDescription
		return "Description? Press Skip to leave it empty.", false, nil
	case stageDescription:
		if !skip {
			state.input.Description = text
		}
		state.stage = stageType
		return "Type?", false, nil
	case stageType:
		if !skip {
			c := model.Category(strings.ToLower(text))
			if !c.Valid() {
				return "", false, fmt.Errorf("unknown type %q", text)
			}
			state.input.Type = c
		}
		state.stage = stagePriority
		return "Priority?", false, nil
	case stagePriority:
		if !skip {
			p := model.Priority(strings.ToLower(text))
			if !p.Valid() {
				return "", false, fmt.Errorf("unknown priority %q", text)
			}
			state.input.Priority = p
		}
		state.stage = stageTags
		return "Tags, comma separated? Press Skip for none.", false, nil
	case stageTags:
		if !skip {
			state.input.Tags = normalizeTags(text)
		}
		state.stage = stageNone
		return "", true, nil
	}
	return "", false, fmt.Errorf("unexpected dialog stage %d", state.stage)
}

// --- confirmation ---

func (b *Bot) askConfirmation(ctx context.Context, chatID, userID int64, id uint, action confirmationAction) error {
	task, err := b.tasks.Get(ctx, id)
	if errors.Is(err, service.ErrNotFound) {
		return b.sendText(chatID, fmt.Sprintf("Task #%d not found.", id))
	}
	if err != nil {
		return err
	}
	b.setConfirmation(userID, confirmationRequest{taskID: id, action: action})
	verb := "Complete"
	if action == actionDelete {
		verb = "Delete"
	}
	text := fmt.Sprintf("%s task #%d «%s»?", verb, task.ID, escape(shortTitle(task.Title)))
	return b.sendWithReplyMarkup(chatID, text, confirmKeyboard())
}

func (b *Bot) handleConfirmation(ctx context.Context, chatID, userID int64, req confirmationRequest, text string) error {
	switch text {
	case buttonConfirm:
	case buttonDecline, buttonCancel:
		b.clearSession(userID)
		return b.sendText(chatID, "Cancelled.")
	default:
		return b.sendWithReplyMarkup(chatID, "Please answer with the buttons.", confirmKeyboard())
	}
	b.clearSession(userID)

	switch req.action {
	case actionComplete:
		return b.changeStatus(ctx, chatID, req.taskID, model.StatusCompleted)
	case actionDelete:
		task, err := b.tasks.Delete(ctx, req.taskID)
		if errors.Is(err, service.ErrNotFound) {
			return b.sendText(chatID, fmt.Sprintf("Task #%d not found.", req.taskID))
		}
		if err != nil {
			return err
		}
		return b.sendText(chatID, fmt.Sprintf("🗑 Deleted #%d «%s».", task.ID, escape(shortTitle(task.Title))))
	}
	return nil
}

func (b *Bot) changeStatus(ctx context.Context, chatID int64, id uint, status model.Status) error {
	task, err := b.tasks.Update(ctx, id, service.TaskPatch{Status: &status})
	if errors.Is(err, service.ErrNotFound) {
		return b.sendText(chatID, fmt.Sprintf("Task #%d not found.", id))
	}
	if err != nil {
		return err
	}
	return b.sendText(chatID, "Updated:\n"+formatTaskLine(*task))
}

// --- lists, summary, ai ---

func (b *Bot) sendTaskList(ctx context.Context, chatID int64) error {
	tasks, err := b.tasks.List(ctx, service.ListOptions{
		Statuses: []model.Status{model.StatusInProgress, model.StatusPending, model.StatusPaused},
		Limit:    maxListedTasks,
	})
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return b.sendText(chatID, "No open tasks. Use /new or /ai to add some.")
	}

	var builder strings.Builder
	builder.WriteString("<b>Open tasks</b>\n")
	for _, task := range tasks {
		builder.WriteString(formatTaskLine(task))
		builder.WriteString("\n")
	}
	return b.sendWithReplyMarkup(chatID, strings.TrimSpace(builder.String()), taskListKeyboard(tasks))
}

func (b *Bot) sendSummary(ctx context.Context, chatID int64) error {
	text, err := b.summary.Summary(ctx, b.now())
	if err != nil {
		return err
	}
	return b.sendText(chatID, text)
}

func (b *Bot) generateTasks(ctx context.Context, chatID int64, prompt string) error {
	res, err := b.ingestion.Generate(ctx, prompt)
	switch {
	case service.IsValidation(err):
		return b.sendText(chatID, escape(err.Error()))
	case errors.Is(err, service.ErrExternalService):
		b.logger.Warn("ai generation failed", "error", err)
		return b.sendText(chatID, "The assistant could not plan that right now. Try again later.")
	case err != nil:
		return err
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("🤖 Created %d task(s):\n", len(res.Tasks)))
	for _, task := range res.Tasks {
		builder.WriteString(formatTaskLine(task))
		builder.WriteString("\n")
	}
	for _, f := range res.Failed {
		builder.WriteString(fmt.Sprintf("⚠️ skipped «%s»: %s\n", escape(shortTitle(f.Title)), escape(f.Error)))
	}
	return b.sendText(chatID, strings.TrimSpace(builder.String()))
}

// --- inline callbacks ---

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	b.ackCallback(cb)
	if cb.From == nil || cb.Message == nil || cb.Message.Chat == nil {
		return nil
	}
	chatID := cb.Message.Chat.ID
	userID := cb.From.ID

	switch {
	case strings.HasPrefix(cb.Data, callbackStart):
		id, err := parseTaskID(strings.TrimPrefix(cb.Data, callbackStart))
		if err != nil {
			return err
		}
		return b.changeStatus(ctx, chatID, id, model.StatusInProgress)
	case strings.HasPrefix(cb.Data, callbackPause):
		id, err := parseTaskID(strings.TrimPrefix(cb.Data, callbackPause))
		if err != nil {
			return err
		}
		return b.changeStatus(ctx, chatID, id, model.StatusPaused)
	case strings.HasPrefix(cb.Data, callbackComplete):
		id, err := parseTaskID(strings.TrimPrefix(cb.Data, callbackComplete))
		if err != nil {
			return err
		}
		return b.askConfirmation(ctx, chatID, userID, id, actionComplete)
	case strings.HasPrefix(cb.Data, callbackDelete):
		id, err := parseTaskID(strings.TrimPrefix(cb.Data, callbackDelete))
		if err != nil {
			return err
		}
		return b.askConfirmation(ctx, chatID, userID, id, actionDelete)
	}
	return fmt.Errorf("unknown callback %q", cb.Data)
}
