package bot

import (
	"fmt"
	"html"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"task-assistant/internal/model"
)

const (
	maxListedTasks = 20
	shortTitleLen  = 32
	// messageLimit is Telegram's cap on message text, in UTF-16 code units.
	messageLimit = 4096
)

func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	keyboard := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(buttonNewTask),
			tgbotapi.NewKeyboardButton(buttonTasks),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(buttonAI),
			tgbotapi.NewKeyboardButton(buttonSummary),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(buttonHelp),
		),
	)
	keyboard.ResizeKeyboard = true
	return keyboard
}

func cancelKeyboard() tgbotapi.ReplyKeyboardMarkup {
	keyboard := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(buttonCancel)),
	)
	keyboard.ResizeKeyboard = true
	return keyboard
}

func skipKeyboard(options ...string) tgbotapi.ReplyKeyboardMarkup {
	var rows [][]tgbotapi.KeyboardButton
	if len(options) > 0 {
		row := make([]tgbotapi.KeyboardButton, 0, len(options))
		for _, o := range options {
			row = append(row, tgbotapi.NewKeyboardButton(o))
		}
		rows = append(rows, row)
	}
	rows = append(rows, tgbotapi.NewKeyboardButtonRow(
		tgbotapi.NewKeyboardButton(buttonSkip),
		tgbotapi.NewKeyboardButton(buttonCancel),
	))
	keyboard := tgbotapi.NewReplyKeyboard(rows...)
	keyboard.ResizeKeyboard = true
	return keyboard
}

func confirmKeyboard() tgbotapi.ReplyKeyboardMarkup {
	keyboard := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(buttonConfirm),
			tgbotapi.NewKeyboardButton(buttonDecline),
		),
	)
	keyboard.ResizeKeyboard = true
	keyboard.OneTimeKeyboard = true
	return keyboard
}

// keyboardFor returns the reply keyboard shown while waiting for stage.
func keyboardFor(stage conversationStage) tgbotapi.ReplyKeyboardMarkup {
	switch stage {
	case stageTitle, stageAIPrompt:
		return cancelKeyboard()
	case stageType:
		return skipKeyboard(string(model.CategoryKnowledge), string(model.CategoryWork))
	case stagePriority:
		return skipKeyboard(string(model.PriorityLow), string(model.PriorityNormal), string(model.PriorityHigh))
	default:
		return skipKeyboard()
	}
}

// taskListKeyboard has one row of actions per task. Start and pause are
// offered according to the current status.
func taskListKeyboard(tasks []model.Task) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(tasks))
	for _, task := range tasks {
		id := strconv.FormatUint(uint64(task.ID), 10)
		var row []tgbotapi.InlineKeyboardButton
		if task.Status == model.StatusInProgress {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData("⏸ #"+id, callbackPause+id))
		} else {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData("▶️ #"+id, callbackStart+id))
		}
		row = append(row,
			tgbotapi.NewInlineKeyboardButtonData("✅", callbackComplete+id),
			tgbotapi.NewInlineKeyboardButtonData("🗑", callbackDelete+id),
		)
		rows = append(rows, row)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func formatTaskLine(task model.Task) string {
	line := fmt.Sprintf("%s #%d %s", statusIcon(task.Status), task.ID, escape(task.Title))
	if task.Priority == model.PriorityHigh {
		line += " ❗"
	}
	if task.Tags != "" {
		line += " <i>" + escape(task.Tags) + "</i>"
	}
	return line
}

func statusIcon(s model.Status) string {
	switch s {
	case model.StatusInProgress:
		return "🔥"
	case model.StatusPaused:
		return "⏸"
	case model.StatusCompleted:
		return "✅"
	default:
		return "🕒"
	}
}

func parseTaskID(raw string) (uint, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "#")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid task id %q", raw)
	}
	return uint(id), nil
}

func shortTitle(title string) string {
	if utf8.RuneCountInString(title) <= shortTitleLen {
		return title
	}
	runes := []rune(title)
	return strings.TrimSpace(string(runes[:shortTitleLen-1])) + "…"
}

// normalizeTitle collapses runs of whitespace.
func normalizeTitle(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// normalizeTags turns "a, b,,c " into "a,b,c".
func normalizeTags(s string) string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ",")
}

func escape(s string) string {
	return html.EscapeString(s)
}

// splitMessage cuts text into chunks of at most limit UTF-16 units, breaking
// between lines. Lines longer than limit are cut at rune boundaries.
func splitMessage(text string, limit int) []string {
	if textLen(text) <= limit {
		return []string{text}
	}
	var (
		chunks []string
		cur    strings.Builder
		curLen int
	)
	flush := func() {
		if chunk := strings.TrimRight(cur.String(), "\n"); chunk != "" {
			chunks = append(chunks, chunk)
		}
		cur.Reset()
		curLen = 0
	}
	for _, line := range strings.SplitAfter(text, "\n") {
		n := textLen(line)
		if curLen+n > limit {
			flush()
		}
		for n > limit {
			head, rest := cutAt(line, limit)
			chunks = append(chunks, head)
			line, n = rest, textLen(rest)
		}
		cur.WriteString(line)
		curLen += n
	}
	flush()
	return chunks
}

func cutAt(s string, limit int) (string, string) {
	size := 0
	for i, r := range s {
		w := runeLen(r)
		if size+w > limit {
			return s[:i], s[i:]
		}
		size += w
	}
	return s, ""
}

func textLen(s string) int {
	n := 0
	for _, r := range s {
		n += runeLen(r)
	}
	return n
}

func runeLen(r rune) int {
	if w := utf16.RuneLen(r); w > 0 {
		return w
	}
	return 1
}
