// Package bot is a Telegram front-end over the task services.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"task-assistant/internal/model"
	"task-assistant/internal/repository"
	"task-assistant/internal/service"
)

// telegramAPI is the part of *tgbotapi.BotAPI the bot uses.
type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type conversationStage int

const (
	stageNone conversationStage = iota
	stageTitle
	stageDescription
	stageType
	stagePriority
	stageTags
	stageAIPrompt
)

type conversationState struct {
	stage conversationStage
	input service.TaskInput
}

type confirmationAction int

const (
	actionComplete confirmationAction = iota
	actionDelete
)

type confirmationRequest struct {
	taskID uint
	action confirmationAction
}

// session is the per-user dialog state. At most one of conversation and
// confirmation is active at a time.
type session struct {
	conversation *conversationState
	confirmation *confirmationRequest
}

// Bot aggregates Telegram API with services.
type Bot struct {
	api         telegramAPI
	tasks       *service.TaskService
	ingestion   *service.IngestionService
	summary     *service.SummaryService
	subscribers *repository.SubscriberRepository
	logger      *slog.Logger
	now         func() time.Time

	mu       sync.Mutex
	sessions map[int64]*session
}

func New(token string, tasks *service.TaskService, ingestion *service.IngestionService, summary *service.SummaryService, subscribers *repository.SubscriberRepository, logger *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("bot authorized", "account", api.Self.UserName)
	return newBot(api, tasks, ingestion, summary, subscribers, logger), nil
}

func newBot(api telegramAPI, tasks *service.TaskService, ingestion *service.IngestionService, summary *service.SummaryService, subscribers *repository.SubscriberRepository, logger *slog.Logger) *Bot {
	return &Bot{
		api:         api,
		tasks:       tasks,
		ingestion:   ingestion,
		summary:     summary,
		subscribers: subscribers,
		logger:      logger,
		now:         time.Now,
		sessions:    make(map[int64]*session),
	}
}

// Start begins polling updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)

	b.logger.Info("start polling updates")

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	for update := range updates {
		b.handleUpdate(ctx, update)
	}
	return ctx.Err()
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		cb := update.CallbackQuery
		if cb.Message == nil || cb.Message.Chat == nil || !cb.Message.Chat.IsPrivate() {
			b.ackCallback(cb)
			return
		}
		if err := b.handleCallback(ctx, cb); err != nil {
			b.logger.Error("handle callback", "error", err)
		}
	case update.Message != nil:
		if update.Message.Chat == nil || !update.Message.Chat.IsPrivate() {
			return
		}
		if err := b.handleMessage(ctx, update.Message); err != nil {
			b.logger.Error("handle message", "error", err)
		}
	}
}

// SendSummaries sends the open-task digest to every subscriber.
func (b *Bot) SendSummaries(ctx context.Context) error {
	subs, err := b.subscribers.ListAll(ctx)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		return nil
	}
	text, err := b.summary.Summary(ctx, b.now())
	if err != nil {
		return err
	}
	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.sendText(sub.ChatID, text); err != nil {
			b.logger.Warn("send summary", "telegram_id", sub.TelegramID, "error", err)
		}
	}
	return nil
}

func (b *Bot) subscribe(ctx context.Context, from *tgbotapi.User, chatID int64) error {
	_, err := b.subscribers.Upsert(ctx, model.Subscriber{
		TelegramID: from.ID,
		ChatID:     chatID,
		FirstName:  from.FirstName,
		Username:   from.UserName,
	})
	return err
}

// --- session state ---

func (b *Bot) sessionFor(userID int64) *session {
	s, ok := b.sessions[userID]
	if !ok {
		s = &session{}
		b.sessions[userID] = s
	}
	return s
}

func (b *Bot) getConfirmation(userID int64) (confirmationRequest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.sessions[userID]; ok && s.confirmation != nil {
		return *s.confirmation, true
	}
	return confirmationRequest{}, false
}

func (b *Bot) setConfirmation(userID int64, req confirmationRequest) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.sessionFor(userID)
	s.conversation = nil
	s.confirmation = &req
}

func (b *Bot) setConversation(userID int64, state *conversationState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.sessionFor(userID)
	s.confirmation = nil
	s.conversation = state
}

func (b *Bot) getConversation(userID int64) *conversationState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.sessions[userID]; ok {
		return s.conversation
	}
	return nil
}

// clearSession drops any dialog in progress for the user.
func (b *Bot) clearSession(userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, userID)
}

// --- sending ---

func (b *Bot) sendText(chatID int64, text string) error {
	return b.sendWithReplyMarkup(chatID, text, mainMenuKeyboard())
}

// sendWithReplyMarkup sends text in as many messages as Telegram's length
// limit requires. The markup goes with the last one.
func (b *Bot) sendWithReplyMarkup(chatID int64, text string, markup interface{}) error {
	chunks := splitMessage(text, messageLimit)
	for i, chunk := range chunks {
		msg := tgbotapi.NewMessage(chatID, chunk)
		msg.ParseMode = tgbotapi.ModeHTML
		if i == len(chunks)-1 {
			msg.ReplyMarkup = markup
		}
		if _, err := b.api.Send(msg); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bot) ackCallback(cb *tgbotapi.CallbackQuery) {
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.logger.Warn("callback ack", "error", err)
	}
}
