package gateway

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/skyliftcoin/gemini-web-browser/internal/agent"
	"github.com/skyliftcoin/gemini-web-browser/internal/executor"
	"github.com/skyliftcoin/gemini-web-browser/internal/planner"
)

// TelegramGateway relays instructions from a Telegram chat into the runner
// and streams status back as messages. Screenshots are uploaded as photos.
type TelegramGateway struct {
	Bot    *tgbotapi.BotAPI
	Tasks  TaskService
	Logger *zap.Logger

	mu       sync.Mutex
	chatByID map[string]int64
}

func NewTelegramGateway(token string, tasks TaskService, logger *zap.Logger) (*TelegramGateway, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}

	logger.Info("telegram authorized", zap.String("account", bot.Self.UserName))

	return &TelegramGateway{
		Bot:      bot,
		Tasks:    tasks,
		Logger:   logger.Named("telegram"),
		chatByID: make(map[string]int64),
	}, nil
}

func (tg *TelegramGateway) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := tg.Bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			tg.handleMessage(update.Message)
		}
	}
}

func (tg *TelegramGateway) handleMessage(msg *tgbotapi.Message) {
	text := strings.TrimSpace(msg.Text)
	tg.Logger.Info("message received",
		zap.String("from", msg.From.UserName),
		zap.Int64("chat_id", msg.Chat.ID))

	if text == "/abort" {
		if !tg.Tasks.Abort() {
			tg.reply(msg.Chat.ID, "No task is running.")
		}
		return
	}
	if text == "" || strings.HasPrefix(text, "/") {
		tg.reply(msg.Chat.ID, "Send me an instruction, e.g. \"search ebay for mechanical keyboards\". /abort cancels the running task.")
		return
	}

	task, err := tg.Tasks.Submit(text)
	if err != nil {
		tg.reply(msg.Chat.ID, fmt.Sprintf("Could not queue task: %v", err))
		return
	}
	tg.mu.Lock()
	tg.chatByID[task.ID] = msg.Chat.ID
	tg.mu.Unlock()
	tg.reply(msg.Chat.ID, "On it.")
}

func (tg *TelegramGateway) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := tg.Bot.Send(msg); err != nil {
		tg.Logger.Warn("send failed", zap.Error(err))
	}
}

func (tg *TelegramGateway) chatFor(taskID string) (int64, bool) {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	id, ok := tg.chatByID[taskID]
	return id, ok
}

func (tg *TelegramGateway) Stop() error {
	tg.Bot.StopReceivingUpdates()
	return nil
}

// StatusSink implementation.

func (tg *TelegramGateway) TaskStarted(taskID, instruction string) {}

func (tg *TelegramGateway) PlanReady(taskID string, plan planner.Plan) {
	chatID, ok := tg.chatFor(taskID)
	if !ok {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Plan (%d steps):\n", len(plan.Steps))
	for i, step := range plan.Steps {
		fmt.Fprintf(&b, "%d. %s\n", i+1, step.String())
	}
	tg.reply(chatID, b.String())
}

func (tg *TelegramGateway) StepFinished(taskID string, index int, res executor.ExecutionResult) {
	chatID, ok := tg.chatFor(taskID)
	if !ok {
		return
	}
	if res.ScreenshotPath != "" {
		tg.sendPhoto(chatID, res.ScreenshotPath)
	}
	if !res.Success {
		tg.reply(chatID, fmt.Sprintf("Step %d failed: %s", index+1, res.Detail))
	}
}

func (tg *TelegramGateway) TaskFinished(result agent.TaskResult) {
	chatID, ok := tg.chatFor(result.TaskID)
	if !ok {
		return
	}
	tg.mu.Lock()
	delete(tg.chatByID, result.TaskID)
	tg.mu.Unlock()

	switch result.Status {
	case agent.StatusSucceeded:
		text := "Done."
		if result.Response != "" {
			text = result.Response
		}
		tg.reply(chatID, text)
	case agent.StatusAborted:
		tg.reply(chatID, "Task aborted.")
	default:
		tg.reply(chatID, fmt.Sprintf("Task failed: %s", result.Reason))
	}
}

func (tg *TelegramGateway) sendPhoto(chatID int64, path string) {
	if _, err := os.Stat(path); err != nil {
		tg.Logger.Warn("screenshot missing", zap.String("path", path))
		return
	}
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FilePath(path))
	if _, err := tg.Bot.Send(photo); err != nil {
		tg.Logger.Warn("photo upload failed", zap.Error(err))
	}
}
