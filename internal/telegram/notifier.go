// Package telegram pushes swarm alerts to an operator chat and answers
// /status and /agents queries.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/rojlabs/roj/internal/config"
	"github.com/rojlabs/roj/internal/hive"
	"github.com/rojlabs/roj/internal/swarm"
)

// StatusProvider answers operator queries. Satisfied by the coordinator.
type StatusProvider interface {
	State() swarm.State
	Metrics() swarm.Metrics
	ActiveTasks() []hive.Task
}

type Notifier struct {
	bot     *telego.Bot
	handler *th.BotHandler
	status  StatusProvider
	cfg     config.TelegramConfig
	chatID  atomic.Int64
	redact  func(string) string
	cancel  context.CancelFunc
}

func NewNotifier(cfg config.TelegramConfig, status StatusProvider) (*Notifier, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	n := &Notifier{
		bot:    bot,
		status: status,
		cfg:    cfg,
	}
	n.chatID.Store(cfg.ChatID)
	return n, nil
}

// UpdateChatID points alerts at a different operator chat. Safe to call
// while the notifier runs.
func (n *Notifier) UpdateChatID(id int64) {
	n.chatID.Store(id)
}

// SetRedactor installs a filter applied to every outbound message.
// Wired to the vault keeper so credentials never reach the chat.
func (n *Notifier) SetRedactor(redact func(string) string) {
	n.redact = redact
}

func (n *Notifier) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel

	updates, err := n.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	handler, err := th.NewBotHandler(n.bot, updates)
	if err != nil {
		cancel()
		return fmt.Errorf("create handler: %w", err)
	}
	n.handler = handler

	handler.HandleMessage(func(hctx *th.Context, message telego.Message) error {
		n.handleMessage(ctx, message)
		return nil
	})

	go handler.Start()

	<-ctx.Done()
	_ = handler.Stop()
	return nil
}

func (n *Notifier) Stop() {
	if n.cancel != nil {
		n.cancel()
	}
	if n.handler != nil {
		_ = n.handler.Stop()
	}
}

func (n *Notifier) handleMessage(ctx context.Context, msg telego.Message) {
	chatID := msg.Chat.ID
	if allowed := n.chatID.Load(); allowed != 0 && chatID != allowed {
		slog.Warn("unauthorized telegram chat", "chat_id", chatID)
		return
	}

	switch strings.TrimSpace(msg.Text) {
	case "/status":
		m := n.status.Metrics()
		text := fmt.Sprintf("**Swarm: %s**\nAgents: %d active, %d inactive\nIn flight: %d, queued: %d\nDecisions: %d (vetoes %d)",
			m.State, m.Agents.ActiveAgents, m.Agents.InactiveAgents,
			m.ActiveTasks, m.QueuedTasks, m.Counters.Decisions, m.Counters.Vetoes)
		_ = n.send(ctx, chatID, text)
	case "/agents":
		m := n.status.Metrics()
		var sb strings.Builder
		fmt.Fprintf(&sb, "**Agents (%d)**\n", m.Agents.TotalAgents)
		for typ, count := range m.Agents.ByType {
			fmt.Fprintf(&sb, "%s: %d\n", typ, count)
		}
		fmt.Fprintf(&sb, "avg performance: %.2f", m.Agents.AveragePerformance)
		_ = n.send(ctx, chatID, sb.String())
	case "/tasks":
		tasks := n.status.ActiveTasks()
		if len(tasks) == 0 {
			_ = n.send(ctx, chatID, "No tasks in flight.")
			return
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "**In flight (%d)**\n", len(tasks))
		for _, t := range tasks {
			fmt.Fprintf(&sb, "%s %s [%s]\n", t.ID, t.Type, t.Priority)
		}
		_ = n.send(ctx, chatID, sb.String())
	}
}

// HandleEvent is wired as a coordinator EventSink and forwards the
// alert-worthy subset to the operator chat.
func (n *Notifier) HandleEvent(e swarm.Event) {
	chatID := n.chatID.Load()
	if chatID == 0 {
		return
	}

	var text string
	switch e.Type {
	case "decision":
		if vetoed, _ := e.Data["vetoed"].(bool); vetoed {
			text = fmt.Sprintf("**Veto** on task %v: action %v", e.Data["task"], e.Data["action"])
		}
	case "state_changed":
		if to, _ := e.Data["to"].(string); to == "degraded" {
			text = "**Swarm degraded**: too many agents silent"
		} else if from, _ := e.Data["from"].(string); from == "degraded" {
			text = "Swarm recovered, back to active"
		}
	case "agent_lost":
		text = fmt.Sprintf("Agent %v stopped heartbeating", e.Data["agent"])
	}
	if text == "" {
		return
	}

	go func() {
		if err := n.send(context.Background(), chatID, text); err != nil {
			slog.Error("failed to send telegram alert", "error", err)
		}
	}()
}

func (n *Notifier) send(ctx context.Context, chatID int64, text string) error {
	if n.redact != nil {
		text = n.redact(text)
	}
	text = toTelegramMarkdown(text)
	chunks := chunkMessage(text, 4096)
	for _, chunk := range chunks {
		msg := tu.Message(tu.ID(chatID), chunk)
		if _, err := n.bot.SendMessage(ctx, msg); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}
