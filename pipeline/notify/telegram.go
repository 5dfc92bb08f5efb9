// Package notify delivers human-facing notifications for pipeline events.
// The Telegram notifier subscribes to the event bus and posts escalations,
// review outcomes, and audit completions to an operations chat.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/apexmarketing/contentpipeline/pipeline/events"
	"github.com/apexmarketing/contentpipeline/pipeline/logging"
)

const telegramAPI = "https://api.telegram.org"

// Telegram posts pipeline notifications to a Telegram chat. Delivery is
// fire-and-forget: failures are logged and never affect the pipeline.
type Telegram struct {
	token  string
	chatID string
	client *http.Client
	base   string
	logger logging.Logger
}

// NewTelegram creates a notifier for the given bot token and chat.
func NewTelegram(token, chatID string, logger logging.Logger) *Telegram {
	return &Telegram{
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: 10 * time.Second},
		base:   telegramAPI,
		logger: logger.Bind("component", "notify"),
	}
}

// Attach subscribes the notifier to the bus. Returns a detach function.
func (t *Telegram) Attach(bus *events.Bus) func() {
	unsubs := []func(){
		bus.Subscribe(events.TypeEscalationRaised, t.onEscalation),
		bus.Subscribe(events.TypeAuditRunCompleted, t.onAuditCompleted),
		bus.Subscribe(events.TypeDeliverableReviewed, t.onReviewed),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (t *Telegram) onEscalation(ctx context.Context, e events.Event) {
	ev, ok := e.(events.EscalationRaised)
	if !ok {
		return
	}
	t.send(ctx, fmt.Sprintf(
		"🚨 <b>Escalation</b>\nDeliverable <code>%s</code> (%s) needs human review.\nIterations: %d, last score: %.2f/10",
		ev.DeliverableID, ev.Kind, ev.Iterations, ev.LastScore))
}

func (t *Telegram) onAuditCompleted(ctx context.Context, e events.Event) {
	ev, ok := e.(events.AuditRunCompleted)
	if !ok {
		return
	}
	icon := "✅"
	verdict := "gate passed, package released for review"
	switch {
	case ev.State != "completed":
		icon = "⚠️"
		verdict = "halted: " + ev.State
	case !ev.GatePassed:
		icon = "⛔"
		verdict = "gate failed, package held in draft"
	}
	t.send(ctx, fmt.Sprintf(
		"%s <b>Audit run</b> <code>%s</code> for %s\nScore: %.2f/10, %s",
		icon, ev.RunID, ev.ClientID, ev.GateScore, verdict))
}

func (t *Telegram) onReviewed(ctx context.Context, e events.Event) {
	ev, ok := e.(events.DeliverableReviewed)
	if !ok || ev.Passed {
		return
	}
	t.send(ctx, fmt.Sprintf(
		"📝 Deliverable <code>%s</code> (%s) scored %.2f/10 on iteration %d, sent back for revision.",
		ev.DeliverableID, ev.Kind, ev.CombinedScore, ev.Iteration))
}

func (t *Telegram) send(ctx context.Context, text string) {
	body, _ := json.Marshal(map[string]string{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "HTML",
	})
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.base, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		t.logger.Warn("notification request build failed", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Warn("notification delivery failed", "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.logger.Warn("notification rejected", "status", resp.StatusCode)
	}
}
