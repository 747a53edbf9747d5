// Package listener provides a Postgres LISTEN/NOTIFY consumer for completion
// changes. It holds a dedicated pgx connection (not from the pool) listening
// on completion.ChangeChannel.
//
// Every insert or update of prayer_completions fires pg_notify from a
// trigger; this consumer recomputes the adherence summary and publishes it,
// so dashboards follow writes made by any process sharing the database.
package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/albapepper/salah/internal/adherence"
	"github.com/albapepper/salah/internal/completion"
	"github.com/albapepper/salah/internal/prayer"
)

const (
	reconnectBackoff = 5 * time.Second
	maxReconnect     = 30 * time.Second
)

// ChangeEvent is the JSON payload from pg_notify('completion_changed', ...).
type ChangeEvent struct {
	Day       string `json:"day"`
	Kind      string `json:"kind"`
	Completed bool   `json:"completed"`
	Timestamp int64  `json:"ts"`
}

// ParseEvent decodes and validates a notification payload.
func ParseEvent(payload string) (ChangeEvent, error) {
	var ev ChangeEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return ev, fmt.Errorf("decode change event: %w", err)
	}
	if _, err := time.Parse(time.DateOnly, ev.Day); err != nil {
		return ev, fmt.Errorf("change event day %q: %w", ev.Day, err)
	}
	if _, err := prayer.ParseKind(ev.Kind); err != nil {
		return ev, err
	}
	return ev, nil
}

// Publisher pushes a payload to a topic. *alerts.MQTTSender satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// StatsUpdate is what gets published after each change.
type StatsUpdate struct {
	Event   ChangeEvent       `json:"event"`
	Summary adherence.Summary `json:"summary"`
}

// Processor turns change events into published summaries.
type Processor struct {
	Service   *adherence.Service
	Publisher Publisher // nil logs only
	Topic     string
	Logger    *slog.Logger
	// OnChange runs after each valid event. Optional.
	OnChange func(ChangeEvent)
}

// Handle processes one notification payload.
func (p *Processor) Handle(ctx context.Context, payload string) error {
	ev, err := ParseEvent(payload)
	if err != nil {
		return err
	}
	if p.OnChange != nil {
		p.OnChange(ev)
	}

	sum, err := p.Service.Summary(ctx)
	if err != nil {
		return fmt.Errorf("summary after change: %w", err)
	}
	if p.Publisher == nil {
		p.logger().Info("Completion changed (publishing disabled)",
			"day", ev.Day, "kind", ev.Kind, "completed", ev.Completed,
			"today", sum.TodayCompleted, "streak", sum.CurrentStreak)
		return nil
	}

	b, err := json.Marshal(StatsUpdate{Event: ev, Summary: sum})
	if err != nil {
		return fmt.Errorf("encode stats update: %w", err)
	}
	if err := p.Publisher.Publish(ctx, p.Topic, b); err != nil {
		return err
	}
	p.logger().Debug("Stats update published", "topic", p.Topic, "day", ev.Day, "kind", ev.Kind)
	return nil
}

func (p *Processor) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// Start opens a dedicated connection and listens on the change channel. It
// reconnects automatically on connection loss. Blocks until ctx is
// cancelled. Intended to be called with `go`.
func Start(ctx context.Context, dbURL string, p *Processor) {
	logger := p.logger()
	backoff := reconnectBackoff

	for {
		err := listenLoop(ctx, dbURL, p)
		if ctx.Err() != nil {
			logger.Info("Completion listener stopped (context cancelled)")
			return
		}

		logger.Error("Completion listener disconnected, reconnecting...",
			"error", err, "backoff", backoff)

		select {
		case <-time.After(backoff):
			backoff = min(backoff*2, maxReconnect)
		case <-ctx.Done():
			return
		}
	}
}

// listenLoop runs a single listen session. Returns when the connection drops
// or the context is cancelled.
func listenLoop(ctx context.Context, dbURL string, p *Processor) error {
	logger := p.logger()
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+completion.ChangeChannel); err != nil {
		return fmt.Errorf("LISTEN %s: %w", completion.ChangeChannel, err)
	}
	logger.Info("Completion listener connected", "channel", completion.ChangeChannel)

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}

		// Handled inline; summaries publish in write order.
		if err := p.Handle(ctx, notification.Payload); err != nil {
			logger.Warn("Failed to process completion event",
				"payload", notification.Payload, "error", err)
		}
	}
}
