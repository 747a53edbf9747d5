package alerts

import (
	"context"
	"log/slog"
	"time"
)

const defaultDispatchInterval = time.Second

// FiredFunc is invoked for each alert after delivery was attempted. The
// playback collaborator hangs off this and checks Payload.WantsSound.
type FiredFunc func(Request)

// Dispatcher fires due alerts from a registry through a Sender.
type Dispatcher struct {
	Registry Registry
	Sender   Sender
	Now      func() time.Time
	Interval time.Duration
	OnFired  FiredFunc
	Logger   *slog.Logger
}

// Start runs a background loop that sends due alerts.
// Blocks until ctx is cancelled. Intended to be called with `go`.
func (d *Dispatcher) Start(ctx context.Context) {
	interval := d.Interval
	if interval <= 0 {
		interval = defaultDispatchInterval
	}
	logger := d.logger()
	logger.Info("Alert dispatch worker started", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sent, failed, err := d.DispatchDue(ctx)
			if err != nil {
				logger.Error("dispatch error", "error", err)
			} else if sent+failed > 0 {
				logger.Info("dispatch batch", "sent", sent, "failed", failed)
			}
		case <-ctx.Done():
			logger.Info("Alert dispatch worker stopped")
			return
		}
	}
}

// DispatchDue sends every alert whose fire time has passed and removes it
// from the registry. A failed send is dropped, not retried: the delivery
// host owns its own retry policy.
func (d *Dispatcher) DispatchDue(ctx context.Context) (sent, failed int, err error) {
	pending, err := d.Registry.Pending(ctx)
	if err != nil {
		return 0, 0, err
	}
	due := Due(pending, d.now())
	if len(due) == 0 {
		return 0, 0, nil
	}

	logger := d.logger()
	for _, req := range due {
		if sendErr := d.Sender.Send(ctx, req); sendErr != nil {
			logger.Warn("send failed", "alert_id", req.ID, "error", sendErr)
			failed++
		} else {
			sent++
		}
		if d.OnFired != nil {
			d.OnFired(req)
		}
	}
	if err := d.Registry.Remove(ctx, due...); err != nil {
		return sent, failed, err
	}
	return sent, failed, nil
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}
