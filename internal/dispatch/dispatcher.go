// Package dispatch turns mail store events into calls to the rewrite workflow.
package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"subjectfix/internal/domain"
	"subjectfix/internal/mailstore"
	"subjectfix/internal/metrics"
)

// DefaultDelay gives the store time to finish its own post-delivery work (filters,
// junk classification) before a new message is touched.
const DefaultDelay = 1500 * time.Millisecond

// Processor is the rewrite workflow as seen by the dispatcher.
type Processor interface {
	Process(ctx context.Context, st mailstore.Store, msg *domain.Message) (bool, error)
}

// StatsRecorder persists per-trigger counters. Optional.
type StatsRecorder interface {
	IncrStat(ctx context.Context, trigger, result string) error
}

type Dispatcher struct {
	Processor Processor
	Logger    *zap.Logger
	Delay     time.Duration
	Metrics   *metrics.Metrics
	Stats     StatsRecorder
}

func New(p Processor, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{Processor: p, Logger: logger, Delay: DefaultDelay}
}

// OnNewMailReceived handles a batch of newly delivered messages in folder. Each
// message is looked up again after the delay since it may have been moved or
// relabelled in the meantime. It returns the number of replaced messages.
func (d *Dispatcher) OnNewMailReceived(ctx context.Context, st mailstore.Store, folder domain.Folder, list *domain.MessageList) int {
	if list == nil || len(list.Messages) == 0 {
		return 0
	}
	start := time.Now()
	defer d.observe(metrics.TriggerNewMail, start)

	if d.Delay > 0 {
		t := time.NewTimer(d.Delay)
		select {
		case <-ctx.Done():
			t.Stop()
			d.logger().Info("new mail batch cancelled during delay", zap.String("folder", folder.Path), zap.Error(ctx.Err()))
			return 0
		case <-t.C:
		}
	}

	processed := 0
	for _, m := range list.Messages {
		if ctx.Err() != nil {
			break
		}
		fresh, err := st.Get(ctx, m.ID)
		if err != nil {
			d.logger().Warn("message lookup failed", zap.Stringer("message", m.ID), zap.Error(err))
			d.count(ctx, metrics.TriggerNewMail, metrics.ResultFailed)
			continue
		}
		if fresh.Folder == nil {
			d.count(ctx, metrics.TriggerNewMail, metrics.ResultSkipped)
			continue
		}
		if d.handle(ctx, st, metrics.TriggerNewMail, fresh) {
			processed++
		}
	}

	if processed > 0 {
		d.logger().Info("processed new messages", zap.String("folder", folder.Path), zap.Int("count", processed))
	}
	return processed
}

// OnMenuClicked handles a click on the context menu entry. Clicks on other entries
// and empty selections are ignored. The selection is walked page by page; messages
// without a folder are skipped.
func (d *Dispatcher) OnMenuClicked(ctx context.Context, st mailstore.Store, info domain.MenuClick) int {
	if info.MenuItemID != MenuID {
		return 0
	}
	if info.SelectedMessages == nil || len(info.SelectedMessages.UIDs) == 0 {
		return 0
	}
	start := time.Now()
	defer d.observe(metrics.TriggerMenu, start)

	page, err := st.ListSelected(ctx, *info.SelectedMessages)
	if err != nil {
		d.logger().Error("listing selected messages failed", zap.String("folder", info.SelectedMessages.Folder), zap.Error(err))
		return 0
	}

	processed := 0
	for page != nil {
		for _, m := range page.Messages {
			if ctx.Err() != nil {
				return processed
			}
			if m.Folder == nil {
				d.count(ctx, metrics.TriggerMenu, metrics.ResultSkipped)
				continue
			}
			if d.handle(ctx, st, metrics.TriggerMenu, m) {
				processed++
			}
		}
		if page.ID == "" {
			break
		}
		page, err = st.ContinueList(ctx, page.ID)
		if err != nil {
			d.logger().Error("continuing selection failed", zap.Error(err))
			break
		}
	}

	if processed > 0 {
		d.logger().Info("processed selected messages", zap.String("folder", info.SelectedMessages.Folder), zap.Int("count", processed))
	}
	return processed
}

func (d *Dispatcher) handle(ctx context.Context, st mailstore.Store, trigger string, m *domain.Message) bool {
	ok, err := d.Processor.Process(ctx, st, m)
	switch {
	case err != nil:
		d.logger().Error("processing failed", zap.Stringer("message", m.ID), zap.String("trigger", trigger), zap.Error(err))
		d.count(ctx, trigger, metrics.ResultFailed)
	case ok:
		d.count(ctx, trigger, metrics.ResultProcessed)
	default:
		d.count(ctx, trigger, metrics.ResultSkipped)
	}
	return ok
}

func (d *Dispatcher) count(ctx context.Context, trigger, result string) {
	if d.Metrics != nil {
		d.Metrics.MessagesTotal.WithLabelValues(trigger, result).Inc()
	}
	if d.Stats != nil {
		if err := d.Stats.IncrStat(context.WithoutCancel(ctx), trigger, result); err != nil {
			d.logger().Warn("stats update failed", zap.Error(err))
		}
	}
}

func (d *Dispatcher) observe(trigger string, start time.Time) {
	if d.Metrics != nil {
		d.Metrics.BatchDuration.WithLabelValues(trigger).Observe(time.Since(start).Seconds())
	}
}

func (d *Dispatcher) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}
