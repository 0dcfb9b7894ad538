package device

import (
	"context"
	"sync"
	"time"
)

// DefaultPruneInterval is how often the Pruner trims state history.
const DefaultPruneInterval = 24 * time.Hour

// HistoryPruner deletes history rows older than a retention period.
type HistoryPruner interface {
	PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Pruner trims state history once at start and then on a fixed interval.
type Pruner struct {
	history   HistoryPruner
	retention time.Duration
	interval  time.Duration
	logger    Logger

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewPruner creates a pruner. A non-positive interval uses DefaultPruneInterval.
func NewPruner(history HistoryPruner, retention, interval time.Duration, logger Logger) *Pruner {
	if interval <= 0 {
		interval = DefaultPruneInterval
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Pruner{
		history:   history,
		retention: retention,
		interval:  interval,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Start launches the prune loop. It returns immediately.
func (p *Pruner) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.prune(ctx)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.done:
				return
			case <-ticker.C:
				p.prune(ctx)
			}
		}
	}()
}

// Stop ends the loop and waits for an in-flight prune.
func (p *Pruner) Stop() {
	p.stopOnce.Do(func() { close(p.done) })
	p.wg.Wait()
}

func (p *Pruner) prune(ctx context.Context) {
	n, err := p.history.PruneHistory(ctx, p.retention)
	if err != nil {
		p.logger.Warn("pruning state history failed", "error", err)
		return
	}
	if n > 0 {
		p.logger.Info("state history pruned", "deleted", n, "retention", p.retention.String())
	}
}
