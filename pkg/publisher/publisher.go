package publisher

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/credon/veridex/pkg/log"
	"github.com/credon/veridex/pkg/statuslist"
)

// DefaultInterval is the republication cadence when none is configured.
const DefaultInterval = 30 * time.Second

// Publisher republishes status list credentials whose working bitstring has
// changed since their last publication, so status updates become visible
// without an explicit publish call.
type Publisher struct {
	lists    *statuslist.Manager
	interval time.Duration
	logger   zerolog.Logger
	stopCh   chan struct{}
}

// New creates a publisher over the given status list manager.
func New(lists *statuslist.Manager, interval time.Duration) *Publisher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Publisher{
		lists:    lists,
		interval: interval,
		logger:   log.WithComponent("publisher"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the republication loop.
func (p *Publisher) Start() {
	go p.run()
}

// Stop stops the publisher.
func (p *Publisher) Stop() {
	close(p.stopCh)
}

func (p *Publisher) run() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info().Dur("interval", p.interval).Msg("Publisher started")

	for {
		select {
		case <-ticker.C:
			if err := p.publishDirty(); err != nil {
				// Log error but continue
				p.logger.Error().Err(err).Msg("Republication cycle failed")
			}
		case <-p.stopCh:
			p.logger.Info().Msg("Publisher stopped")
			return
		}
	}
}

// publishDirty performs one republication cycle.
func (p *Publisher) publishDirty() error {
	ctx, cancel := context.WithTimeout(context.Background(), p.interval)
	defer cancel()

	dirty, err := p.lists.DirtyLists(ctx)
	if err != nil {
		return err
	}
	for _, listID := range dirty {
		if _, err := p.lists.Publish(ctx, listID); err != nil {
			p.logger.Error().Err(err).Str("list_id", listID).
				Msg("Failed to republish status list")
			continue
		}
		p.logger.Debug().Str("list_id", listID).Msg("Status list republished")
	}
	return nil
}
