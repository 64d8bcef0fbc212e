package notification

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Sweeper periodically drains the quiet-hours queue. Multiple instances are
// safe: each due item is individually claimed with an atomic status flip, so
// two sweepers never send the same item.
type Sweeper struct {
	orch     *Orchestrator
	interval time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	log zerolog.Logger
}

// NewSweeper creates a sweeper over the orchestrator's queue.
func NewSweeper(orch *Orchestrator, interval time.Duration, log zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		orch:     orch,
		interval: interval,
		stopCh:   make(chan struct{}),
		log:      log,
	}
}

// Start launches the sweep loop. Call Stop to end it.
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go s.run()
	s.log.Info().Dur("interval", s.interval).Msg("notification queue sweeper started")
}

// Stop ends the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	s.log.Info().Msg("notification queue sweeper stopped")
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	sent, err := s.orch.ProcessDueQueue(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("queue sweep failed")
		return
	}
	if sent > 0 {
		s.log.Info().Int("sent", sent).Msg("queue sweep delivered deferred notifications")
	}
}
