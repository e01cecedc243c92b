package retention

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/manpreetbhatti/plaza/internal/metrics"
	"github.com/manpreetbhatti/plaza/internal/room"
)

type Config struct {
	Interval time.Duration
	// MaxAge is how long a stored room may go without a save.
	MaxAge time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval: 24 * time.Hour,
		MaxAge:   30 * 24 * time.Hour,
	}
}

// Service periodically purges stored rooms that were not saved recently.
type Service struct {
	purger room.Purger
	config Config
	now    func() time.Time
	log    zerolog.Logger
	stop   chan struct{}
	wg     sync.WaitGroup
}

func New(purger room.Purger, config Config, log zerolog.Logger) *Service {
	return &Service{
		purger: purger,
		config: config,
		now:    time.Now,
		log:    log,
		stop:   make(chan struct{}),
	}
}

func (s *Service) Start() {
	s.wg.Add(1)
	go s.run()
	s.log.Info().Dur("interval", s.config.Interval).Dur("max_age", s.config.MaxAge).Msg("retention service started")
}

func (s *Service) Stop() {
	close(s.stop)
	s.wg.Wait()
	s.log.Info().Msg("retention service stopped")
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.purge()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.purge()
		}
	}
}

func (s *Service) purge() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := s.PurgeNow(ctx); err != nil {
		s.log.Error().Err(err).Msg("retention purge failed")
	}
}

// PurgeNow removes every stored room last saved more than MaxAge ago.
func (s *Service) PurgeNow(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.config.MaxAge)
	n, err := s.purger.PurgeOlderThan(ctx, cutoff)
	metrics.PersistenceOps.WithLabelValues("purge", metrics.Result(err)).Inc()
	if err != nil {
		return n, err
	}
	metrics.RoomsPurged.Add(float64(n))
	if n > 0 {
		s.log.Info().Int("rooms", n).Time("cutoff", cutoff).Msg("purged old rooms")
	} else {
		s.log.Debug().Time("cutoff", cutoff).Msg("no old rooms to purge")
	}
	return n, nil
}
