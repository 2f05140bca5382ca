package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

type pastFinisher interface {
	FinishPast(ctx context.Context) (int, error)
}

type voiceRequeuer interface {
	RequeueUnprocessedVoice(ctx context.Context) (int, error)
}

// Sweeper periodically persists Finished for appointments whose slot has passed
// and, when configured, requeues voice recordings that were never analyzed.
type Sweeper struct {
	appointments pastFinisher
	voice        voiceRequeuer
	logger       zerolog.Logger
	interval     time.Duration
}

func NewSweeper(appointments pastFinisher, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		appointments: appointments,
		logger:       logger.With().Str("component", "sweeper").Logger(),
		interval:     5 * time.Minute,
	}
}

func (s *Sweeper) WithInterval(d time.Duration) *Sweeper {
	if d > 0 {
		s.interval = d
	}
	return s
}

func (s *Sweeper) WithVoiceRequeue(r voiceRequeuer) *Sweeper {
	s.voice = r
	return s
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	if _, err := s.appointments.FinishPast(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error().Err(err).Msg("finish past appointments failed")
	}
	if s.voice == nil {
		return
	}
	if _, err := s.voice.RequeueUnprocessedVoice(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error().Err(err).Msg("requeue unprocessed voice failed")
	}
}
