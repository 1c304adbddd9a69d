package service

import (
	"context"
	"fmt"

	"deposit-ledger/internal/core/ports"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// SweepSchedule runs batch sweeps on a cron spec. A run still in progress
// when the next one is due causes that next run to be skipped.
type SweepSchedule struct {
	cron      *cron.Cron
	agent     ports.SweepAgent
	minRetain uint64
	log       zerolog.Logger
	ctx       context.Context
}

// NewSweepSchedule parses spec (standard 5-field cron or a descriptor such as "@daily").
func NewSweepSchedule(spec string, agent ports.SweepAgent, minRetain uint64, log zerolog.Logger) (*SweepSchedule, error) {
	cl := cronLogger{log: log}
	s := &SweepSchedule{
		cron:      cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		agent:     agent,
		minRetain: minRetain,
		log:       log,
		ctx:       context.Background(),
	}
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins scheduling. Runs use ctx.
func (s *SweepSchedule) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	for _, e := range s.cron.Entries() {
		s.log.Info().Time("next_run", e.Next).Msg("sweep schedule started")
	}
}

// Stop stops scheduling and waits for a running sweep, or for ctx to end.
func (s *SweepSchedule) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SweepSchedule) run() {
	batch, err := s.agent.SweepAll(s.ctx, s.minRetain)
	if err != nil {
		s.log.Error().Err(err).Msg("scheduled sweep aborted")
		return
	}
	s.log.Info().
		Str("batch_id", batch.BatchID).
		Int("succeeded", batch.Succeeded).
		Int("failed", batch.Failed).
		Uint64("total_lamports", batch.TotalLamports).
		Msg("scheduled sweep finished")
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
