// Package supervisor implements the C9 tick loop of spec §5: a single
// driver per process invoking, in fixed order, heartbeat, upload-reconcile,
// download-reconcile, one feed poll, and admission-to-fixpoint.
//
// Grounded on the teacher's internal/torrent/queue.go Start loop: a
// time.Ticker driving a sequence of maintenance steps with panics recovered
// per-step so one failing step never stops the loop.
package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ptrepost/ptrepost/internal/admission"
	"github.com/ptrepost/ptrepost/internal/config"
	"github.com/ptrepost/ptrepost/internal/feed"
	"github.com/ptrepost/ptrepost/internal/reconcile"
	"github.com/ptrepost/ptrepost/internal/store"
)

// Supervisor drives one node's tick loop.
type Supervisor struct {
	store     *store.Store
	poller    *feed.Poller
	admission *admission.Controller
	downloads *reconcile.DownloadReconciler
	uploads   *reconcile.UploadReconciler
	cfg       *config.Config
	log       zerolog.Logger
}

// New builds a Supervisor from its already-constructed components.
func New(
	st *store.Store,
	poller *feed.Poller,
	admissionCtrl *admission.Controller,
	downloads *reconcile.DownloadReconciler,
	uploads *reconcile.UploadReconciler,
	cfg *config.Config,
	log zerolog.Logger,
) *Supervisor {
	return &Supervisor{
		store:     st,
		poller:    poller,
		admission: admissionCtrl,
		downloads: downloads,
		uploads:   uploads,
		cfg:       cfg,
		log:       log,
	}
}

// Run blocks, ticking every cfg.TickInterval until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one pass of the fixed order in spec §5: heartbeat →
// upload-reconcile → download-reconcile → feed-poll (one) → admission (to
// fixpoint). Each step's error is logged and swallowed so one misbehaving
// step never blocks the rest of the tick or the next one (spec §7 "the tick
// proceeds, next tick retries").
func (s *Supervisor) tick(ctx context.Context) {
	s.runStep(ctx, "heartbeat", s.heartbeat)
	s.runStep(ctx, "upload-reconcile", s.uploads.Run)
	s.runStep(ctx, "download-reconcile", s.downloads.Run)
	s.runStep(ctx, "feed-poll", func(ctx context.Context) error {
		return s.poller.PollDue(ctx, s.cfg.Feeds)
	})
	s.runStep(ctx, "admission", s.admission.RunToFixpoint)
}

func (s *Supervisor) runStep(ctx context.Context, name string, fn func(context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Str("step", name).Msg("tick step panicked, continuing")
		}
	}()
	if err := fn(ctx); err != nil {
		s.log.Error().Err(err).Str("step", name).Msg("tick step failed")
	}
}

// heartbeat upserts this node's liveness row (spec §3 Node, C8).
func (s *Supervisor) heartbeat(ctx context.Context) error {
	_, err := s.store.ExecContext(ctx, `
		INSERT INTO node (id, last_seen) VALUES ($1, now())
		ON CONFLICT (id) DO UPDATE SET last_seen = now()`, s.cfg.NodeID)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}
