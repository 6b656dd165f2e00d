package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/rbright/hark/internal/fsm"
	"github.com/rbright/hark/internal/recognizer"
)

// RunPoll queries for results once uploads have started, every
// Config.PollInterval, until a complete transcript, an error, or
// cancellation. It always finishes by resetting the recognize machine.
func RunPoll(ctx context.Context, s *Session, d Deps) {
	log := d.Logger.With().Str("worker", "poll").Logger()

	err := guard(func() error { return poll(ctx, s, d, log) })
	if err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("poll failed")
		d.Hooks.FireRecognize(fsm.EventFail, err)
		d.Hooks.Exception(err)
	}

	d.Hooks.FireRecognize(fsm.EventReset, nil)
}

func poll(ctx context.Context, s *Session, d Deps, log zerolog.Logger) error {
	cfg := s.Config

	select {
	case <-ctx.Done():
		return nil
	case <-s.ResultsReady():
	}

	query := recognizer.Query{Cookie: s.Cookie, Kind: cfg.ResultKind}
	if cfg.ResultKind != recognizer.KindSTT {
		query.Hint = cfg.NLIHint
	}

	// reset after each query so a slow poll never shortens the next wait
	wait := time.NewTimer(cfg.PollInterval)
	defer wait.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return nil
		case <-wait.C:
		}

		start := time.Now()
		resp, err := d.Service.PollResult(ctx, query)
		if err == nil {
			err = resp.Err()
		}
		d.Metrics.Poll(err == nil, time.Since(start))
		wait.Reset(cfg.PollInterval)

		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Int("attempt", attempt).Msg("poll rejected")
			d.Hooks.ServerError(err)
			d.Hooks.FireRecognize(fsm.EventFail, err)
			return nil
		}
		if !resp.HasData {
			continue
		}

		d.Hooks.Result(resp)
		if resp.Transcript.Complete {
			log.Debug().Int("attempt", attempt).Msg("transcript complete")
			d.Hooks.FireRecognize(fsm.EventComplete, nil)
			return nil
		}
	}
}
