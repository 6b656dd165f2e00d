package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rbright/hark/internal/codec"
	"github.com/rbright/hark/internal/fsm"
	"github.com/rbright/hark/internal/recognizer"
)

const (
	codecMode    = 1
	codecQuality = 10
)

// RunUpload drains the queue in capture order, batching blocks into uploads
// of at least Config.UploadBatch. When the queue is closed and drained it
// appends one silent block and sends everything pending as the single final
// unit. Exactly one upload is in flight at a time.
func RunUpload(ctx context.Context, s *Session, d Deps) {
	log := d.Logger.With().Str("worker", "upload").Logger()

	err := guard(func() error { return upload(ctx, s, d, log) })

	if dropped := s.Queue.Clear(); dropped > 0 {
		log.Debug().Int("dropped", dropped).Msg("cleared queue")
	}
	if err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("upload failed")
		d.Hooks.FireRecognize(fsm.EventFail, err)
		d.Hooks.Exception(err)
	}
}

func upload(ctx context.Context, s *Session, d Deps, log zerolog.Logger) error {
	cfg := s.Config

	enc, err := codec.New(cfg.Compression)
	if err != nil {
		return err
	}
	opened := false
	defer func() {
		if opened {
			_ = enc.Close()
		}
	}()

	var (
		pending    []byte
		pendingDur time.Duration
		blocks     int
	)
	blockDur := cfg.BlockDuration()

	for {
		block, ok, err := s.Queue.Take(ctx)
		if err != nil {
			return nil
		}
		final := !ok
		if final {
			block = Block{Seq: -1, Samples: make([]int16, cfg.BlockSamples())}
		}

		if !opened {
			if err := enc.Open(codecMode, codecQuality); err != nil {
				return fmt.Errorf("open %s codec: %w", enc.Name(), err)
			}
			opened = true
		}
		data, err := enc.Encode(block.Samples)
		if err != nil {
			return fmt.Errorf("encode block %d: %w", block.Seq, err)
		}
		pending = append(pending, data...)
		pendingDur += blockDur
		blocks++

		if pendingDur < cfg.UploadBatch && !final {
			continue
		}

		if !flush(ctx, s, d, log, enc.Name(), pending, blocks, final) {
			return nil
		}
		pending, pendingDur, blocks = nil, 0, 0

		if final {
			s.finalSent.Store(true)
			return nil
		}
	}
}

// flush uploads one batch. A failure discards the batch, reports a server
// error and fails the recognize machine.
func flush(ctx context.Context, s *Session, d Deps, log zerolog.Logger, encoding string, audio []byte, blocks int, final bool) bool {
	start := time.Now()
	resp, err := d.Service.UploadAudio(ctx, recognizer.Upload{
		Cookie:     s.Cookie,
		Audio:      audio,
		Final:      final,
		Encoding:   encoding,
		SampleRate: s.Config.TargetRate,
	})
	if err == nil {
		err = resp.Err()
	}
	d.Metrics.Upload(err == nil, final, len(audio), time.Since(start))

	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		log.Error().Err(err).Int("blocks", blocks).Bool("final", final).Msg("upload rejected")
		d.Hooks.ServerError(err)
		d.Hooks.FireRecognize(fsm.EventFail, err)
		return false
	}

	log.Debug().Int("blocks", blocks).Int("bytes", len(audio)).Bool("final", final).Msg("uploaded")
	s.enableResults()
	return true
}
