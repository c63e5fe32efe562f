// Package backup captures the static channel backup, compresses it and
// uploads it to every configured destination.
package backup

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/cln-scb-backup/internal/compression"
	"github.com/Chapsvision-dev/cln-scb-backup/internal/provider"
	"github.com/Chapsvision-dev/cln-scb-backup/internal/snapshot"
)

// Options tunes a Backup. The zero value is usable.
type Options struct {
	// Now is the clock used for artifact names (default: time.Now).
	Now func() time.Time
}

// Backup runs one capture/compress/upload cycle at a time.
type Backup struct {
	capturer   snapshot.Capturer
	compressor compression.Compressor
	provider   provider.Provider
	now        func() time.Time
	encode     func(snapshot.Snapshot) ([]byte, error)

	mu sync.Mutex
}

// Result describes a successful run.
type Result struct {
	RunID    string
	Artifact string
	Units    int
	Bytes    int
}

// New wires a capturer, a compressor and a destination (usually a
// *provider.Multi).
func New(c snapshot.Capturer, comp compression.Compressor, p provider.Provider, opts Options) *Backup {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Backup{capturer: c, compressor: comp, provider: p, now: now, encode: snapshot.Encode}
}

// Run performs a full cycle. Concurrent calls wait for each other.
func (b *Backup) Run(ctx context.Context) error {
	_, err := b.RunResult(ctx)
	return err
}

// RunResult is Run returning what was uploaded.
func (b *Backup) RunResult(ctx context.Context) (Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := time.Now()
	res := Result{RunID: uuid.NewString()}
	logger := log.With().Str("run_id", res.RunID).Logger()

	snap, err := b.capturer.Capture(ctx)
	if err != nil {
		logger.Error().Err(err).Str("action", "backup_capture").Msg("capture failed")
		return res, &Error{Kind: KindCapture, Err: err}
	}
	res.Units = snap.Units()

	data, err := b.encode(snap)
	if err != nil {
		logger.Error().Err(err).Str("action", "backup_serialize").Int("units", res.Units).Msg("serialization failed")
		return res, &Error{Kind: KindSerialize, Err: err}
	}

	res.Artifact = snapshot.ArtifactName(b.now(), b.compressor.Suffix())
	payload, err := b.compressor.Compress(data)
	if err != nil {
		logger.Error().Err(err).Str("action", "backup_compress").Str("artifact", res.Artifact).Msg("compression failed")
		return res, &Error{Kind: KindCompression, Err: err}
	}
	res.Bytes = len(payload)

	if err := b.provider.Put(ctx, res.Artifact, payload); err != nil {
		ev := logger.Error().Err(err).Str("action", "backup_upload").Str("artifact", res.Artifact)
		var me *provider.MultiError
		if errors.As(err, &me) {
			ev = ev.Strs("failed", me.Failed())
		}
		ev.Dur("elapsed_ms", time.Since(start)).Msg("upload failed")
		return res, &Error{Kind: KindUpload, Err: err}
	}

	logger.Info().
		Str("action", "backup").
		Int("units", res.Units).
		Str("artifact", res.Artifact).
		Strs("destinations", destinations(b.provider)).
		Int("bytes", res.Bytes).
		Dur("elapsed_ms", time.Since(start)).
		Msg("static backup uploaded")
	return res, nil
}

func destinations(p provider.Provider) []string {
	if m, ok := p.(*provider.Multi); ok {
		return m.Names()
	}
	return []string{p.Name()}
}
