package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/cln-scb-backup/internal/config"
)

// LocalProvider keeps artifacts in a directory on the node, typically a
// mount of another disk.
type LocalProvider struct {
	dir string
}

// New requires dir to exist and be a directory; it is never created.
func New(c config.LocalConfig) (*LocalProvider, error) {
	dir := strings.TrimSpace(c.Dir)
	if dir == "" {
		return nil, errors.New("local: dir is required")
	}
	fi, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("local: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("local: %s is not a directory", dir)
	}
	log.Info().Str("action", "local_init").Str("dir", dir).Msg("using local directory")
	return &LocalProvider{dir: dir}, nil
}

func (p *LocalProvider) Name() string { return "local:" + p.dir }

// Put writes dir/path through a .part file renamed into place.
func (p *LocalProvider) Put(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target := filepath.Join(p.dir, filepath.FromSlash(strings.TrimPrefix(path, "/")))
	if err := ensureParentDir(target); err != nil {
		return fmt.Errorf("local put %s: %w", path, err)
	}

	start := time.Now()
	if err := writeAtomic(target, data); err != nil {
		return fmt.Errorf("local put %s: %w", path, err)
	}
	log.Info().Str("action", "local_put").Str("file", target).Int("bytes", len(data)).
		Dur("elapsed_ms", time.Since(start)).Msg("write OK")
	return nil
}

func ensureParentDir(file string) error {
	if dir := filepath.Dir(file); dir != "" && dir != "." {
		return os.MkdirAll(dir, 0o755)
	}
	return nil
}

func writeAtomic(file string, data []byte) error {
	tmp := file + ".part"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := out.Write(data); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, file)
}
