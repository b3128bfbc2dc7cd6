package config

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Provider hands out read-only config snapshots and swaps them atomically on reload.
type Provider struct {
	path    string
	current atomic.Pointer[Config]
	modTime atomic.Int64
	log     zerolog.Logger
}

// NewProvider wraps an already-loaded config. path may be empty for a static provider.
func NewProvider(path string, initial *Config, log zerolog.Logger) *Provider {
	if initial == nil {
		initial = Default()
	}
	p := &Provider{path: path, log: log}
	p.current.Store(initial)
	if st, err := os.Stat(path); err == nil {
		p.modTime.Store(st.ModTime().UnixNano())
	}
	return p
}

// Snapshot returns the current configuration. Callers must treat it as immutable.
func (p *Provider) Snapshot() *Config { return p.current.Load() }

// Reload re-reads the file. On failure the previous snapshot stays in place.
func (p *Provider) Reload() error {
	if p.path == "" {
		return nil
	}
	cfg, err := Load(p.path)
	if err != nil {
		return err
	}
	p.current.Store(cfg)
	return nil
}

// Watch polls the file's modification time and reloads when it changes.
func (p *Provider) Watch(ctx context.Context, every time.Duration) {
	if p.path == "" {
		return
	}
	if every <= 0 {
		every = 5 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st, err := os.Stat(p.path)
			if err != nil {
				p.log.Warn().Err(err).Str("path", p.path).Msg("stat config")
				continue
			}
			mt := st.ModTime().UnixNano()
			if mt == p.modTime.Load() {
				continue
			}
			p.modTime.Store(mt)
			if err := p.Reload(); err != nil {
				p.log.Error().Err(err).Msg("config reload failed, keeping previous snapshot")
				continue
			}
			p.log.Info().Str("path", p.path).Msg("config reloaded")
		}
	}
}
