// Package plugin implements the Core Lightning plugin protocol: JSON-RPC 2.0
// messages exchanged with lightningd over stdin and stdout.
package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/cln-scb-backup/internal/config"
)

const (
	OptionConfigPath    = "backup-config-path"
	MethodUpload        = "staticbackup-upload"
	TopicChannelChanged = "channel_state_changed"
)

// Runner performs one backup.
type Runner interface {
	Run(ctx context.Context) error
}

// InitFunc builds the Runner once lightningd has sent its configuration.
type InitFunc func(ctx context.Context, req InitRequest) (Runner, error)

// Plugin serves one lightningd session.
type Plugin struct {
	in   io.Reader
	out  io.Writer
	init InitFunc

	// InitialBackup runs a backup right after a successful init.
	InitialBackup bool

	wmu sync.Mutex
	enc *json.Encoder

	mu     sync.RWMutex
	runner Runner

	wg sync.WaitGroup
}

// New returns a plugin reading requests from in and writing replies to out.
func New(in io.Reader, out io.Writer, init InitFunc) *Plugin {
	return &Plugin{in: in, out: out, init: init, enc: json.NewEncoder(out), InitialBackup: true}
}

// DefaultManifest is what getmanifest answers.
func DefaultManifest() Manifest {
	return Manifest{
		Options: []Option{{
			Name:        OptionConfigPath,
			Type:        "string",
			Default:     config.DefaultPath,
			Description: "Path to the backup configuration file (absolute or relative to lightning directory)",
		}},
		RPCMethods: []RPCMethod{{
			Name:        MethodUpload,
			Usage:       "",
			Description: "Uploads a static backup of all channels",
		}},
		Subscriptions: []string{TopicChannelChanged},
		Hooks:         []string{},
		Dynamic:       true,
	}
}

// ConfigPath resolves the backup-config-path option against lightning-dir.
func ConfigPath(req InitRequest) string {
	p := req.Option(OptionConfigPath, config.DefaultPath)
	if filepath.IsAbs(p) || req.Configuration.LightningDir == "" {
		return p
	}
	return filepath.Join(req.Configuration.LightningDir, p)
}

// Serve handles messages until in is closed, then waits for running
// handlers. getmanifest and init are answered in order; everything else runs
// in its own goroutine.
func (p *Plugin) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		p.wg.Wait()
		cancel()
	}()

	dec := json.NewDecoder(p.in)
	for {
		var msg message
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				log.Info().Str("action", "plugin_stop").Msg("lightningd closed the channel")
				return nil
			}
			return fmt.Errorf("plugin: read: %w", err)
		}

		switch msg.Method {
		case "getmanifest":
			p.respond(msg.ID, DefaultManifest(), nil)
		case "init":
			p.handleInit(ctx, msg)
		default:
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				p.dispatch(ctx, msg)
			}()
		}
	}
}

func (p *Plugin) handleInit(ctx context.Context, msg message) {
	var req InitRequest
	if err := json.Unmarshal(msg.Params, &req); err != nil {
		p.respond(msg.ID, nil, &rpcError{Code: codeInvalidParams, Message: err.Error()})
		return
	}
	runner, err := p.init(ctx, req)
	if err != nil {
		log.Error().Err(err).Str("action", "plugin_init").Msg("disabling plugin")
		p.respond(msg.ID, map[string]string{"disable": err.Error()}, nil)
		return
	}

	p.mu.Lock()
	p.runner = runner
	p.mu.Unlock()
	p.respond(msg.ID, map[string]any{}, nil)
	log.Info().Str("action", "plugin_init").Str("config", ConfigPath(req)).Msg("plugin ready")

	if p.InitialBackup {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			if err := runner.Run(ctx); err != nil {
				log.Error().Err(err).Str("action", "plugin_initial_backup").Msg("could not upload backup")
			}
		}()
	}
}

func (p *Plugin) dispatch(ctx context.Context, msg message) {
	runner := p.currentRunner()

	switch msg.Method {
	case MethodUpload:
		if runner == nil {
			p.respond(msg.ID, nil, &rpcError{Code: codeInternal, Message: "plugin not initialized"})
			return
		}
		if err := runner.Run(ctx); err != nil {
			p.respond(msg.ID, nil, &rpcError{Code: codeInternal, Message: err.Error()})
			return
		}
		p.respond(msg.ID, map[string]any{}, nil)

	case TopicChannelChanged:
		if runner == nil {
			return
		}
		if err := runner.Run(ctx); err != nil {
			log.Error().Err(err).Str("action", "channel_state_changed").Msg("could not upload backup")
		}

	default:
		if msg.isNotification() {
			log.Debug().Str("action", "plugin_notification").Str("method", msg.Method).Msg("ignored")
			return
		}
		p.respond(msg.ID, nil, &rpcError{Code: codeMethodNotFound, Message: "unknown method: " + msg.Method})
	}
}

func (p *Plugin) currentRunner() Runner {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.runner
}

func (p *Plugin) respond(id json.RawMessage, result any, rerr *rpcError) {
	if len(id) == 0 {
		return
	}
	r := reply{JSONRPC: "2.0", ID: id, Error: rerr}
	if rerr == nil {
		b, err := json.Marshal(result)
		if err != nil {
			r.Error = &rpcError{Code: codeInternal, Message: err.Error()}
		} else {
			r.Result = b
		}
	}
	p.wmu.Lock()
	defer p.wmu.Unlock()
	if err := p.enc.Encode(r); err != nil {
		log.Error().Err(err).Str("action", "plugin_write").Msg("write reply failed")
		return
	}
	// lightningd expects a blank line between messages.
	_, _ = io.WriteString(p.out, "\n")
}
