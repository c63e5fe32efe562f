package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Chapsvision-dev/cln-scb-backup/internal/backup"
	"github.com/Chapsvision-dev/cln-scb-backup/internal/compression"
	"github.com/Chapsvision-dev/cln-scb-backup/internal/config"
	"github.com/Chapsvision-dev/cln-scb-backup/internal/destination"
	"github.com/Chapsvision-dev/cln-scb-backup/internal/lightning"
	"github.com/Chapsvision-dev/cln-scb-backup/internal/logx"
	"github.com/Chapsvision-dev/cln-scb-backup/internal/plugin"
	"github.com/Chapsvision-dev/cln-scb-backup/internal/provider"
	"github.com/Chapsvision-dev/cln-scb-backup/internal/snapshot"
	"github.com/Chapsvision-dev/cln-scb-backup/internal/version"
)

// Test seams, overridden in unit tests.
var (
	loadConfig        func(string) (config.Config, error)                           = config.Load
	buildDestinations func(context.Context, config.Config) (*provider.Multi, error) = destination.Build
	newCapturer       func(string, time.Duration) (snapshot.Capturer, error)        = dialLightning
	exit              func(int)                                                     = os.Exit
	stdin             io.Reader                                                     = os.Stdin
	stdout            io.Writer                                                     = os.Stdout
)

// lightningd sets this variable for every plugin it spawns.
const pluginEnv = "LIGHTNINGD_PLUGIN"

// usageError maps to exit code 2.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return usageError{msg: fmt.Sprintf("%s takes no arguments, got %q", cmd.Name(), args)}
	}
	return nil
}

func dialLightning(path string, timeout time.Duration) (snapshot.Capturer, error) {
	return lightning.New(path, timeout)
}

// main dispatches to the plugin loop or the standalone CLI.
// Exit codes: 0 success, 1 runtime error, 2 usage error.
func main() {
	if os.Getenv(pluginEnv) != "" {
		logx.InitFromEnvTo(os.Stderr)
		exit(runPlugin(context.Background()))
		return
	}

	_ = godotenv.Load() // best-effort
	logx.InitFromEnv()

	root := newRootCmd()
	root.SetArgs(os.Args[1:])
	if err := root.Execute(); err != nil {
		var ue usageError
		if errors.As(err, &ue) {
			fmt.Fprintln(os.Stderr, "error:", err)
			fmt.Fprint(os.Stderr, root.UsageString())
			exit(2)
			return
		}
		log.Error().Err(err).Msg("command failed")
		exit(1)
		return
	}
	exit(0)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "scbbackup",
		Short: "Replicate Core Lightning static channel backups to remote storage",
		Long: `scbbackup captures the node's static channel backup, compresses it and
uploads a timestamped copy to every configured destination (S3, WebDAV,
Azure Blob, Google Cloud Storage, local directory).

When started by lightningd it runs as a plugin: it uploads once at startup,
after every channel state change and on "lightning-cli staticbackup-upload".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return usageError{msg: fmt.Sprintf("unknown command %q", args[0])}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return usageError{msg: "a command is required"}
		},
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError{msg: err.Error()}
	})
	root.AddCommand(newBackupCmd(), newPluginCmd(), newVersionCmd())
	return root
}

func newBackupCmd() *cobra.Command {
	var configPath, rpcFile string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Capture and upload one static backup",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if strings.TrimSpace(rpcFile) != "" {
				cfg.RPCFile = rpcFile
			}
			if cfg.RPCFile == "" {
				return usageError{msg: "--rpc-file or LIGHTNING_RPC_FILE is required"}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			b, closer, err := newBackup(ctx, cfg, cfg.RPCFile)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := closer.Close(); cerr != nil {
					log.Warn().Err(cerr).Str("action", "shutdown").Msg("close destinations failed")
				}
			}()
			return b.Run(ctx)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (default $BACKUP_CONFIG_PATH or "+config.DefaultPath+")")
	cmd.Flags().StringVar(&rpcFile, "rpc-file", "", "path to the lightning-rpc socket (default $LIGHTNING_RPC_FILE)")
	return cmd
}

func newPluginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plugin",
		Short: "Speak the Core Lightning plugin protocol on stdin/stdout",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logx.InitFromEnvTo(os.Stderr)
			if code := runPlugin(cmd.Context()); code != 0 {
				return errors.New("plugin stopped with an error")
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  noArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(stdout, "%s %s\n", version.Name, version.Info())
		},
	}
}

// newBackup wires config -> destinations -> compressor -> lightning client.
// The returned closer releases the destination clients.
func newBackup(ctx context.Context, cfg config.Config, socket string) (*backup.Backup, io.Closer, error) {
	log.Info().
		Str("action", "config").
		Str("file", cfg.Path).
		Int("destinations", cfg.Destinations()).
		Msg("configuration loaded")

	multi, err := buildDestinations(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	comp, err := compression.New(cfg.CompressionType())
	if err != nil {
		_ = multi.Close()
		return nil, nil, err
	}
	capturer, err := newCapturer(socket, cfg.RPCTimeout)
	if err != nil {
		_ = multi.Close()
		return nil, nil, err
	}
	log.Info().
		Str("action", "setup").
		Str("compression", string(cfg.CompressionType())).
		Strs("destinations", multi.Names()).
		Str("rpc", socket).
		Msg("backup ready")
	return backup.New(capturer, comp, multi, backup.Options{}), multi, nil
}

func pluginInit(ctx context.Context, req plugin.InitRequest) (plugin.Runner, error) {
	path := plugin.ConfigPath(req)
	cfg, err := loadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
	}
	socket := lightning.SocketPath(req.Configuration.LightningDir, req.Configuration.RPCFile)
	// Destinations live as long as the plugin process.
	b, _, err := newBackup(ctx, cfg, socket)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func runPlugin(ctx context.Context) int {
	log.Info().Str("action", "plugin_start").Str("version", version.Info()).Msg("starting plugin")
	p := plugin.New(stdin, stdout, pluginInit)
	if err := p.Serve(ctx); err != nil {
		log.Error().Err(err).Str("action", "plugin_stop").Msg("plugin stopped")
		return 1
	}
	log.Info().Str("action", "plugin_stop").Msg("stopped plugin")
	return 0
}
