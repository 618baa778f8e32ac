// Package cli is the queuectl command tree.
package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"queuectl/jobqueue"
	"queuectl/registry"
	"queuectl/settings"
	"queuectl/store"
	"queuectl/supervisor"
)

// app holds what every command needs once flags are parsed.
type app struct {
	mgr      *settings.Manager
	envFiles []string

	cfg settings.Settings
	log zerolog.Logger
	st  store.Store
	q   *jobqueue.Queue
	reg *registry.Registry
}

// printfLogger adapts zerolog to the Printf loggers the other packages accept.
type printfLogger struct{ l zerolog.Logger }

func (p printfLogger) Printf(format string, args ...any) { p.l.Info().Msgf(format, args...) }

func (a *app) logger() printfLogger { return printfLogger{a.log} }

func (a *app) open(cmd *cobra.Command) error {
	cfg, err := a.mgr.Load(a.envFiles...)
	if err != nil {
		return err
	}
	a.cfg = cfg

	a.log = zerolog.New(zerolog.ConsoleWriter{
		Out:        cmd.ErrOrStderr(),
		TimeFormat: time.RFC3339Nano,
		NoColor:    color.NoColor,
	}).Level(cfg.LogLevel).With().Timestamp().Int("pid", os.Getpid()).Logger()

	st, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	a.st = st
	a.q = jobqueue.NewQueue(st)
	a.reg = registry.New(st, registry.Options{})
	return nil
}

func (a *app) close() {
	if a.st == nil {
		return
	}
	if err := a.st.Close(); err != nil {
		a.log.Warn().Err(err).Msg("close store")
	}
}

func openStore(ctx context.Context, cfg settings.Settings) (store.Store, error) {
	switch cfg.Backend {
	case settings.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("pgxpool: %w", err)
		}
		st := store.NewPostgresStore(pool, store.DefaultLockOptions())
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return st, nil
	default:
		return store.NewFileStore(cfg.Home, store.DefaultLockOptions())
	}
}

func (a *app) supervisor() (*supervisor.Supervisor, error) {
	return supervisor.New(a.reg, supervisor.Options{
		Args:    a.workerArgs(),
		LogFile: a.cfg.LogFile(),
		Env:     a.workerEnv(),
		Logger:  a.logger(),
	})
}

// workerEnv carries the DSN, which may hold credentials, outside the argv.
func (a *app) workerEnv() []string {
	if a.cfg.DSN == "" {
		return nil
	}
	return []string{settings.EnvName(settings.KeyDSN) + "=" + a.cfg.DSN}
}

// workerArgs hands the resolved settings down to spawned workers.
func (a *app) workerArgs() []string {
	c := a.cfg
	return []string{
		"worker", "run",
		"--" + settings.KeyHome, c.Home,
		"--" + settings.KeyBackend, c.Backend,
		"--" + settings.KeyLogLevel, c.LogLevel.String(),
		"--" + settings.KeyPollInterval, c.PollInterval.String(),
		"--" + settings.KeyCommandTimeout, c.CommandTimeout.String(),
		"--" + settings.KeyOrphanAfter, c.OrphanAfter.String(),
	}
}

func newRootCommand(envFiles ...string) *cobra.Command {
	a := &app{envFiles: envFiles}

	root := &cobra.Command{
		Use:           "queuectl",
		Short:         "A local job queue for shell commands",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.close()
		},
	}
	a.mgr = settings.NewManager(root.PersistentFlags())

	root.AddCommand(
		enqueueCmd(a),
		listCmd(a),
		statusCmd(a),
		logsCmd(a),
		dlqCmd(a),
		configCmd(a),
		workerCmd(a),
		reapCmd(a),
		serveCmd(a),
	)
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	root := newRootCommand()
	if err := root.ExecuteContext(context.Background()); err != nil {
		color.New(color.FgRed).Fprintf(root.ErrOrStderr(), "Error: %v\n", err)
		return 1
	}
	return 0
}
