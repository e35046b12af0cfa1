// Package cli implements the tradelab command tree.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tradelab/internal/config"
	"tradelab/internal/store"
	"tradelab/internal/strategy"
	"tradelab/internal/strategy/builtins"
	"tradelab/internal/util"
)

// Version is printed by the version command.
var Version = "0.1.0"

// app carries state shared by all subcommands: global flags and the
// configuration and logger built from them.
type app struct {
	configPath string
	dbPath     string
	logLevel   string

	cfg *config.Config
	log *slog.Logger
}

// NewRootCommand builds the full command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "tradelab",
		Short: "Replay trading strategies over historical bars",
		Long: `tradelab replays a strategy over daily bars for one or more symbols,
records every round-trip trade and reports per-symbol performance against
buy-and-hold.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default $TRADELAB_CONFIG or "+config.DefaultPath+")")
	pf.StringVar(&a.dbPath, "db", "", "SQLite database for run history (overrides storage.sqlite_path)")
	pf.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error")

	root.AddCommand(
		a.backtestCommand(),
		a.gatherCommand(),
		a.serveCommand(),
		a.runsCommand(),
		a.strategiesCommand(),
		versionCommand(),
	)
	return root
}

// Execute runs the command tree and returns the process exit code.
func Execute() int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	root := NewRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(root.ErrOrStderr(), "error: %v\n", err)
		return 1
	}
	return 0
}

// load reads the configuration and builds the logger. A config file that
// was not asked for explicitly may be absent.
func (a *app) load(cmd *cobra.Command) error {
	path, explicit := config.Path(a.configPath)
	cfg, err := config.LoadOrDefault(path, explicit)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if a.dbPath != "" {
		cfg.Storage.SQLitePath = a.dbPath
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	a.cfg = cfg
	a.setLogger(cmd, cfg.Logging.Level)
	return nil
}

func (a *app) setLogger(cmd *cobra.Command, level string) {
	a.log = util.NewLogger(level, a.cfg.Logging.Format, cmd.ErrOrStderr())
	util.SetDefault(a.log)
}

// registry returns the bundled strategies configured from the strategies
// section.
func (a *app) registry() *strategy.Registry {
	s := a.cfg.Strategies
	return builtins.NewRegistry(builtins.Settings{
		SMAShort:  s.SMACross.Short,
		SMALong:   s.SMACross.Long,
		RSIPeriod: s.RSI.Period,
		RSILow:    s.RSI.Low,
		RSIHigh:   s.RSI.High,
	})
}

// openRuns opens the run database, or returns nil when none is configured.
func (a *app) openRuns() (*store.SQLiteStore, error) {
	if a.cfg.Storage.SQLitePath == "" {
		return nil, nil
	}
	db, err := store.NewSQLiteStore(a.cfg.Storage.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("opening run database: %w", err)
	}
	return db, nil
}

// requireRuns is openRuns for commands that cannot work without history.
func (a *app) requireRuns() (*store.SQLiteStore, error) {
	db, err := a.openRuns()
	if err == nil && db == nil {
		err = fmt.Errorf("no run database configured; pass --db or set storage.sqlite_path")
	}
	return db, err
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the tradelab version",
		Args:  cobra.NoArgs,
		// no config needed
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tradelab %s\n", Version)
		},
	}
}

