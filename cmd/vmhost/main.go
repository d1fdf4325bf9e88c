package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/vmhost/server/internal/config"
	"github.com/vmhost/server/internal/core/event"
	coresys "github.com/vmhost/server/internal/core/system"
	"github.com/vmhost/server/internal/data"
	"github.com/vmhost/server/internal/handler"
	gonet "github.com/vmhost/server/internal/net"
	"github.com/vmhost/server/internal/net/packet"
	"github.com/vmhost/server/internal/persist"
	"github.com/vmhost/server/internal/runtime"
	"github.com/vmhost/server/internal/scripting"
	"github.com/vmhost/server/internal/system"
	"github.com/vmhost/server/internal/world"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/crypto/bcrypt"
)

var cfgFile string

func main() {
	root := &cobra.Command{
		Use:           "vmhost",
		Short:         "Phase-scheduled sandboxed program host",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $VMHOST_CONFIG, else built-in defaults)")

	root.AddCommand(runCmd())
	root.AddCommand(checkCmd())
	root.AddCommand(hashTokenCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = os.Getenv("VMHOST_CONFIG")
	}
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Load scenes and drive the runtime until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [scene.yaml...]",
		Short: "Validate scene manifests and compile their scripts without running them",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			scenes := args
			if len(scenes) == 0 {
				scenes = cfg.Runtime.Scenes
			}
			return checkScenes(cmd.OutOrStdout(), cfg.Runtime.ScriptsDir, scenes)
		},
	}
}

func hashTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-token <token>",
		Short: "Print the bcrypt hash to put in feed.token_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := bcrypt.GenerateFromPassword([]byte(args[0]), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("hash token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(hash))
			return nil
		},
	}
}

// checkScenes reports every manifest and script problem it finds and fails
// if there was at least one.
func checkScenes(out io.Writer, scriptsDir string, scenes []string) error {
	if len(scenes) == 0 {
		return fmt.Errorf("no scenes to check")
	}
	failed := 0
	compiled := make(map[string]bool)
	for _, path := range scenes {
		m, err := data.LoadScene(path)
		if err != nil {
			fmt.Fprintf(out, "FAIL %s: %v\n", path, err)
			failed++
			continue
		}
		entities, programs := m.Count()
		fmt.Fprintf(out, "ok   %s: scene %q, %d entities, %d programs\n", path, m.Name, entities, programs)

		for _, script := range m.Scripts() {
			if _, done := compiled[script]; done {
				continue
			}
			c, err := scripting.CompileFile(filepath.Join(scriptsDir, script))
			compiled[script] = err == nil
			if err != nil {
				fmt.Fprintf(out, "FAIL %s: %v\n", script, err)
				failed++
				continue
			}
			fmt.Fprintf(out, "ok   %s: %s\n", script, c.Digest[:12])
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d problem(s) found", failed)
	}
	return nil
}

func run(cfg *config.Config) error {
	base, level, err := newLogger(cfg.Logging, cfg.Runtime.DebugLogging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer base.Sync()
	log := base
	rtLog := base.Named("runtime")
	if cfg.Runtime.DebugLogging {
		// Only the runtime goes to debug; everything else keeps its level.
		log = base.WithOptions(zap.IncreaseLevel(level))
	}

	// Journal
	var journal persist.Journal
	if cfg.Database.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		db, err := persist.NewDB(ctx, cfg.Database, log.Named("db"))
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()
		if err := persist.RunMigrations(ctx, db.Pool, log); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		journal = persist.NewJournalRepo(db)
	}

	// Runtime, host world and loader
	mgr := runtime.NewManager(scripting.NewFactory(cfg.Runtime.CallStack, rtLog), rtLog)
	mgr.SetEnabled(cfg.Runtime.Enabled)
	bus := event.NewBus()
	mgr.SetObserver(system.NewBusObserver(bus))

	ws := world.NewState(mgr, log.Named("world"))
	loader := scripting.NewLoader(cfg.Runtime.ScriptsDir, mgr, ws, cfg.Runtime.CallTimeout, rtLog)

	mgr.BlacklistAll(ws.AssetHandles(cfg.Runtime.Blacklist))
	log.Info("blacklist seeded", zap.Int("objects", mgr.Filter().Len()))

	for i, path := range cfg.Runtime.Scenes {
		m, err := data.LoadScene(path)
		if err != nil {
			return err
		}
		if _, _, err := ws.Load(m, loader, i > 0); err != nil {
			return err
		}
	}

	// Frame systems
	runner := coresys.NewRunner(cfg.Loop.FixedStep, cfg.Loop.MaxFixedSteps)
	runner.Register(system.NewFixedUpdateSystem(mgr))
	runner.Register(system.NewUpdateSystem(mgr))
	runner.Register(system.NewLateUpdateSystem(mgr))
	journalSys := system.NewJournalSystem(bus, journal, cfg.Database.JournalBatch, log.Named("journal"))
	runner.Register(journalSys)
	runner.Register(system.NewCleanupSystem(ws))

	// Input feed
	var feed *gonet.Server
	var input *system.InputSystem
	if cfg.Feed.Enabled {
		cs, err := packet.LookupCharset(cfg.Feed.Charset)
		if err != nil {
			return fmt.Errorf("feed: %w", err)
		}
		feed, err = gonet.NewServer(cfg.Feed.BindAddress, gonet.SessionOptions{
			InQueueSize:      cfg.Feed.InQueueSize,
			OutQueueSize:     cfg.Feed.OutQueueSize,
			PacketsPerSecond: cfg.Feed.PacketsPerSecond,
			ReadTimeout:      cfg.Feed.ReadTimeout,
			WriteTimeout:     cfg.Feed.WriteTimeout,
		}, log.Named("feed"))
		if err != nil {
			return fmt.Errorf("feed listen: %w", err)
		}
		deps := &handler.Deps{
			Runtime:   mgr,
			Targets:   ws,
			TokenHash: []byte(cfg.Feed.TokenHash),
			Charset:   cs,
			Log:       log.Named("feed"),
		}
		reg := packet.NewRegistry(cs, log.Named("feed"))
		handler.RegisterAll(reg, deps)
		input = system.NewInputSystem(feed, reg, deps, cfg.Feed.MaxPacketsPerTick, log.Named("feed"))
		runner.Register(input)
		go feed.AcceptLoop()
		log.Info("input feed listening", zap.Stringer("addr", feed.Addr()), zap.String("charset", cs.Name()))
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Loop.TickRate)
	defer ticker.Stop()

	log.Info("vmhost ready",
		zap.Bool("enabled", mgr.Enabled()),
		zap.Int("scenes", len(ws.Scenes())),
		zap.Int("scripts", loader.Cached()),
		zap.Duration("tick_rate", cfg.Loop.TickRate),
	)

	last := time.Now()
	for {
		select {
		case now := <-ticker.C:
			runner.Tick(now.Sub(last))
			last = now
		case sig := <-shutdownCh:
			log.Info("shutdown signal received", zap.String("signal", sig.String()))
			if feed != nil {
				feed.Shutdown()
				input.CloseAll()
			}
			for _, sc := range ws.Scenes() {
				ws.UnloadScene(sc.ID())
			}
			ws.Flush()
			journalSys.Update(0)
			log.Info("vmhost stopped",
				zap.Int("journal_written", journalSys.Written()),
				zap.Int("journal_dropped", journalSys.Dropped()),
			)
			return nil
		}
	}
}

// newLogger builds the process logger. With debugRuntime the core runs at
// debug and the returned level is the one non-runtime loggers should keep.
func newLogger(cfg config.LoggingConfig, debugRuntime bool) (*zap.Logger, zapcore.Level, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	if debugRuntime {
		zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	log, err := zapCfg.Build()
	return log, level, err
}
