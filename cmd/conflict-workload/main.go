package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pingcap-incubator/conflictkv/config"
	"github.com/pingcap-incubator/conflictkv/workload"
	"github.com/pingcap-incubator/conflictkv/workload/api"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

var (
	configPath string
	duration   time.Duration
	actors     int
	seed       int64
	engine     string
	dbPath     string
	statusAddr string
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sc := make(chan os.Signal, 1)
	signal.Notify(sc,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)
	go func() {
		sig := <-sc
		fmt.Printf("\nGot signal [%v] to exit.\n", sig)
		cancel()
		sig = <-sc
		fmt.Printf("\nGot signal [%v] again to exit.\n", sig)
		os.Exit(1)
	}()

	rootCmd := newRootCommand(ctx)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errors.ErrorStack(err))
		os.Exit(1)
	}
}

func newRootCommand(ctx context.Context) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "conflict-workload",
		Short:         "Check the conflicting keys a transactional store reports",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(ctx, cmd.Flags())
		},
	}
	registerFlags(rootCmd.Flags())
	return rootCmd
}

func registerFlags(flags *pflag.FlagSet) {
	flags.StringVar(&configPath, "config", "", "config file path")
	flags.DurationVar(&duration, "duration", 0, "test duration, overrides workload.test-duration")
	flags.IntVar(&actors, "actors", 0, "concurrent actors, overrides workload.actors-per-client")
	flags.Int64Var(&seed, "seed", 0, "random seed, overrides workload.seed")
	flags.StringVar(&engine, "engine", "", "store engine: memory, badger or foundationdb")
	flags.StringVar(&dbPath, "db-path", "", "badger data directory")
	flags.StringVar(&statusAddr, "status-addr", "", "status server address, empty disables it")
}

func run(ctx context.Context, flags *pflag.FlagSet) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	logger, err := cfg.SetupLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()
	log.Info("config", zap.Stringer("config", cfg))

	db, err := openDatabase(&cfg.Store)
	if err != nil {
		return err
	}
	defer db.Close()

	w := workload.New(cfg.Workload, db, nil, logger)
	if cfg.StatusAddr != "" {
		srv := &http.Server{Addr: cfg.StatusAddr, Handler: api.NewHandler(w, cfg)}
		go func() {
			log.Info("status server listening", zap.String("addr", cfg.StatusAddr))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("status server failed", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	if err := w.Start(ctx); err != nil {
		return err
	}
	for _, m := range w.Metrics() {
		fmt.Println(m)
	}
	if !w.Check() {
		return errors.Errorf("%d invalid conflicting key reports", w.Counters().InvalidReports.Load())
	}
	return nil
}

// loadConfig reads the config file, if any, and applies the flags that were set on top.
func loadConfig(flags *pflag.FlagSet) (*config.Config, error) {
	cfg := config.NewDefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = config.LoadFile(configPath); err != nil {
			return nil, err
		}
	}
	if flags.Changed("duration") {
		cfg.Workload.TestDuration = config.NewDuration(duration)
	}
	if flags.Changed("actors") {
		cfg.Workload.ActorsPerClient = actors
	}
	if flags.Changed("seed") {
		cfg.Workload.Seed = seed
	}
	if flags.Changed("engine") {
		cfg.Store.Engine = engine
	}
	if flags.Changed("db-path") {
		cfg.Store.DBPath = dbPath
	}
	if flags.Changed("status-addr") {
		cfg.StatusAddr = statusAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
