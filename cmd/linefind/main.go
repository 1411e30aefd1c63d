// Command linefind runs the exact line-membership query service.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
//   - Components scope loggers with their own attributes
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"linefind/internal/cert"
	"linefind/internal/config"
	"linefind/internal/corpus"
	"linefind/internal/daemon"
	"linefind/internal/index"
	"linefind/internal/logging"
	"linefind/internal/querylog"
	"linefind/internal/search"
	"linefind/internal/server"
)

var version = "dev"

// Exit codes per error kind.
const (
	exitOK     = 0
	exitConfig = 1
	exitBind   = 2
	exitTLS    = 3
	exitCorpus = 4
)

type flags struct {
	mode       string
	buffer     int
	ip         string
	configPath string
	algorithm  string
	verbose    bool
}

func main() {
	var f flags

	rootCmd := &cobra.Command{
		Use:           "linefind",
		Short:         "Exact line-membership query service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelInfo
			if f.verbose {
				level = slog.LevelDebug
			}
			logger := logging.Console(os.Stderr, level)

			if err := validateFlags(&f); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(),
				os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return run(ctx, logger, &f)
		},
	}

	rootCmd.Flags().StringVar(&f.mode, "mode", "normal", "run mode: normal or daemon")
	rootCmd.Flags().IntVar(&f.buffer, "buffer", 1, "index variant: 0=native-set, 1=hash, 2=trie, 3=none (mmap-scan); ignored when REREAD_ON_QUERY=true")
	rootCmd.Flags().StringVar(&f.ip, "ip", "public", "bind address: public (0.0.0.0) or local (127.0.0.1)")
	rootCmd.Flags().StringVar(&f.configPath, "config_path", config.DefaultPath, "config file path")
	rootCmd.Flags().StringVar(&f.algorithm, "algorithm", search.DefaultAlgorithm, "reread-mode search algorithm")
	rootCmd.Flags().BoolVar(&f.verbose, "verbose", false, "enable debug logging")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a running daemon and remove its /tmp artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return daemon.Stop()
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	rootCmd.AddCommand(stopCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func validateFlags(f *flags) error {
	if f.mode != "normal" && f.mode != "daemon" {
		return fmt.Errorf("invalid --mode %q (normal or daemon)", f.mode)
	}
	if f.ip != "public" && f.ip != "local" {
		return fmt.Errorf("invalid --ip %q (public or local)", f.ip)
	}
	if f.buffer < 0 || f.buffer > 3 {
		return fmt.Errorf("invalid --buffer %d (0..3)", f.buffer)
	}
	if _, err := search.Algorithm(f.algorithm); err != nil {
		return err
	}
	return nil
}

func run(ctx context.Context, logger *slog.Logger, f *flags) error {
	if f.mode == "daemon" {
		passthrough := []string{
			"--buffer", strconv.Itoa(f.buffer),
			"--ip", f.ip,
			"--algorithm", f.algorithm,
		}
		pid, err := daemon.Spawn(f.configPath, passthrough)
		if err != nil {
			return err
		}
		logger.Info("daemon started", "pid", pid,
			"stdout", daemon.StdoutLog, "stderr", daemon.StderrLog)
		return nil
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	logger.Info("configuration loaded",
		"corpus", cfg.CorpusPath,
		"reread_on_query", cfg.RereadOnQuery,
		"use_ssl", cfg.UseSSL,
		"port", cfg.Port)

	host := "0.0.0.0"
	if f.ip == "local" {
		host = "127.0.0.1"
	}
	addr := net.JoinHostPort(host, strconv.Itoa(cfg.Port))

	qlog, err := querylog.Open(filepath.Join(cfg.Dir, "logs", "queries.log"), logger)
	if err != nil {
		return err
	}
	defer func() { _ = qlog.Close() }()

	pool := search.NewPool(0, logger)

	// Index build and TLS setup are independent; run them concurrently.
	var (
		dispatcher *search.Dispatcher
		certMgr    *cert.Manager
	)
	g := new(errgroup.Group)
	g.Go(func() error {
		d, err := buildDispatcher(cfg, f, pool, logger)
		if err != nil {
			return err
		}
		dispatcher = d
		return nil
	})
	if cfg.UseSSL {
		g.Go(func() error {
			m, err := cert.New(cfg.Dir, logger)
			if err != nil {
				return err
			}
			certMgr = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if certMgr != nil {
		defer certMgr.Close()
	}
	defer closeIndex(dispatcher)

	var tlsConf *tls.Config
	if certMgr != nil {
		tlsConf = certMgr.TLSConfig()
	}

	srv := server.New(server.Options{
		Addr:       addr,
		TLS:        tlsConf,
		Dispatcher: dispatcher,
		QueryLog:   qlog,
		Logger:     logger,
	})
	if err := srv.Listen(ctx); err != nil {
		return err
	}
	return srv.Serve(ctx)
}

// buildDispatcher resolves the mode fixed for the process lifetime:
// either a prebuilt index or a per-query corpus scan.
func buildDispatcher(cfg *config.Config, f *flags, pool *search.Pool, logger *slog.Logger) (*search.Dispatcher, error) {
	if cfg.RereadOnQuery {
		scan, err := search.Algorithm(f.algorithm)
		if err != nil {
			return nil, err
		}
		logger.Info("reread mode", "algorithm", f.algorithm)
		return search.NewReread(pool, scan, cfg.CorpusPath, f.algorithm), nil
	}

	var builder index.Builder
	var err error
	if f.buffer == int(index.OptionMmapScan) {
		// Buffer option 3 carries no structure of its own; the algorithm
		// flag picks the prebuilt representation.
		builder, err = index.ForAlgorithm(f.algorithm)
	} else {
		builder, err = index.ForOption(index.Option(f.buffer))
	}
	if err != nil {
		return nil, err
	}

	idx, err := builder(cfg.CorpusPath)
	if err != nil {
		return nil, err
	}
	logger.Info("index built", "algorithm", idx.Algorithm(), "entries", idx.Len())
	return search.NewPreloaded(pool, idx), nil
}

// closeIndex releases index OS resources (the mmap variant).
func closeIndex(d *search.Dispatcher) {
	if d == nil {
		return
	}
	if c, ok := d.Index().(index.Closer); ok {
		_ = c.Close()
	}
}

// exitCode maps error kinds to the documented process exit codes.
func exitCode(err error) int {
	var (
		cfgErr    *config.Error
		bindErr   *server.BindError
		tlsErr    *cert.Error
		corpusErr *corpus.Error
	)
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &cfgErr):
		return exitConfig
	case errors.As(err, &bindErr):
		return exitBind
	case errors.As(err, &tlsErr):
		return exitTLS
	case errors.As(err, &corpusErr):
		return exitCorpus
	}
	return exitConfig
}
