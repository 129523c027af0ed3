package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcptap/mcptap/pkg/api"
	"github.com/mcptap/mcptap/pkg/logstore"
	"github.com/mcptap/mcptap/pkg/proxy"
	"github.com/mcptap/mcptap/pkg/session"
	"github.com/mcptap/mcptap/pkg/tokens"
)

var (
	runRecordPath string
	runEnvPairs   []string
	runServeAPI   bool
	runAPIAddr    string
)

var runCmd = &cobra.Command{
	Use:   "run -- <command> [args...]",
	Short: "Proxy an MCP server, logging and costing all traffic",
	Long: `Run spawns the given server command and proxies this process's stdin and
stdout to it, so an MCP client can use mcptap in place of the server
itself. Every message is logged, correlated, and token-costed. Pass the
server command after --.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runRecordPath, "record", "", "Write captured entries to this file as JSON on exit")
	runCmd.Flags().StringArrayVar(&runEnvPairs, "env", nil, "Extra environment for the server (KEY=VALUE, repeatable)")
	runCmd.Flags().BoolVar(&runServeAPI, "api", false, "Also serve the inspection API for this session")
	runCmd.Flags().StringVar(&runAPIAddr, "api-addr", "", "Inspection API address (overrides config)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)
	env, err := parseEnvFlags(runEnvPairs)
	if err != nil {
		return err
	}

	store := logstore.NewMemoryStore(cfg.Store.Capacity)
	sessions := session.NewTracker()
	agg := tokens.NewAggregator(tokens.NewEstimator())

	engine, err := proxy.Start(proxy.Config{
		Command:       args[0],
		Args:          args[1:],
		Env:           env,
		Store:         store,
		Sessions:      sessions,
		Aggregator:    agg,
		Logger:        log,
		PendingTTL:    cfg.Proxy.PendingTTL(),
		EvictInterval: cfg.Proxy.EvictInterval(),
	})
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var apiServer *api.Server
	if runServeAPI {
		addr := cfg.API.Addr
		if runAPIAddr != "" {
			addr = runAPIAddr
		}
		apiServer = api.New(api.Config{
			Addr:           addr,
			Store:          store,
			Sessions:       sessions,
			Aggregator:     agg,
			Logger:         log,
			AnalyzeTimeout: cfg.Analyze.Timeout(),
		})
		go func() {
			if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("api server failed", "error", err)
			}
		}()
	}

	runErr := engine.Run(ctx, os.Stdin, os.Stdout, os.Stderr)

	if apiServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = apiServer.Shutdown(shutdownCtx)
	}

	if runRecordPath != "" {
		if err := writeRecording(store, runRecordPath); err != nil {
			log.Error("writing recording failed", "path", runRecordPath, "error", err)
		} else {
			log.Info("recording written", "path", runRecordPath, "entries", store.Count())
		}
	}
	return runErr
}

func writeRecording(store logstore.Store, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create recording: %w", err)
	}
	defer f.Close()
	if err := store.Export(f); err != nil {
		return fmt.Errorf("export recording: %w", err)
	}
	return f.Sync()
}
