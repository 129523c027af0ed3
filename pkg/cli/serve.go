package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mcptap/mcptap/pkg/api"
	"github.com/mcptap/mcptap/pkg/config"
	"github.com/mcptap/mcptap/pkg/logstore"
	"github.com/mcptap/mcptap/pkg/session"
	"github.com/mcptap/mcptap/pkg/tokens"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the inspection API as a standalone daemon",
	Long: `Serve starts the inspection HTTP API without proxying anything.
Dashboards and scripts can use it to trigger server analyses
(POST /analyze) and token estimates (POST /estimate). Configuration is
hot-reloaded when the config file changes.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfgStore, err := config.LoadAndWatch(configPath, nil)
	if err != nil {
		return err
	}
	cfg := cfgStore.Get()
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	log := newLogger(cfg)

	addr := cfg.API.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	server := api.New(api.Config{
		Addr:           addr,
		Store:          logstore.NewMemoryStore(cfg.Store.Capacity),
		Sessions:       session.NewTracker(),
		Aggregator:     tokens.NewAggregator(tokens.NewEstimator()),
		Logger:         log,
		AnalyzeTimeout: cfg.Analyze.Timeout(),
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		_ = server.Shutdown(cmd.Context())
	}()

	return server.ListenAndServe()
}
