package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/alertflow/internal/api"
	"github.com/good-yellow-bee/alertflow/internal/engine"
	"github.com/good-yellow-bee/alertflow/internal/ingest"
	"github.com/good-yellow-bee/alertflow/internal/metrics"
	"github.com/good-yellow-bee/alertflow/internal/notifier"
	"github.com/good-yellow-bee/alertflow/internal/storage"
	"github.com/good-yellow-bee/alertflow/pkg/config"
)

var (
	configFile string
	httpAddr   string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "alertflow-server",
	Short: "AlertFlow Server - Alert and notification engine",
	Long: `AlertFlow Server evaluates incoming signals against tenant rules,
manages the alert lifecycle, and delivers notifications across channels.`,
	RunE: runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("alertflow-server %s\n", config.Version)
		fmt.Printf("  commit: %s\n", config.Commit)
		fmt.Printf("  built:  %s\n", config.BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (optional)")
	rootCmd.PersistentFlags().StringVarP(&httpAddr, "address", "a", "", "HTTP listen address")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	var cfg *Config

	// Load configuration from file if provided
	if configFile != "" {
		var err error
		cfg, err = LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	} else {
		cfg = DefaultConfig()
	}

	// Override with CLI flags
	if httpAddr != "" {
		cfg.Server.Address = httpAddr
	}
	cfg.Verbose = verbose

	// Auto-create data directory
	dbDir := filepath.Dir(cfg.Database.Path)
	if err := os.MkdirAll(dbDir, 0750); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	// Initialize storage
	store := storage.NewSQLiteStorage(cfg.Database.Path)
	if err := store.Open(); err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	log.Printf("database initialized at %s", cfg.Database.Path)

	// Build notification channels
	registry, feed, err := buildRegistry(&cfg.Notifiers)
	if err != nil {
		return fmt.Errorf("configure notifiers: %w", err)
	}

	dispatcher := notifier.NewDispatcher(store, registry, notifier.DispatcherConfig{
		MaxRetries:    cfg.Notifiers.MaxRetries,
		SendTimeout:   cfg.Notifiers.SendTimeout(),
		RatePerSecond: cfg.Notifiers.RatePerSecond,
	})

	var steps []engine.EscalationStep
	for _, s := range cfg.Engine.Escalation {
		steps = append(steps, engine.EscalationStep{
			After:    time.Duration(s.AfterMinutes) * time.Minute,
			Channels: s.Channels,
		})
	}

	escalator := engine.NewEscalator(store, dispatcher, steps)
	stats := engine.NewStatsCalculator(store.Alerts(), store.Rules(), cfg.Engine.StatsTTL())
	service := engine.NewService(store, dispatcher, escalator, stats)

	// Setup signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Bootstrap rules from file before serving traffic
	var loader *engine.Loader
	if cfg.Engine.RulesFile != "" {
		loader = engine.NewLoader(store.Rules(), cfg.Engine.RulesFile)
		if err := loader.Load(ctx); err != nil {
			return fmt.Errorf("load rules file: %w", err)
		}
	}

	srv, err := api.New(&api.Config{
		Address:         cfg.Server.Address,
		HTTPTLSEnabled:  cfg.Server.TLS.Enabled,
		HTTPTLSCertFile: cfg.Server.TLS.CertFile,
		HTTPTLSKeyFile:  cfg.Server.TLS.KeyFile,
		Verbose:         cfg.Verbose,
	}, store, service, dispatcher, feed)
	if err != nil {
		return fmt.Errorf("create api server: %w", err)
	}

	metrics.SetBuildInfo(config.Version, config.Commit, config.BuildTime)

	log.Printf("starting alertflow-server %s", config.Version)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Run(ctx)
	})

	g.Go(func() error {
		dispatcher.RunRetrySweep(ctx, 30*time.Second)
		return nil
	})

	g.Go(func() error {
		escalator.RunSweep(ctx, 30*time.Second)
		return nil
	})

	if loader != nil {
		g.Go(func() error {
			return loader.Watch(ctx)
		})
	}

	if cfg.Metrics.Enabled {
		metricsSrv := metrics.NewServer(cfg.Metrics.Address)
		g.Go(func() error {
			return metricsSrv.Start()
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return metricsSrv.Shutdown(shutdownCtx)
		})
	}

	if cfg.Ingest.Enabled {
		consumer := ingest.NewConsumer(cfg.Ingest, service)
		g.Go(func() error {
			return consumer.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run server: %w", err)
	}

	log.Printf("server stopped")
	return nil
}

// buildRegistry creates the providers named in the configuration. The
// dashboard feed is always on so the API can serve recent alerts.
func buildRegistry(cfg *NotifiersConfig) (*notifier.Registry, *notifier.DashboardProvider, error) {
	registry := notifier.NewRegistry()

	if cfg.Slack != nil {
		p, err := notifier.NewSlackProvider(notifier.SlackConfig{WebhookURL: cfg.Slack.WebhookURL})
		if err != nil {
			return nil, nil, err
		}
		registry.Register(p, "")
		log.Printf("slack notifier configured")
	}

	if cfg.Teams != nil {
		p, err := notifier.NewTeamsProvider(notifier.TeamsConfig{WebhookURL: cfg.Teams.WebhookURL})
		if err != nil {
			return nil, nil, err
		}
		registry.Register(p, "")
		log.Printf("teams notifier configured")
	}

	if cfg.Webhook != nil {
		p, err := notifier.NewWebhookProvider(notifier.WebhookConfig{
			URL:                 cfg.Webhook.URL,
			Method:              cfg.Webhook.Method,
			Headers:             cfg.Webhook.Headers,
			ExpectedStatusCodes: cfg.Webhook.ExpectedStatusCodes,
		})
		if err != nil {
			return nil, nil, err
		}
		registry.Register(p, "")
		log.Printf("webhook notifier configured")
	}

	if cfg.Email != nil {
		p, err := notifier.NewEmailProvider(notifier.EmailConfig{
			Host:       cfg.Email.Host,
			Port:       cfg.Email.Port,
			Username:   cfg.Email.Username,
			Password:   cfg.Email.Password,
			From:       cfg.Email.From,
			Recipients: cfg.Email.Recipients,
		})
		if err != nil {
			return nil, nil, err
		}
		registry.Register(p, "")
		log.Printf("email notifier configured")
	}

	capacity := 0
	if cfg.Dashboard != nil {
		capacity = cfg.Dashboard.Capacity
	}
	feed := notifier.NewDashboardProvider(capacity)
	registry.Register(feed, "")

	return registry, feed, nil
}
