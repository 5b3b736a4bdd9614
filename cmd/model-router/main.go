package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/user/model-router-go/internal/api"
	"github.com/user/model-router-go/internal/config"
	"github.com/user/model-router-go/internal/database"
	"github.com/user/model-router-go/internal/models"
	"github.com/user/model-router-go/internal/provider"
	"github.com/user/model-router-go/internal/repository"
	"github.com/user/model-router-go/internal/service"
	"github.com/user/model-router-go/internal/version"
	"go.uber.org/zap"
)

var profileFlag string

func main() {
	root := &cobra.Command{
		Use:           "model-router",
		Short:         "Rule-driven router across AI model backends with budget enforcement",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&profileFlag, "profile", "", "routing profile YAML path (overrides MODEL_ROUTER_PROFILE)")

	root.AddCommand(serveCmd(), routeCmd(), usageCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Println(version.Info())
		},
	}
}

// app bundles everything the subcommands need.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	db         *sql.DB
	txRepo     repository.TransactionRepository
	ledger     *service.BudgetLedger
	registry   *provider.Registry
	dispatcher *service.Dispatcher
	profiles   *config.ProfileStore
}

func (a *app) close() {
	if a.db != nil {
		a.db.Close()
	}
	if a.logger != nil {
		a.logger.Sync()
	}
}

// bootstrap wires configuration, logging, the ledger database and the engine.
func bootstrap() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if profileFlag != "" {
		cfg.ProfilePath = profileFlag
	}

	logger, err := newLogger(cfg.LogLevel, getLogDir(), cfg.LogRotation)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	profile, err := config.LoadProfile(cfg.ProfilePath)
	if err != nil {
		logger.Sync()
		return nil, fmt.Errorf("load profile: %w", err)
	}

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		logger.Sync()
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := database.RunMigrations(db); err != nil {
		db.Close()
		logger.Sync()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	txRepo := repository.NewTransactionRepository(db, logger)
	ledger := service.NewBudgetLedger(txRepo, logger)
	ranker := service.NewRanker(cfg.Engine.RankCacheSize, logger)

	// Providers of the configured local kind are served by the built-in
	// echo backend. Everything else with a base URL is treated as an
	// OpenAI-compatible endpoint; its API key comes from
	// MODEL_ROUTER_API_KEY_<ID>.
	registry := provider.NewRegistry()
	for _, p := range profile.Providers {
		names := make([]string, 0, len(p.Models))
		for _, m := range p.Models {
			names = append(names, m.Name)
		}

		var backend provider.Provider
		switch {
		case p.Kind == cfg.Engine.LocalKind:
			backend = provider.NewLocalEcho(p.ID, names...)
		case p.BaseURL != "":
			backend = provider.NewOpenAIChat(p.ID, p.BaseURL, apiKeyFor(p.ID), names, logger)
		default:
			logger.Warn("provider has no base URL, skipping", zap.String("id", p.ID))
			continue
		}
		if err := registry.Register(backend); err != nil {
			logger.Warn("failed to register provider", zap.String("id", p.ID), zap.Error(err))
		}
	}

	dispatcher := service.NewDispatcher(ranker, registry, ledger, service.DispatcherConfig{
		MaxOutputTokens: cfg.Engine.MaxOutputTokens,
		Temperature:     cfg.Engine.Temperature,
	}, logger)

	return &app{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		txRepo:     txRepo,
		ledger:     ledger,
		registry:   registry,
		dispatcher: dispatcher,
		profiles:   config.NewProfileStore(profile),
	}, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP host",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}
			defer a.close()

			server := api.NewServer(api.ServerDeps{
				Dispatcher: a.dispatcher,
				Ledger:     a.ledger,
				TxRepo:     a.txRepo,
				Profiles:   a.profiles,
				Registry:   a.registry,
				Logger:     a.logger,
			})

			addr := fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port)
			httpServer := &http.Server{
				Addr:         addr,
				Handler:      server,
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 300 * time.Second, // streamed completions need a long write timeout
				IdleTimeout:  120 * time.Second,
			}

			go func() {
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					a.logger.Fatal("server error", zap.Error(err))
				}
			}()

			a.logger.Info("server started",
				zap.String("addr", addr),
				zap.String("version", version.Short()),
				zap.String("profile", a.cfg.ProfilePath),
			)

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			a.logger.Info("shutting down...")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown: %w", err)
			}
			a.logger.Info("server stopped")
			return nil
		},
	}
}

func routeCmd() *cobra.Command {
	var (
		mode          string
		fileLang      string
		filePath      string
		contextKB     int
		privacyStrict bool
	)

	cmd := &cobra.Command{
		Use:   "route <prompt>",
		Short: "Route a single prompt and print the response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}
			defer a.close()

			req := buildRequest(args[0], mode, fileLang, filePath, contextKB, privacyStrict)

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			result, err := a.dispatcher.Dispatch(ctx, a.profiles.Snapshot(), req, func(delta string) {
				fmt.Print(delta)
			})
			if err != nil {
				return err
			}

			fmt.Println()
			fmt.Printf("routed to %s:%s (rule %s) cost $%.6f tokens %d/%d\n",
				result.Provider, result.Model, result.RuleID,
				result.Cost, result.InputTokens, result.OutputTokens)
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "routing mode (auto|speed|quality|cheap|local-only|privacy-strict)")
	cmd.Flags().StringVar(&fileLang, "file-lang", "", "language of the file in context")
	cmd.Flags().StringVar(&filePath, "file-path", "", "path of the file in context")
	cmd.Flags().IntVar(&contextKB, "context-kb", 0, "estimated context size in KB")
	cmd.Flags().BoolVar(&privacyStrict, "privacy-strict", false, "restrict routing to local-only providers")
	return cmd
}

func usageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Print budget usage and warnings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}
			defer a.close()

			ctx := context.Background()
			usage, err := a.ledger.GetBudgetUsage(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("daily:   $%.6f\n", usage.DailySpent)
			fmt.Printf("weekly:  $%.6f\n", usage.WeeklySpent)
			fmt.Printf("monthly: $%.6f\n", usage.MonthlySpent)

			warnings, err := a.ledger.GetBudgetWarnings(ctx, a.profiles.Snapshot().Budget)
			if err != nil {
				return err
			}
			for _, w := range warnings {
				fmt.Println("warning:", w)
			}
			return nil
		},
	}
}

// buildRequest assembles a RoutingRequest from CLI flags.
func buildRequest(prompt, mode, fileLang, filePath string, contextKB int, privacyStrict bool) *models.RoutingRequest {
	req := &models.RoutingRequest{
		Prompt:        prompt,
		FileLang:      fileLang,
		FilePath:      filePath,
		ContextKB:     contextKB,
		PrivacyStrict: privacyStrict,
	}
	if mode != "" {
		req.Mode = models.ParseMode(mode)
	}
	return req
}

// apiKeyFor resolves a provider's API key from the environment, e.g.
// provider id "openai" reads MODEL_ROUTER_API_KEY_OPENAI.
func apiKeyFor(providerID string) string {
	name := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(providerID))
	return os.Getenv("MODEL_ROUTER_API_KEY_" + name)
}

func getLogDir() string {
	if dir := os.Getenv("MODEL_ROUTER_LOGS_DIR"); dir != "" {
		return dir
	}
	return "logs"
}
