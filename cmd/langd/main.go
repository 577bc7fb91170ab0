package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"langd/internal/app"
	"langd/internal/domain"
	"langd/internal/infra/discovery"
	"langd/internal/infra/telemetry"
)

type rootOptions struct {
	userConfig    string
	projectConfig string
	runtimeConfig string
	metricsAddr   string
	cacheDir      string
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	root := newRootCmd(logger)
	if err := root.Execute(); err != nil {
		logger.Fatal("command failed", zap.Error(err))
	}
}

func newRootCmd(logger *zap.Logger) *cobra.Command {
	opts := rootOptions{
		userConfig:    defaultUserConfigPath(),
		projectConfig: "langd.yaml",
		metricsAddr:   "127.0.0.1:9347",
		cacheDir:      defaultCacheDir(),
	}

	root := &cobra.Command{
		Use:   "langd",
		Short: "Language analysis server supervisor with normalized results",
	}

	root.PersistentFlags().StringVar(&opts.userConfig, "user-config", opts.userConfig, "path to the user-level server registry")
	root.PersistentFlags().StringVar(&opts.projectConfig, "project-config", opts.projectConfig, "path to the project-level server registry")
	root.PersistentFlags().StringVar(&opts.runtimeConfig, "runtime-config", opts.runtimeConfig, "path to the runtime override registry")

	root.AddCommand(
		newServeCmd(logger, &opts),
		newValidateCmd(logger, &opts),
		newDiscoverCmd(logger, &opts),
	)

	return root
}

func newServeCmd(logger *zap.Logger, opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine, watching configuration for changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalAwareContext(cmd.Context())
			defer cancel()

			metrics := telemetry.NewMetrics()
			provider, err := app.NewRegistryProvider(app.RegistryProviderOptions{
				Logger:  logger,
				Metrics: metrics,
				Paths:   layerPaths(opts),
			})
			if err != nil {
				return err
			}

			disc, closeCache := newDiscovery(logger, opts.cacheDir)
			defer closeCache()

			engine := app.NewEngine(app.EngineOptions{
				Logger:  logger,
				Metrics: metrics,
				Source:  provider,
				Verify:  disc.VerifyExecutable,
			})
			if err := engine.Start(ctx); err != nil {
				return err
			}

			server := &http.Server{Addr: opts.metricsAddr, Handler: metrics.Handler()}
			go func() {
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Warn("metrics listener failed", zap.Error(err))
				}
			}()

			go func() {
				if err := provider.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn("config watch stopped", zap.Error(err))
				}
			}()

			<-ctx.Done()

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = server.Shutdown(shutdownCtx)
			return engine.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", opts.metricsAddr, "listen address for prometheus metrics")
	cmd.Flags().StringVar(&opts.cacheDir, "cache-dir", opts.cacheDir, "directory for the executable discovery cache")
	return cmd
}

func newValidateCmd(logger *zap.Logger, opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the layered configuration and print the merged registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, err := app.NewRegistryProvider(app.RegistryProviderOptions{
				Logger: logger,
				Paths:  layerPaths(opts),
			})
			if err != nil {
				return err
			}
			encoded, err := yaml.Marshal(provider.Snapshot())
			if err != nil {
				return err
			}
			cmd.Print(string(encoded))
			return nil
		},
	}
	return cmd
}

func newDiscoverCmd(logger *zap.Logger, opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Resolve every configured server executable and report what is missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, err := app.NewRegistryProvider(app.RegistryProviderOptions{
				Logger: logger,
				Paths:  layerPaths(opts),
			})
			if err != nil {
				return err
			}
			disc, closeCache := newDiscovery(logger, opts.cacheDir)
			defer closeCache()

			reg := provider.Snapshot()
			missing := 0
			for _, lang := range sortedLanguages(reg) {
				cfg, ok := reg.PrimaryFor(lang)
				if !ok {
					cmd.Printf("%-12s disabled\n", lang)
					continue
				}
				path, err := disc.VerifyExecutable(cfg.Executable)
				if err != nil {
					missing++
					cmd.Printf("%-12s missing: %s\n", lang, cfg.Executable)
					cmd.Println(discovery.InstallationInstructions(lang, cfg.Executable))
					continue
				}
				cmd.Printf("%-12s %s\n", lang, path)
			}
			if missing > 0 {
				return fmt.Errorf("%d server executable(s) missing", missing)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.cacheDir, "cache-dir", opts.cacheDir, "directory for the executable discovery cache")
	return cmd
}

func newDiscovery(logger *zap.Logger, cacheDir string) (*discovery.Discovery, func()) {
	var persistent *discovery.PathCache
	if cacheDir != "" {
		cache, err := discovery.OpenPathCache(filepath.Join(cacheDir, "paths.db"))
		if err != nil {
			logger.Warn("discovery cache unavailable", zap.Error(err))
		} else {
			persistent = cache
		}
	}
	disc := discovery.New(discovery.Options{
		Logger:     logger,
		Persistent: persistent,
	})
	return disc, func() {
		if persistent != nil {
			_ = persistent.Close()
		}
	}
}

func layerPaths(opts *rootOptions) app.LayerPaths {
	return app.LayerPaths{
		User:    opts.userConfig,
		Project: opts.projectConfig,
		Runtime: opts.runtimeConfig,
	}
}

func sortedLanguages(reg domain.ServerRegistry) []string {
	langs := reg.Languages()
	sort.Strings(langs)
	return langs
}

func defaultUserConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "langd", "servers.yaml")
}

func defaultCacheDir() string {
	cache, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(cache, "langd")
}

func signalAwareContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(signals)
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
