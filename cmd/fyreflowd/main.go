// Command fyreflowd is the daemon entrypoint: it wires configuration,
// persistence, the execution engine, and the HTTP/WS transports, then
// serves until told to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fyreflow/engine/internal/config"
	"github.com/fyreflow/engine/internal/engine"
	"github.com/fyreflow/engine/internal/flowstore"
	"github.com/fyreflow/engine/internal/gate"
	"github.com/fyreflow/engine/internal/httpapi"
	"github.com/fyreflow/engine/internal/log"
	"github.com/fyreflow/engine/internal/policy"
	"github.com/fyreflow/engine/internal/provider"
	"github.com/fyreflow/engine/internal/realtime"
	"github.com/fyreflow/engine/internal/secrets"
	"github.com/fyreflow/engine/internal/store"
	"github.com/fyreflow/engine/pkg/flow"
	"github.com/fyreflow/engine/pkg/run"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to config YAML file")
		dbPath      = flag.String("db", "fyreflow.db", "Path to the SQLite run/pipeline store")
		storageDir  = flag.String("storage-dir", "fyreflow-data", "Root directory for run artifact storage")
		addr        = flag.String("addr", ":8080", "HTTP listen address")
		flowsDir    = flag.String("flows-dir", "", "Directory of flow YAML files to load and hot-reload; disabled when empty")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("fyreflowd %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := log.New(&log.Config{Level: cfg.Log.Level, Format: log.Format(cfg.Log.Format), Output: os.Stderr})
	slog.SetDefault(logger)

	st, err := store.New(store.Config{Path: *dbPath, BaseStorageDir: *storageDir})
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *flowsDir != "" {
		fw, err := flowstore.New(*flowsDir, st, logger)
		if err != nil {
			logger.Error("failed to start flow file watcher", "error", err)
			os.Exit(1)
		}
		if err := fw.Load(context.Background()); err != nil {
			logger.Error("failed to load flow files", "error", err)
			os.Exit(1)
		}
		fw.Start(ctx)
		defer fw.Stop()
	}

	registry := engine.NewRegistry()

	keyringStore := secrets.NewKeyringStore("fyreflow")
	if !keyringStore.Available() {
		logger.Info("OS keyring unavailable; keyring: credential references will fail")
	}

	executor := engine.NewExecutor(engine.ExecutorDeps{
		Invoker:        provider.NewDefaultInvoker(),
		Gates:          gate.New(),
		Policies:       policy.NewRegistry(),
		Providers:      providerResolver(cfg, keyringStore, logger),
		BaseStorageDir: *storageDir,
	})
	scheduler := engine.NewScheduler(engine.SchedulerDeps{
		Executor:            executor,
		Store:               st,
		ControlPollInterval: time.Duration(cfg.Scheduler.ControlPollMS) * time.Millisecond,
	})

	resume := func(f *flow.Flow, r *run.Run) {
		control := registry.Acquire(r.ID)
		go func() {
			defer registry.Release(r.ID)
			_ = scheduler.Run(context.Background(), f, r, control, logger)
			_ = st.UpdateRun(context.Background(), r.ID, func(stored *run.Run) error {
				*stored = *r
				return nil
			})
		}()
	}

	if err := engine.Recover(ctx, engine.RecoveryDeps{
		Store:          st,
		Owners:         registry,
		ResolveFlow:    func(pipelineID string) (*flow.Flow, bool) { f, err := st.GetPipeline(ctx, pipelineID); return f, err == nil },
		Resume:         resume,
		BaseStorageDir: *storageDir,
	}, logger); err != nil {
		logger.Error("recovery scan failed", "error", err)
	}

	hub := realtime.NewHub(realtime.HubConfig{
		Store:             st,
		RunPollInterval:   time.Duration(cfg.Realtime.PollIntervalMS) * time.Millisecond,
		HeartbeatInterval: time.Duration(cfg.Realtime.HeartbeatIntervalMS) * time.Millisecond,
		Log:               logger,
	})
	go hub.Run(ctx)

	rtServer := realtime.NewServer(realtime.ServerConfig{
		Hub:       hub,
		AuthToken: cfg.Security.APIAuthToken,
		Log:       logger,
	})

	router := httpapi.NewRouter(httpapi.Deps{
		Store:       st,
		Registry:    registry,
		Scheduler:   scheduler,
		BaseStorage: *storageDir,
		AuthToken:   cfg.Security.APIAuthToken,
		CORSOrigins: cfg.Security.CORSAllowOrigins,
		Log:         logger,
		Realtime:    rtServer,
	})

	httpServer := &http.Server{Addr: *addr, Handler: router}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("fyreflowd listening", "addr", *addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("error during shutdown", "error", err)
		}
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
			os.Exit(1)
		}
	}
}

// providerResolver adapts config.Config's static provider map into the
// engine's ProviderResolver lookup: it resolves keyring: references and
// enc:v1: envelopes into a usable API key, and mints a fresh OAuth access
// token from the provider's refresh-token grant when configured.
func providerResolver(cfg *config.Config, keyring *secrets.KeyringStore, logger *slog.Logger) engine.ProviderResolver {
	return func(providerID string) (provider.Config, bool) {
		p, ok := cfg.ProvidersMap[providerID]
		if !ok {
			return provider.Config{}, false
		}
		pc := provider.Config{
			ID:       providerID,
			Kind:     provider.Kind(p.Kind),
			AuthMode: provider.AuthMode(p.AuthMode),
			APIKey:    resolveAPIKey(p.APIKey, cfg.Security.SecretsKey, keyring, logger),
			BaseURL:   p.BaseURL,
			AWSRegion: p.AWSRegion,
		}
		switch pc.Kind {
		case provider.KindOpenAI:
			pc.CLIBinary = cfg.CLI.CodexPath
		case provider.KindAnthropic:
			pc.CLIBinary = cfg.CLI.ClaudePath
		}
		pc.SkipPermissions = cfg.CLI.SkipPermissions
		pc.PermissionMode = cfg.CLI.PermissionMode
		pc.StrictMCP = cfg.CLI.StrictMCP
		pc.DisableSlashCommands = cfg.CLI.DisableSlashCommands
		pc.SettingSources = cfg.CLI.SettingSources
		pc.MCPServers = mcpServerSpecs(cfg.MCPServers)

		if pc.AuthMode == provider.AuthModeOAuth && p.OAuthRefreshToken != "" {
			refresher := secrets.NewOAuthRefresher(context.Background(), secrets.OAuthRefresherConfig{
				ClientID:     p.OAuthClientID,
				ClientSecret: p.OAuthClientSecret,
				TokenURL:     p.OAuthTokenURL,
				Scopes:       p.OAuthScopes,
				RefreshToken: p.OAuthRefreshToken,
			})
			if token, err := refresher.AccessToken(); err != nil {
				logger.Warn("oauth token refresh failed, provider will fall back to CLI transport", "provider", providerID, "error", err)
			} else {
				pc.OAuthToken = token
			}
		}

		return pc, true
	}
}

// mcpServerSpecs adapts config.Config's declarative MCP server map into the
// provider package's registry type.
func mcpServerSpecs(servers map[string]config.MCPServerConfig) map[string]provider.MCPServerSpec {
	out := make(map[string]provider.MCPServerSpec, len(servers))
	for id, s := range servers {
		out[id] = provider.MCPServerSpec{Command: s.Command, Args: s.Args, URL: s.URL}
	}
	return out
}

// resolveAPIKey turns a config-file credential reference (literal,
// "keyring:<name>", or "enc:v1:<envelope>") into the value provider.Config
// actually needs, logging and degrading to the raw string on failure
// rather than aborting resolution. An undecrypted "enc:v1:" envelope is
// then rejected by provider.SelectTransport; an unresolved "keyring:"
// reference is not recognized there and is passed on as a literal key.
func resolveAPIKey(raw, secretsKey string, keyring *secrets.KeyringStore, logger *slog.Logger) string {
	switch {
	case secrets.IsKeyringRef(raw):
		v, err := keyring.Get(secrets.KeyringRefName(raw))
		if err != nil {
			logger.Warn("keyring credential lookup failed", "error", err)
			return raw
		}
		return v
	case secrets.IsEnvelope(raw):
		v, err := secrets.Open(secretsKey, raw)
		if err != nil {
			logger.Warn("credential envelope decryption failed", "error", err)
			return raw
		}
		return v
	default:
		return raw
	}
}
