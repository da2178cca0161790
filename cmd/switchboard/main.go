package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/switchboard/pkg/bus"
	"github.com/odvcencio/switchboard/pkg/config"
	"github.com/odvcencio/switchboard/pkg/fallback"
	"github.com/odvcencio/switchboard/pkg/ipc"
	"github.com/odvcencio/switchboard/pkg/logging"
	"github.com/odvcencio/switchboard/pkg/notify"
	"github.com/odvcencio/switchboard/pkg/policy"
	"github.com/odvcencio/switchboard/pkg/reclaim"
	"github.com/odvcencio/switchboard/pkg/registry"
	"github.com/odvcencio/switchboard/pkg/selection"
	"github.com/odvcencio/switchboard/pkg/services"
	"github.com/odvcencio/switchboard/pkg/session"
	"github.com/odvcencio/switchboard/pkg/storage"
	"github.com/odvcencio/switchboard/pkg/telemetry"
)

// Version information - set via ldflags during build
var (
	version = "1.0.0-dev"
)

var configPath string

func main() {
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "switchboard: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessionID := session.NewID()
	logger, err := logging.NewLogger(cfg.Logging.Dir, sessionID)
	if err != nil {
		return fmt.Errorf("opening logs: %w", err)
	}
	defer logger.Close()
	logger.SetMinLevel(logging.Level(cfg.Logging.MinLevel))

	if cfg.Tracing.Enabled {
		tp, err := telemetry.NewTracerProvider("switchboard")
		if err != nil {
			return fmt.Errorf("starting tracer: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
	}

	store, err := storage.New(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	msgBus, err := buildBus(cfg)
	if err != nil {
		return fmt.Errorf("connecting bus: %w", err)
	}
	defer msgBus.Close()

	hub := telemetry.NewHub()
	defer hub.Close()

	requestHook := csrfHook(cfg.Backend.CSRFToken)

	// Model catalog comes from the backend; nothing works without it.
	loader := registry.NewLoader(cfg.Backend.URL)
	loader.RequestHook = requestHook
	reg, err := loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading model catalog: %w", err)
	}
	logger.Info(logging.CategoryRegistry, "catalog_loaded", "model catalog loaded", map[string]any{
		"models": reg.Len(),
	})
	hub.Publish(telemetry.Event{
		Type: telemetry.EventRegistryLoaded,
		Data: map[string]any{"models": reg.Len()},
	})

	sessionClient := services.NewSessionClient(cfg.Backend.URL)
	sessionClient.RequestHook = requestHook
	sess, err := sessionClient.CurrentSession(ctx)
	if err != nil {
		// An unreachable session endpoint degrades to anonymous; the
		// policy evaluator then denies paid features with a login
		// redirect rather than blocking startup.
		logger.Warn(logging.CategorySession, "session_lookup_failed", "treating caller as anonymous", map[string]any{
			"error": err.Error(),
		})
		sess = session.Anonymous()
	}

	sel, err := buildSelection(ctx, cfg, reg, store, hub, msgBus, logger)
	if err != nil {
		return err
	}

	pol := policy.NewEvaluator(reg, sel, policy.WithHub(hub), policy.WithLogger(logger))

	prefClient := services.NewPreferenceClient(cfg.Backend.URL)
	prefClient.RequestHook = requestHook

	// The server-side preset preference wins over both config defaults and
	// the local save. Failures degrade silently to whatever is bound.
	if pref, ok, err := prefClient.PreferredPreset(ctx); err == nil && ok {
		if err := sel.Bind(ctx, selection.Slot(pref.Slot), pref.ModelID); err != nil {
			logger.Warn(logging.CategorySelection, "preference_bind_failed", "stored preset preference not applied", map[string]any{
				"slot":     pref.Slot,
				"model_id": pref.ModelID,
				"error":    err.Error(),
			})
		}
	}
	pipeClient := services.NewPipelineClient(cfg.Backend.URL)
	pipeClient.RequestHook = requestHook

	channelAdapter := notify.NewChannelAdapter(64)
	wsAdapter := notify.NewWebSocketAdapter(logger)
	notifier := notify.NewManager(channelAdapter, wsAdapter)
	defer notifier.Close()

	// Mirror coordinator telemetry onto the websocket stream so UI clients
	// see selection changes and fallback outcomes without a bus connection.
	bridge := ipc.NewEventBridge(hub, wsAdapter)
	bridge.Start()
	defer bridge.Stop()

	neg := fallback.New(sel, prefClient, pipeClient, draftBuffer{}, notifier,
		fallback.WithHub(hub),
		fallback.WithBus(msgBus),
		fallback.WithLogger(logger),
	)

	convClient := services.NewConversationClient(cfg.Backend.URL)
	convClient.RequestHook = requestHook
	sweeper := reclaim.New(convClient,
		reclaim.WithDelay(cfg.Reclaim.Delay),
		reclaim.WithRecorder(store),
		reclaim.WithHub(hub),
		reclaim.WithBus(msgBus),
		reclaim.WithLogger(logger),
	)

	server := ipc.NewServer(
		ipc.Config{BindAddress: cfg.IPC.Bind, Version: version},
		reg, sel, pol, neg, store, wsAdapter,
		func() session.Session { return sess },
		logger,
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	// One reclamation pass per startup, on the coordinator's schedule.
	g.Go(func() error {
		<-sweeper.Schedule(ctx, sess)
		return nil
	})

	logger.Info(logging.CategorySession, "started", "coordinator running", map[string]any{
		"bind":    cfg.IPC.Bind,
		"backend": cfg.Backend.URL,
	})

	return g.Wait()
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load()
}

func buildBus(cfg *config.Config) (bus.MessageBus, error) {
	if cfg.Bus.NATSURL == "" {
		return bus.NewMemoryBus(), nil
	}
	busCfg := bus.DefaultConfig()
	busCfg.URL = cfg.Bus.NATSURL
	return bus.NewNATSBus(busCfg)
}

// buildSelection constructs selection state from config defaults, then lets
// persisted bindings win over config where both exist.
func buildSelection(ctx context.Context, cfg *config.Config, reg *registry.Registry, store *storage.Store, hub *telemetry.Hub, msgBus bus.MessageBus, logger *logging.Logger) (*selection.State, error) {
	defaults := make(map[selection.Slot]string, len(cfg.Presets.Defaults))
	for slot, modelID := range cfg.Presets.Defaults {
		defaults[selection.Slot(slot)] = modelID
	}

	saved, err := store.PresetBindings()
	if err != nil {
		return nil, fmt.Errorf("reading saved bindings: %w", err)
	}
	for _, b := range saved {
		if selection.Slot(b.Slot) == selection.FreeSlot {
			continue
		}
		defaults[selection.Slot(b.Slot)] = b.ModelID
	}

	sel, err := selection.New(reg, cfg.Presets.FreeModel, defaults,
		selection.WithHub(hub),
		selection.WithBus(msgBus),
		selection.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("building selection state: %w", err)
	}

	if slot, ok, err := store.ActiveSlot(); err == nil && ok {
		if binding, err := sel.BindingFor(selection.Slot(slot)); err == nil {
			if err := sel.Bind(ctx, binding.Slot, binding.ModelID); err != nil {
				// Saved slot may reference a model that left the
				// catalog; startup continues on the default slot.
				logger.Warn(logging.CategorySelection, "restore_failed", "could not restore active slot", map[string]any{
					"slot":  slot,
					"error": err.Error(),
				})
			}
		}
	}

	return sel, nil
}

func csrfHook(token string) func(*http.Request) {
	if token == "" {
		return nil
	}
	return func(req *http.Request) {
		req.Header.Set("X-CSRF-Token", token)
	}
}

// draftBuffer is the input surface for headless runs. The real draft lives
// in the UI client, which receives declines over the websocket stream and
// restores its own composer; there is nothing to do server-side.
type draftBuffer struct{}

func (draftBuffer) RestoreDraft(text string) {}
