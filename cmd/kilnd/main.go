package main

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"flag"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"

	"github.com/kittclouds/kiln/internal/config"
	"github.com/kittclouds/kiln/internal/daemon"
	"github.com/kittclouds/kiln/internal/embedding"
	"github.com/kittclouds/kiln/internal/eventbus"
	"github.com/kittclouds/kiln/internal/pipeline"
	"github.com/kittclouds/kiln/internal/scripting"
	"github.com/kittclouds/kiln/internal/session"
	"github.com/kittclouds/kiln/internal/store"
	"github.com/kittclouds/kiln/internal/tools"
	"github.com/kittclouds/kiln/internal/watch"
)

var (
	configPath = flag.String("config", "", "path to a YAML config file (overlaid onto defaults)")
	vaultRoot  = flag.String("vault", ".", "root directory of markdown notes to watch")
	dbPath     = flag.String("db", ".kiln/kiln.db", "path to the sqlite store")
	socketPath = flag.String("socket", "", "unix socket path for the daemon (overrides config)")
)

func main() {
	flag.Parse()

	logger := arbor.NewLogger().WithConsoleWriter(models.WriterConfiguration{
		Type:             models.LogWriterTypeConsole,
		TimeFormat:       "15:04:05",
		TextOutput:       true,
		DisableTimestamp: false,
	})

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", *configPath).Msg("failed to load config")
		}
		cfg = loaded
	}
	if *socketPath != "" {
		cfg.DaemonSocketPath = *socketPath
	}

	logger.Info().
		Str("vault", *vaultRoot).
		Str("db", *dbPath).
		Str("socket", cfg.DaemonSocketPath).
		Msg("starting kilnd")

	if err := os.MkdirAll(cfg.SessionsDir, 0o755); err != nil {
		logger.Fatal().Err(err).Msg("failed to create sessions directory")
	}
	if err := os.MkdirAll(cfg.ScriptDir, 0o755); err != nil {
		logger.Fatal().Err(err).Msg("failed to create script directory")
	}

	st, err := store.Open(*dbPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer st.Close()

	bus := eventbus.New(cfg.EventQueueCapacity)

	embedder := embedding.NullProvider{}

	pl := pipeline.New(cfg, st, bus, embedder, pipeline.OSReader{})

	backend, err := watch.NewFsnotifyBackend()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize filesystem watcher")
	}
	driver := watch.NewDriver(backend, bus, watch.DefaultFilter, cfg.WatchDebounce)

	rt := scripting.NewRuntime(bus, st, scripting.Paths{
		KilnRoot:      cfg.ScriptDir,
		SessionRoot:   cfg.SessionsDir,
		WorkspaceRoot: *vaultRoot,
	})

	reg := tools.NewRegistry()
	tools.RegisterBuiltins(reg)
	exec := tools.NewExecutor(reg, st, bus, rt)

	manifests, err := scripting.DiscoverDir(cfg.ScriptDir)
	if err != nil {
		logger.Warn().Err(err).Str("dir", cfg.ScriptDir).Msg("failed to discover scripts")
	}
	for _, m := range manifests {
		compiledID, err := rt.Compile(context.Background(), m.Path, m.Source)
		if err != nil {
			logger.Warn().Err(err).Str("path", m.Path).Msg("failed to compile script")
			continue
		}
		registerScriptManifest(reg, bus, rt, compiledID, m)
	}

	sessions := session.NewLogger(cfg.SessionsDir, cfg.SessionTruncationBytes, time.Now, randUint64)
	defer sessions.Finish()

	srv := daemon.New(st, bus, cfg.DaemonRequestTimeout, reg, exec)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pl.Start(ctx)
	rt.Start()

	if err := driver.Start(*vaultRoot); err != nil {
		logger.Fatal().Err(err).Str("vault", *vaultRoot).Msg("failed to start watcher")
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe(ctx, cfg.DaemonSocketPath)
	}()

	logger.Info().Msg("kilnd ready - press Ctrl+C to stop")

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			logger.Error().Err(err).Msg("daemon server exited unexpectedly")
		}
	}

	logger.Info().Msg("shutting down")

	if err := driver.Close(); err != nil {
		logger.Warn().Err(err).Msg("error closing watcher")
	}
	pl.Shutdown(cfg.ShutdownDrainDeadline)
	rt.Shutdown()
	if err := srv.Close(); err != nil {
		logger.Warn().Err(err).Msg("error closing daemon server")
	}
	bus.Shutdown(cfg.ShutdownDrainDeadline)

	logger.Info().Msg("kilnd stopped")
}

// registerScriptManifest installs one compiled script's declared tools into
// reg and subscribes its declared hooks onto bus. Hook handlers run above
// eventbus.CorePriorityMax so core subscribers (the pipeline, the daemon's
// event forwarder) always see an event before any script does.
func registerScriptManifest(reg *tools.Registry, bus *eventbus.Bus, rt *scripting.Runtime, compiledID string, m *scripting.Manifest) {
	for _, decl := range m.Tools {
		reg.Register(tools.ToolRef{
			Name:             decl.Name,
			Source:           tools.SourceScript,
			Description:      decl.Description,
			InputSchema:      decl.InputSchema,
			CompiledScriptID: compiledID,
		})
	}
	for _, decl := range m.Hooks {
		kind := eventbus.Kind(decl.EventType)
		pattern := decl.Pattern
		priority := decl.Priority
		if priority <= eventbus.CorePriorityMax {
			priority = eventbus.CorePriorityMax + 1
		}
		bus.Subscribe(kind, priority, func(ctx context.Context, evt eventbus.Event) eventbus.HandlerResult {
			if pattern != "" {
				subject := hookSubject(evt)
				if matched, err := path.Match(pattern, subject); err != nil || !matched {
					return eventbus.HandlerResult{}
				}
			}
			if _, err := rt.FireHook(ctx, compiledID, string(evt.Kind), evt.Payload); err != nil {
				return eventbus.HandlerResult{Err: err}
			}
			return eventbus.HandlerResult{}
		})
	}
}

// hookSubject extracts the identifier a hook's Pattern glob is matched
// against: the changed file's path for FileChanged, otherwise whatever the
// payload stringifies to.
func hookSubject(evt eventbus.Event) string {
	switch p := evt.Payload.(type) {
	case watch.FileChangedPayload:
		return p.Path
	case string:
		return p
	default:
		return ""
	}
}

// randUint64 supplies cryptographically random salt for session.Logger's
// ID derivation; injected rather than called from within internal/session
// so that package can stay deterministic under test.
func randUint64() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}
