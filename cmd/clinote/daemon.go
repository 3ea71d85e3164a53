package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/jwulff/clinote/internal/capture"
	"github.com/jwulff/clinote/internal/config"
	"github.com/jwulff/clinote/internal/daemon"
	"github.com/jwulff/clinote/internal/db"
	"github.com/jwulff/clinote/internal/observability"
	"github.com/jwulff/clinote/internal/orchestrator"
	"github.com/jwulff/clinote/internal/settings"
	"github.com/jwulff/clinote/internal/summarize"
	"github.com/jwulff/clinote/internal/transcribe"
)

func devices(cfg *config.Config) capture.FFmpegDevices {
	return capture.FFmpegDevices{
		Path:         cfg.FFmpeg,
		Format:       cfg.InputFormat,
		MicInput:     cfg.MicInput,
		DisplayInput: cfg.DisplayInput,
	}
}

func agentOptions(cfg *config.Config) []capture.Option {
	return []capture.Option{
		capture.WithSegmentDuration(cfg.SegmentDuration),
		capture.WithSummaryDelay(cfg.SummaryDelay),
	}
}

// inProcessAgent hosts the capture agent inside the orchestrator process.
// Inject replaces the agent, the way a reloaded page gets a fresh one.
type inProcessAgent struct {
	cfg    *config.Config
	toOrch daemon.Sender
	local  *daemon.Local

	mu    sync.Mutex
	agent *capture.Agent
}

func (p *inProcessAgent) Inject(ctx context.Context) error {
	p.mu.Lock()
	old := p.agent
	p.agent = capture.New(devices(p.cfg), p.toOrch, agentOptions(p.cfg)...)
	agent := p.agent
	p.mu.Unlock()

	if old != nil {
		go old.Close()
	}
	p.local.Load(agent)
	return agent.Announce(ctx)
}

func (p *inProcessAgent) Close() {
	p.local.Unload()
	p.mu.Lock()
	agent := p.agent
	p.agent = nil
	p.mu.Unlock()
	if agent != nil {
		agent.Close()
	}
}

// srvHandler resolves the orchestrator on each call; it is built after the
// server it broadcasts through.
func srvHandler(orch **orchestrator.Orchestrator) daemon.Handler {
	return daemon.HandlerFunc(func(ctx context.Context, cmd daemon.Command) daemon.Response {
		return (*orch).Handle(ctx, cmd)
	})
}

func runDaemon(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	socket := fs.String("socket", cfg.SocketPath, "orchestrator socket")
	dbPath := fs.String("db", cfg.DBPath, "session archive database")
	agentSocket := fs.String("agent-socket", "", "run the capture agent as a child process on this socket")
	logLevel := fs.String("log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.Parse(args)

	observability.Init(os.Stderr, *logLevel)
	log := observability.WithFields("component", "orchestrator")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := db.OpenWritable(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	var orch *orchestrator.Orchestrator
	srv := daemon.NewServer("orchestrator", srvHandler(&orch))

	var (
		toAgent  daemon.Sender
		injector orchestrator.Injector
	)
	if *agentSocket != "" {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("locate executable: %w", err)
		}
		toAgent = daemon.Dialer{Path: *agentSocket}
		injector = orchestrator.ExecInjector{
			Path: exe,
			Args: []string{"agent", "-socket", *agentSocket, "-orchestrator", *socket, "-log-level", *logLevel},
		}
	} else {
		local := daemon.NewLocal(nil)
		p := &inProcessAgent{
			cfg:    cfg,
			toOrch: daemon.NewLocal(srvHandler(&orch)),
			local:  local,
		}
		defer p.Close()
		toAgent, injector = local, p
	}

	orch = orchestrator.New(toAgent, settings.NewBlobStore(store),
		orchestrator.WithInjector(injector),
		orchestrator.WithArchive(store),
		orchestrator.WithBroadcaster(srv),
		orchestrator.WithTranscribeConfig(transcribe.Config{
			LocalURL:     cfg.LocalURL,
			CloudURL:     cfg.OpenAIURL,
			ProbeTimeout: cfg.ProbeTimeout,
		}),
		orchestrator.WithSummarizeConfig(summarize.Config{BaseURL: cfg.OpenAIURL}),
	)

	if err := srv.Listen(*socket); err != nil {
		return err
	}
	if err := injector.Inject(ctx); err != nil {
		log.Warn("initial capture agent injection failed", "error", err)
	}
	return srv.Serve(ctx)
}

func runAgent(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("agent", flag.ExitOnError)
	socket := fs.String("socket", cfg.AgentSocketPath, "capture agent socket")
	orchSocket := fs.String("orchestrator", cfg.SocketPath, "orchestrator socket")
	logLevel := fs.String("log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.Parse(args)

	observability.Init(os.Stderr, *logLevel)
	log := observability.WithFields("component", "capture-agent")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	agent := capture.New(devices(cfg), daemon.Dialer{Path: *orchSocket}, agentOptions(cfg)...)
	defer agent.Close()

	srv := daemon.NewServer("capture-agent", agent)
	if err := srv.Listen(*socket); err != nil {
		return err
	}
	if err := agent.Announce(ctx); err != nil {
		log.Warn("announce to orchestrator", "error", err)
	}
	return srv.Serve(ctx)
}
