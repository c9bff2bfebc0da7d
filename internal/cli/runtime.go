package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mindloop/mindloop/internal/agent"
	"github.com/mindloop/mindloop/internal/bus"
	"github.com/mindloop/mindloop/internal/config"
	"github.com/mindloop/mindloop/internal/engine"
	"github.com/mindloop/mindloop/internal/limiter"
	"github.com/mindloop/mindloop/internal/provider"
	"github.com/mindloop/mindloop/internal/publish"
	"github.com/mindloop/mindloop/internal/store"
	"github.com/mindloop/mindloop/internal/tools"
)

// runtime wires the full stack for CLI commands: config, store, provider,
// publishers, engine, and the action loop.
type runtime struct {
	cfg    *config.Config
	store  *store.Store
	prov   *provider.OpenAIProvider
	bus    *bus.MessageBus
	fanout *publish.Fanout
	engine *engine.Engine
	loop   *agent.Loop

	closers []func() error
}

// buildRuntime loads config and assembles the engine stack. Publishers are
// attached per config; the log publisher is always present.
func buildRuntime() (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Provider.APIKey == "" {
		return nil, fmt.Errorf("no API key configured (set MINDLOOP_PROVIDER_API_KEY or edit %s)", mustConfigPath())
	}
	if err := os.MkdirAll(cfg.Paths.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	st, err := store.New(cfg.Paths.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	rt := &runtime{cfg: cfg, store: st}
	rt.closers = append(rt.closers, st.Close)

	rt.prov = provider.NewOpenAIProvider(
		cfg.Provider.APIKey,
		cfg.Provider.APIBase,
		cfg.Provider.Model,
		cfg.Provider.MaxTokens,
		cfg.Provider.Temperature,
	)

	rt.fanout = publish.NewFanout(publish.LogPublisher{})
	if cfg.Publish.Kafka.Enabled {
		kp := publish.NewKafkaPublisher(cfg.Publish.Kafka.Brokers, cfg.Publish.Kafka.Topic)
		rt.fanout.Add(kp)
		rt.closers = append(rt.closers, kp.Close)
		slog.Info("Kafka publisher enabled", "topic", cfg.Publish.Kafka.Topic)
	}
	if cfg.Publish.Slack.Enabled {
		sp, err := publish.NewSlackPublisher(cfg.Publish.Slack.BotToken, cfg.Publish.Slack.Channel, cfg.Publish.Slack.APIBase)
		if err != nil {
			rt.close()
			return nil, fmt.Errorf("slack publisher: %w", err)
		}
		rt.fanout.Add(sp)
		slog.Info("Slack publisher enabled", "channel", cfg.Publish.Slack.Channel)
	}

	rt.bus = bus.NewMessageBus()
	rt.engine = engine.New(engine.Options{
		Store:      st,
		Generator:  rt.prov,
		Researcher: rt.prov,
		Bus:        rt.bus,
		Fanout:     rt.fanout,
		Config:     cfg.Engine,
	})

	session := cfg.Engine.DefaultSession
	registry := tools.NewRegistry()
	registry.Register(tools.NewResearchTool(session, st, rt.prov))
	registry.Register(tools.NewKnowledgeWriteTool(session, st))
	registry.Register(tools.NewDiaryWriteTool(session, st))
	registry.Register(tools.NewPublishTool(session, rt.fanout))
	registry.Register(tools.NewFocusTool(session, rt.engine))

	lim := limiter.New(st, rt.prov, rt.fanout, cfg.Limiter.MaxToolsBeforeDependency)
	rt.loop = agent.NewLoop(rt.bus, rt.prov, registry, lim)

	return rt, nil
}

func (r *runtime) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			slog.Warn("Close failed", "error", err)
		}
	}
}

func mustConfigPath() string {
	p, err := config.ConfigPath()
	if err != nil {
		return "~/.mindloop/config.json"
	}
	return p
}
