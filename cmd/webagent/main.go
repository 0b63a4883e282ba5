package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/skyliftcoin/gemini-web-browser/internal/agent"
	"github.com/skyliftcoin/gemini-web-browser/internal/browser"
	"github.com/skyliftcoin/gemini-web-browser/internal/executor"
	"github.com/skyliftcoin/gemini-web-browser/internal/gateway"
	"github.com/skyliftcoin/gemini-web-browser/internal/governance"
	"github.com/skyliftcoin/gemini-web-browser/internal/observability"
	"github.com/skyliftcoin/gemini-web-browser/internal/planner"
	"github.com/skyliftcoin/gemini-web-browser/internal/resolver"
	"github.com/skyliftcoin/gemini-web-browser/internal/store"
	"github.com/skyliftcoin/gemini-web-browser/pkg/config"
)

func main() {
	configPath := flag.String("config", "config.json", "path to config file")
	flag.Parse()

	// .env is optional; real deployments set the variables directly.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	logger := observability.NewLogger(cfg.Logging)
	defer observability.Sync(logger)

	pName, pCfg := cfg.GetDefaultProvider()
	if pName == "" {
		logger.Fatal("no enabled provider found in config")
	}
	observability.PrintBanner(cfg.App.Name, pName, pCfg.Model)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	llm, err := buildModel(ctx, pName, pCfg)
	if err != nil {
		logger.Fatal("model init failed", zap.String("provider", pName), zap.Error(err))
	}

	session := browser.NewSession(cfg.Browser, cfg.App.ScreenshotDir, logger)
	if err := session.Start(ctx); err != nil {
		logger.Fatal("browser start failed", zap.Error(err))
	}
	defer session.Close()

	overrides := resolver.DefaultOverrides()
	if cfg.App.PlatformsFile != "" {
		overrides, err = resolver.LoadOverrides(cfg.App.PlatformsFile)
		if err != nil {
			logger.Fatal("platform overrides load failed", zap.Error(err))
		}
	}

	history, err := store.NewHistoryStore(cfg.Memory.Path)
	if err != nil {
		logger.Fatal("history store init failed", zap.Error(err))
	}
	defer history.Close()

	gov := governance.NewDefaultPolicyEngine()
	// Default safety rules: keep the browser off raw local resources.
	_ = gov.DenyURL(`^file://`)
	_ = gov.DenyURL(`^chrome://`)

	prompts := planner.NewPromptManager(cfg.App.PromptsDir)
	plnr := planner.New(llm, pCfg.Model, prompts, cfg.Agent.MaxPlanSteps, logger)
	rslvr := resolver.New(logger, overrides)
	exec := executor.New(session, cfg.Browser.NavTimeout(),
		executor.DefaultRetryPolicy(cfg.Agent.MaxRetries), logger)

	runner := setupRunner(ctx, cfg, plnr, rslvr, exec, session, gov, history, logger)

	<-ctx.Done()
	runner.Wait()

	// Give a short time for final logs/syncs
	time.Sleep(500 * time.Millisecond)
	logger.Info("shut down")
}

// setupRunner wires the orchestrator, runner, and enabled gateways, and
// starts them. The terminal gateway is always on; Telegram joins when
// configured.
func setupRunner(ctx context.Context, cfg *config.Config, plnr agent.StepPlanner, rslvr agent.TargetResolver, exec agent.StepExecutor, session *browser.Session, gov governance.PolicyEngine, history *store.HistoryStore, logger *zap.Logger) *agent.Runner {
	// The runner is created before the orchestrator's sink exists, so wire
	// the sink through a late-bound fanout.
	var sinks agent.MultiSink

	orch := agent.New(plnr, rslvr, exec, session, logger,
		agent.WithPolicy(gov),
		agent.WithStore(history),
		agent.WithMaxReplans(cfg.Agent.MaxReplans),
		agent.WithStatusSink(&sinks),
	)
	runner := agent.NewRunner(orch, logger)

	term := gateway.NewTerminalGateway(runner, logger)
	sinks = append(sinks, term)

	shells := []gateway.Shell{term}
	if tgCfg, ok := cfg.GetTelegramConfig(); ok {
		tg, err := gateway.NewTelegramGateway(tgCfg.Token, runner, logger)
		if err != nil {
			logger.Fatal("telegram init failed", zap.Error(err))
		}
		sinks = append(sinks, tg)
		shells = append(shells, tg)
	}

	runner.Start(ctx)
	for _, shell := range shells {
		go func(sh gateway.Shell) {
			if err := sh.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Error("gateway exited", zap.Error(err))
			}
		}(shell)
	}
	return runner
}

func buildModel(ctx context.Context, name string, pCfg config.ProviderConfig) (llms.Model, error) {
	key, err := pCfg.Credential()
	if err != nil {
		return nil, err
	}

	switch name {
	case "gemini":
		return googleai.New(ctx,
			googleai.WithAPIKey(key),
			googleai.WithDefaultModel(pCfg.Model),
		)
	default: // openai, openrouter, and compatible endpoints
		opts := []openai.Option{
			openai.WithToken(key),
			openai.WithModel(pCfg.Model),
		}
		if pCfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(pCfg.BaseURL))
		}
		return openai.New(opts...)
	}
}
