package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/guardmesh/sentinel/pkg/config"
	"github.com/guardmesh/sentinel/pkg/guardian"
	"github.com/guardmesh/sentinel/pkg/infra/httpx"
	"github.com/guardmesh/sentinel/pkg/infra/judge"
	infraLogger "github.com/guardmesh/sentinel/pkg/infra/logger"
	"github.com/guardmesh/sentinel/pkg/infra/target"
	"github.com/guardmesh/sentinel/pkg/mitigation"
	"github.com/guardmesh/sentinel/pkg/policy"
	"github.com/guardmesh/sentinel/pkg/probe"
	"github.com/guardmesh/sentinel/pkg/prompts"
	"github.com/guardmesh/sentinel/pkg/registry"
	"github.com/guardmesh/sentinel/pkg/scanner"
	"github.com/guardmesh/sentinel/pkg/server"
	"github.com/guardmesh/sentinel/pkg/state"
	"github.com/guardmesh/sentinel/pkg/threat"
	"github.com/guardmesh/sentinel/pkg/types"
)

func main() {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		log.Println("no .env file found, using system environment variables")
	}

	logger := infraLogger.NewLogger()

	cfg, err := config.Load("./config")
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	// Judge client is optional: every component has a deterministic
	// fallback path when it is disabled or failing.
	var judgeCli judge.Client
	if cfg.Judge.Enabled && cfg.Judge.APIKey != "" {
		judgeCli = judge.NewOpenAIJudgeClient(
			cfg.Judge.APIKey,
			logger,
			judge.WithEndpoint(cfg.Judge.Endpoint),
			judge.WithModel(cfg.Judge.Model),
			judge.WithBreaker(httpx.NewCircuitBreaker("judge", breakerSettings(cfg.Judge.Breaker))),
		)
	}

	threatStore := threat.NewStore()
	reg := registry.New()
	mitigationEngine := mitigation.NewEngine(logger)

	policyGen := policy.NewGenerator(logger,
		withJudgePolicy(judgeCli),
		policy.WithMinInterval(cfg.Policy.MinGenerationInterval),
	)
	promptGen := prompts.NewGenerator(logger, withJudgePrompts(judgeCli))
	analyzer := guardian.NewAnalyzer(logger, withJudgeGuardian(judgeCli))

	st := state.New(state.Deps{
		Threats:       threatStore,
		Policies:      policyGen,
		Prompts:       promptGen,
		Guardian:      analyzer,
		Mitigation:    mitigationEngine,
		Registry:      reg,
		Logger:        logger,
		MitigationCtx: mitigationContext(cfg),
	})

	httpClient := httpx.NewFastHTTPClient(httpx.WithUserAgent("sentinel/1.0"))

	sc := scanner.New(threatStore, logger, cfg.Scanner.QueueSize,
		withJudgeScanner(judgeCli),
		scanner.WithEnrichedFunc(st.OnThreatEnriched),
	)
	st.SetScanner(sc)

	invoker := target.NewHTTPInvoker(logger,
		target.WithHTTPClient(httpClient),
		target.WithCircuitBreaker(httpx.NewCircuitBreaker("target-model", breakerSettings(cfg.Probe.Breaker))),
	)
	probeEngine := probe.NewEngine(reg, promptGen, analyzer, invoker, logger,
		probe.WithPromptsPerCycle(cfg.Probe.PromptsPerCycle),
		probe.WithFollowUps(cfg.Probe.FollowUps),
		probe.WithAnalysisFunc(st.OnAnalysis),
	)
	st.SetProbeEngine(probeEngine)

	sources, scheduled := buildSources(cfg, httpClient, logger)

	scheduler := state.NewScheduler(st, scheduled, cfg.Scanner.EnrichmentInterval, cfg.Probe.Interval, logger)
	scheduler.Start(context.Background())
	defer scheduler.Stop()

	srv := server.New(st, sources, logger)

	go func() {
		if err := srv.Listen(cfg.Server.Host, cfg.Server.Port); err != nil {
			logger.WithError(err).Fatal("server stopped")
		}
	}()
	logger.WithField("port", cfg.Server.Port).Info("sentinel started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	if err := srv.Shutdown(); err != nil {
		logger.WithError(err).Error("server shutdown failed")
	}
}

func buildSources(cfg *config.Config, client httpx.Client, logger *logrus.Logger) ([]scanner.Source, []state.ScheduledSource) {
	var sources []scanner.Source
	var scheduled []state.ScheduledSource
	for _, sc := range cfg.Scanner.Sources {
		src, err := scanner.BuildSource(sc.Type, sc.Name, sc.URL, sc.Settings, client)
		if err != nil {
			logger.Fatalf("invalid scanner source %q: %v", sc.Name, err)
		}
		sources = append(sources, src)
		interval := sc.Interval
		if interval <= 0 {
			interval = cfg.Scanner.EnrichmentInterval * 6
		}
		scheduled = append(scheduled, state.ScheduledSource{Source: src, Interval: interval})
	}
	return sources, scheduled
}

func breakerSettings(cfg config.BreakerConfig) httpx.BreakerSettings {
	return httpx.BreakerSettings{
		Cooldown:    cfg.Cooldown,
		MaxFailures: uint32(cfg.MaxFailures),
	}
}

func mitigationContext(cfg *config.Config) mitigation.Context {
	blockAt, ok := types.ParseRiskLevel(cfg.Mitigation.AutoBlockThreshold)
	if !ok {
		blockAt = types.RiskHigh
	}
	alertAt, ok := types.ParseRiskLevel(cfg.Mitigation.AlertThreshold)
	if !ok {
		alertAt = types.RiskMedium
	}
	return mitigation.Context{
		AutoBlockThreshold: blockAt,
		AlertThreshold:     alertAt,
		LearningEnabled:    cfg.Mitigation.LearningEnabled,
	}
}

// The With* option helpers tolerate a nil judge client so the offline
// fallback paths stay the single code path when the judge is disabled.

func withJudgePolicy(cli judge.Client) policy.Option {
	if cli == nil {
		return func(*policy.Generator) {}
	}
	return policy.WithJudge(cli)
}

func withJudgePrompts(cli judge.Client) prompts.Option {
	if cli == nil {
		return func(*prompts.Generator) {}
	}
	return prompts.WithJudge(cli)
}

func withJudgeGuardian(cli judge.Client) guardian.Option {
	if cli == nil {
		return func(*guardian.Analyzer) {}
	}
	return guardian.WithJudge(cli)
}

func withJudgeScanner(cli judge.Client) scanner.Option {
	if cli == nil {
		return func(*scanner.Scanner) {}
	}
	return scanner.WithJudge(cli)
}
