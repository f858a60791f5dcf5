package main

import (
	"context"

	"github.com/sells-group/lead-enrich/internal/enrich"
	"github.com/sells-group/lead-enrich/internal/pipeline"
	"github.com/sells-group/lead-enrich/internal/resilience"
	"github.com/sells-group/lead-enrich/internal/store"
	"github.com/sells-group/lead-enrich/internal/webhook"
	anthropicpkg "github.com/sells-group/lead-enrich/pkg/anthropic"
	"github.com/sells-group/lead-enrich/pkg/apollo"
	"github.com/sells-group/lead-enrich/pkg/lusha"
	"github.com/sells-group/lead-enrich/pkg/ratelimit"
)

// pipelineEnv holds the initialized store, listener, and pipeline shared
// by the enrich and serve commands.
type pipelineEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
	Listener *webhook.Listener
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline validates the configuration for the given mode and wires
// the store, rate-limited wire clients, classification rules, webhook
// listener, and pipeline. Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	rules, err := loadRules()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	lushaClient := lusha.NewClient(cfg.Lusha.Key,
		lusha.WithBaseURL(cfg.Lusha.BaseURL),
		lusha.WithLimiter(ratelimit.New(cfg.Lusha.Rate, cfg.Lusha.Window())),
	)
	apolloClient := apollo.NewClient(cfg.Apollo.Key,
		apollo.WithBaseURL(cfg.Apollo.BaseURL),
		apollo.WithLimiter(ratelimit.New(cfg.Apollo.Rate, cfg.Apollo.Window())),
	)
	aiClient := anthropicpkg.NewClient(cfg.Anthropic.Key)

	retry := resilience.FromConfig(cfg.Retry.MaxAttempts, cfg.Retry.BackoffBase)
	lushaEnricher := enrich.NewLushaEnricher(lushaClient, rules, retry)
	apolloEnricher := enrich.NewApolloEnricher(apolloClient, cfg.Webhook.CallbackURL(), retry)
	listener := webhook.NewListener(webhook.NewCorrelator(rules))

	p := pipeline.New(cfg, st, lushaEnricher, apolloEnricher, aiClient, listener)

	return &pipelineEnv{
		Store:    st,
		Pipeline: p,
		Listener: listener,
	}, nil
}

// loadRules returns the built-in classification rules, or the --rules
// file override when one was given.
func loadRules() (enrich.Rules, error) {
	if rulesPath == "" {
		return enrich.DefaultRules(), nil
	}
	return enrich.LoadRules(rulesPath)
}
