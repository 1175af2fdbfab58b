package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/haivivi/ecostream/cmd/ecostream/internal/config"
	"github.com/haivivi/ecostream/pkg/cache"
	"github.com/haivivi/ecostream/pkg/decision"
	"github.com/haivivi/ecostream/pkg/finalize"
	"github.com/haivivi/ecostream/pkg/llm"
	"github.com/haivivi/ecostream/pkg/persist"
	"github.com/haivivi/ecostream/pkg/prompt"
	"github.com/haivivi/ecostream/pkg/stream"
	"github.com/haivivi/ecostream/pkg/techblock"
	"github.com/haivivi/ecostream/pkg/transport"
)

// app holds the components built from the configuration.
type app struct {
	cfg          *config.Config
	cache        cache.Cache
	store        *persist.Store
	finalizer    *finalize.Finalizer
	pipeline     *transport.Pipeline
	orchestrator *stream.Orchestrator

	closers []func() error
}

// newPipeline builds the decision and module selection stages. They need
// no model access.
func newPipeline(cfg *config.Config, c cache.Cache) *transport.Pipeline {
	catalog := prompt.NewFSCatalog(os.DirFS(cfg.Modules.Dir), prompt.CatalogOptions{
		Strict: cfg.Modules.Strict,
		Cache:  c,
		TTL:    cfg.Cache.TTL,
	})
	return &transport.Pipeline{
		Engine:   decision.NewEngine(decision.DefaultDetectors()),
		Selector: prompt.NewSelector(catalog, nil),
	}
}

func newCache(cfg *config.Config) (cache.Cache, func() error, error) {
	if cfg.Cache.Dir == "" {
		return cache.NewMemory(cache.MemoryOptions{
			MaxEntries: cfg.Cache.MaxEntries,
			DefaultTTL: cfg.Cache.TTL,
		}), nil, nil
	}
	b, err := cache.NewBadger(cache.BadgerOptions{Dir: cfg.Cache.Dir, DefaultTTL: cfg.Cache.TTL})
	if err != nil {
		return nil, nil, err
	}
	return b, b.Close, nil
}

func newProvider(ctx context.Context, cfg *config.Config) (llm.Provider, error) {
	key := cfg.Provider.ResolveAPIKey()
	if key == "" {
		return nil, errors.New("provider api key is not set (provider.api_key or ECO_PROVIDER_API_KEY)")
	}
	switch cfg.Provider.Kind {
	case "", "openai", "openrouter":
		p := llm.NewOpenAI(key, cfg.Provider.BaseURL)
		p.FallbackModel = cfg.Models.Fallback
		return p, nil
	case "gemini":
		p, err := llm.NewGemini(ctx, key)
		if err != nil {
			return nil, err
		}
		p.FallbackModel = cfg.Models.Fallback
		return p, nil
	}
	return nil, fmt.Errorf("unknown provider kind %q", cfg.Provider.Kind)
}

// newApp wires the full reply stack from cfg.
func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	c, closeCache, err := newCache(cfg)
	if err != nil {
		return nil, err
	}
	a.cache = c
	if closeCache != nil {
		a.closers = append(a.closers, closeCache)
	}

	provider, err := newProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var saver persist.MemorySaver
	if cfg.Memory.Dir != "" {
		a.store, err = persist.OpenStore(persist.StoreOptions{Dir: cfg.Memory.Dir})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.store.Close)
		saver = a.store
	}

	extractor := techblock.NewCached(&techblock.LLMExtractor{
		Completer:      provider,
		PrimaryModels:  cfg.TechBlock.Models,
		FallbackModels: cfg.TechBlock.FallbackModels,
	}, c, cfg.Cache.TTL)

	a.finalizer = finalize.New(extractor, saver, persist.LogTracker{Logger: slog.Default()})
	a.finalizer.BlockTimeout = cfg.TechBlock.FinalizeTimeout

	a.pipeline = newPipeline(cfg, c)
	a.orchestrator = &stream.Orchestrator{
		Provider: provider,
		Fallback: &llm.Hedged{
			Completer: provider,
			MainModel: cfg.Models.Main,
			MiniModel: cfg.Models.Mini,
			Cutover:   cfg.Hedge.Cutover,
		},
		Extractor: extractor,
		Saver:     saver,
		Finalizer: a.finalizer,
		Registry:  stream.NewRegistry(),
		Options: stream.Options{
			Model:             cfg.Models.Main,
			Temperature:       llm.Ptr(cfg.Stream.Temperature),
			MaxTokens:         cfg.Stream.MaxTokens,
			FirstTokenTimeout: cfg.Stream.FirstTokenTimeout,
			GuardTimeout:      cfg.Stream.GuardTimeout,
			ModelTimeout:      cfg.Stream.ModelTimeout,
			FlushSize:         cfg.Stream.FlushSize,
			FlushInterval:     cfg.Stream.FlushInterval,
			BlockPending:      cfg.TechBlock.Pending,
			BlockDeadline:     cfg.TechBlock.Deadline,
		},
	}
	return a, nil
}

// Close waits for background persistence and releases the stores.
func (a *app) Close() error {
	if a.finalizer != nil {
		a.finalizer.Wait()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
