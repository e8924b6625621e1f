package cli

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/dyike/AurumGo/config"
	"github.com/dyike/AurumGo/internal/dataflows"
	"github.com/dyike/AurumGo/internal/extract"
	"github.com/dyike/AurumGo/internal/llm"
	"github.com/dyike/AurumGo/internal/merger"
	"github.com/dyike/AurumGo/internal/metrics"
	"github.com/dyike/AurumGo/internal/notify"
	"github.com/dyike/AurumGo/internal/pipeline"
	"github.com/dyike/AurumGo/internal/retry"
	"github.com/dyike/AurumGo/internal/storage"
	"github.com/dyike/AurumGo/internal/storage/sqlite"
)

const cacheTTL = time.Hour

// app is everything one command invocation needs, wired from config.
type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	metrics *metrics.Recorder
	caller  *retry.Caller
	store   *storage.Store
	index   *sqlite.Store
	redis   *storage.RedisMirror
	runner  *pipeline.Runner
}

func newApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*app, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, metrics: metrics.New()}
	a.caller = retry.New(pipeline.PolicyFromConfig(cfg),
		retry.WithObserver(a.metrics.ObserveAttempt),
		retry.WithLogger(log),
	)

	var sinks []storage.Sink
	if cfg.HistoryDB != "" {
		index, err := sqlite.Open(cfg.HistoryDB)
		if err != nil {
			return nil, err
		}
		a.index = index
		sinks = append(sinks, index)
	}
	if cfg.RedisURL != "" {
		mirror, err := storage.NewRedisMirror(cfg.RedisURL)
		if err != nil {
			log.Warn().Err(err).Msg("redis mirror disabled")
		} else if err := mirror.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("redis unreachable, mirror disabled")
			_ = mirror.Close()
		} else {
			a.redis = mirror
			sinks = append(sinks, mirror)
		}
	}
	a.store = storage.New(cfg.ResultsDir, storage.WithSinks(sinks...), storage.WithLogger(log))

	sources, news := a.buildSources()
	opts := []pipeline.Option{
		pipeline.WithLogger(log),
		pipeline.WithObserver(a.metrics),
		pipeline.WithMaxNews(cfg.MaxNewsItems),
	}

	search := func(ctx context.Context, query string) (string, error) {
		items, err := news.Search(ctx, dataflows.NewsParams{
			Query:      query,
			Language:   cfg.NewsLanguage,
			Country:    cfg.NewsCountry,
			MaxResults: cfg.MaxNewsItems,
		})
		if err != nil {
			return "", err
		}
		return dataflows.FormatHeadlines(items), nil
	}
	clients := make(map[string]*llm.Client)
	for _, name := range llm.Providers {
		client, err := llm.NewProvider(ctx, name, cfg, llm.WithSearch(search), llm.WithLogger(log))
		if err != nil {
			log.Debug().Err(err).Str("provider", name).Msg("provider not available")
			continue
		}
		clients[name] = client
		opts = append(opts, pipeline.WithLLM(name, client))
	}

	var requester merger.Requester
	if client, ok := clients[cfg.MergeProvider]; ok {
		requester = client
	}
	opts = append(opts, pipeline.WithMerger(merger.New(requester, a.caller, merger.WithLogger(log))))

	tg, err := notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID, log)
	switch {
	case err == nil:
		opts = append(opts, pipeline.WithNotifier(tg))
	case !errors.Is(err, notify.ErrDisabled):
		log.Warn().Err(err).Msg("telegram notifications disabled")
	}

	a.runner = pipeline.NewRunner(sources, a.store, a.caller, opts...)
	return a, nil
}

func (a *app) buildSources() (pipeline.Sources, *dataflows.GoogleNewsClient) {
	cfg := a.cfg
	cache := dataflows.NewCacheManager(cfg.DataCacheDir, cacheTTL, cfg.CacheEnabled)
	news := dataflows.NewGoogleNewsClient(cfg.UserAgent, cache, a.caller, a.log)

	sources := pipeline.Sources{
		Market:      dataflows.NewYahooFinanceClient(cache, a.caller, a.log),
		News:        news,
		Symbol:      cfg.YahooSymbol,
		CrossSymbol: cfg.LongportSymbol,
		NewsParams: dataflows.NewsParams{
			Query:      cfg.NewsQuery,
			Language:   cfg.NewsLanguage,
			Country:    cfg.NewsCountry,
			MaxResults: cfg.MaxNewsItems,
		},
	}

	if cfg.GoldPageURL != "" {
		pageOpts := []dataflows.GoldPageOption{
			dataflows.WithMaxHeadlines(cfg.MaxNewsItems),
			dataflows.WithPageLogger(a.log),
		}
		if cfg.ScrapeRulesFile != "" {
			rules, err := extract.LoadRuleSet(cfg.ScrapeRulesFile)
			if err != nil {
				a.log.Warn().Err(err).Str("file", cfg.ScrapeRulesFile).Msg("using default scrape rules")
			} else {
				pageOpts = append(pageOpts, dataflows.WithRules(rules))
			}
		}
		page := dataflows.NewHTTPPage(cfg.UserAgent)
		sources.Page = dataflows.NewGoldPageScraper(page, a.caller, cfg.GoldPageURL, cfg.NavigationTimeout(), pageOpts...)
	}

	lp, err := dataflows.NewLongportClient(dataflows.LongportConfig{
		AppKey:      cfg.LongportAppKey,
		AppSecret:   cfg.LongportAppSecret,
		AccessToken: cfg.LongportAccessToken,
	}, a.caller)
	switch {
	case err == nil:
		sources.Cross = lp
	case !errors.Is(err, dataflows.ErrLongportNotConfigured):
		a.log.Warn().Err(err).Msg("longport cross-check disabled")
	}
	return sources, news
}

// finish flushes metrics and closes the sinks.
func (a *app) finish() {
	if err := a.metrics.WriteTextfile(a.cfg.MetricsTextfile); err != nil {
		a.log.Warn().Err(err).Msg("metrics not written")
	}
	if a.index != nil {
		_ = a.index.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}
