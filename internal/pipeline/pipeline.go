// Package pipeline runs one analysis end to end: gather market data and
// news, ask a model (or apply the scraper rules), validate and save.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/dyike/AurumGo/internal/llm"
	"github.com/dyike/AurumGo/internal/merger"
	"github.com/dyike/AurumGo/internal/models"
	"github.com/dyike/AurumGo/internal/news"
	"github.com/dyike/AurumGo/internal/prompts"
	"github.com/dyike/AurumGo/internal/retry"
	"github.com/dyike/AurumGo/internal/storage"
)

// ToolScraper is the pipeline that decides without a model.
const ToolScraper = "scraper"

var (
	ErrUnknownTool   = errors.New("pipeline: unknown tool")
	ErrNotConfigured = errors.New("pipeline: tool not configured")
)

// Requester sends one prompt to a model.
type Requester interface {
	Send(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// Notifier is told about every successfully saved record.
type Notifier interface {
	Notify(ctx context.Context, rec *models.AnalysisRecord, path string) error
}

// Observer receives the outcome of every run.
type Observer interface {
	ObserveRun(tool, status string, elapsed time.Duration, spot *float64)
}

// Result is a saved run.
type Result struct {
	Tool     string
	Record   *models.AnalysisRecord
	Path     string
	Attempts int
	Elapsed  time.Duration
}

type Runner struct {
	sources  Sources
	store    *storage.Store
	caller   *retry.Caller
	llms     map[string]Requester
	merger   *merger.Merger
	notifier Notifier
	observer Observer
	maxNews  int
	now      func() time.Time
	log      zerolog.Logger
}

type Option func(*Runner)

// WithLLM registers the model behind an LLM tool.
func WithLLM(tool string, r Requester) Option {
	return func(rn *Runner) { rn.llms[tool] = r }
}

func WithMerger(m *merger.Merger) Option {
	return func(rn *Runner) { rn.merger = m }
}

func WithNotifier(n Notifier) Option {
	return func(rn *Runner) { rn.notifier = n }
}

func WithObserver(o Observer) Option {
	return func(rn *Runner) { rn.observer = o }
}

func WithMaxNews(n int) Option {
	return func(rn *Runner) { rn.maxNews = n }
}

func WithClock(now func() time.Time) Option {
	return func(rn *Runner) { rn.now = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(rn *Runner) { rn.log = l.With().Str("component", "pipeline").Logger() }
}

func NewRunner(sources Sources, store *storage.Store, caller *retry.Caller, opts ...Option) *Runner {
	if caller == nil {
		caller = retry.New(retry.DefaultPolicy())
	}
	r := &Runner{
		sources: sources,
		store:   store,
		caller:  caller,
		llms:    make(map[string]Requester),
		maxNews: 10,
		now:     time.Now,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.merger == nil {
		r.merger = merger.New(nil, caller, merger.WithClock(r.now))
	}
	return r
}

// Tools lists the tools this runner can execute.
func (r *Runner) Tools() []string {
	tools := make([]string, 0, len(r.llms)+1)
	for tool := range r.llms {
		tools = append(tools, tool)
	}
	sort.Strings(tools)
	return append(tools, ToolScraper)
}

// Known reports whether tool names a pipeline, configured or not.
func Known(tool string) bool {
	return tool == ToolScraper || llm.IsProvider(tool)
}

// Run executes the named pipeline and saves its record. When the run fails a
// failed record is saved before the error is returned.
func (r *Runner) Run(ctx context.Context, tool string) (*Result, error) {
	if !Known(tool) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, tool)
	}
	start := r.now()
	log := r.log.With().Str("tool", tool).Logger()
	log.Info().Msg("analysis started")

	var (
		rec      *models.AnalysisRecord
		attempts int
		err      error
	)
	if tool == ToolScraper {
		rec, err = r.runScraper(ctx)
	} else {
		rec, attempts, err = r.runLLM(ctx, tool)
	}
	if err != nil {
		return nil, r.fail(ctx, tool, start, err)
	}

	path, err := r.save(ctx, rec, tool)
	if err != nil {
		r.observe(tool, models.StatusFailed, start, nil)
		return nil, err
	}
	elapsed := r.now().Sub(start)
	r.observe(tool, rec.Status, start, rec.SpotPrice)
	log.Info().
		Str("path", path).
		Str("action", rec.Decision.Action).
		Int("attempts", attempts).
		Dur("elapsed", elapsed).
		Msg("analysis saved")

	r.notify(ctx, rec, path)
	return &Result{Tool: tool, Record: rec, Path: path, Attempts: attempts, Elapsed: elapsed}, nil
}

func (r *Runner) runLLM(ctx context.Context, tool string) (*models.AnalysisRecord, int, error) {
	client, ok := r.llms[tool]
	if !ok {
		return nil, 0, fmt.Errorf("%s: %w", tool, ErrNotConfigured)
	}

	gathered, err := r.sources.Gather(ctx)
	if err != nil {
		return nil, 0, err
	}
	for branch, berr := range gathered.Errors {
		r.log.Warn().Err(berr).Str("tool", tool).Str("branch", branch).Msg("source unavailable")
	}

	system, err := prompts.Load(prompts.AnalysisSystem)
	if err != nil {
		return nil, 0, err
	}
	prompt, err := prompts.Render(prompts.Analysis, map[string]string{
		"Date":    r.now().UTC().Format("2006-01-02 15:04 MST"),
		"Context": FormatContext(gathered),
	})
	if err != nil {
		return nil, 0, err
	}
	req := llm.Request{
		System: system,
		Prompt: prompt,
		// without a news branch the model is asked to look headlines up
		WebSearch:   gathered.News == nil,
		SearchQuery: r.sources.NewsParams.Query,
	}

	res, err := retry.Do(ctx, r.caller, "llm:"+tool, func(ctx context.Context) (*llm.Response, error) {
		return client.Send(ctx, req)
	})
	if err != nil {
		return nil, res.Attempts, err
	}

	var rec models.AnalysisRecord
	if err := llm.DecodeJSON(res.Value.Text, &rec, "spot_price", "decision"); err != nil {
		return nil, res.Attempts, err
	}
	rec.Timestamp = r.now().UTC()
	rec.Tool = tool
	rec.Source = tool
	rec.Sources = gathered.Succeeded()
	rec.Status = models.StatusSuccess
	rec.Error = ""
	rec.Normalize()
	overlay(&rec, gathered)
	rec.News = r.scoreNews(rec.News, gathered)

	if err := rec.Validate(); err != nil {
		return nil, res.Attempts, err
	}
	return &rec, res.Attempts, nil
}

// overlay fills values the model left empty with measured ones.
func overlay(rec *models.AnalysisRecord, g *Gathered) {
	if md := g.Market; md != nil {
		if rec.SpotPrice == nil {
			rec.SpotPrice = md.Spot
		}
		if rec.Changes.DailyPct == nil {
			rec.Changes.DailyPct = md.DailyPct
		}
		if rec.Changes.WeeklyPct == nil {
			rec.Changes.WeeklyPct = md.WeeklyPct
		}
		if rec.Changes.MonthlyPct == nil {
			rec.Changes.MonthlyPct = md.MonthlyPct
		}
		if rec.Technicals.RSI == nil {
			rec.Technicals.RSI = md.RSI
		}
		if len(rec.Technicals.Support) == 0 {
			rec.Technicals.Support = append([]float64{}, md.Support...)
		}
		if len(rec.Technicals.Resistance) == 0 {
			rec.Technicals.Resistance = append([]float64{}, md.Resistance...)
		}
		if rec.Technicals.Trend == "" {
			rec.Technicals.Trend = md.Trend
		}
	}
	if q := g.Page; q != nil {
		if rec.SpotPrice == nil {
			rec.SpotPrice = q.Price
		}
		if rec.Changes.DailyPct == nil {
			rec.Changes.DailyPct = q.ChangePct
		}
	}
}

// scoreNews fills missing sentiment and relevance from the keyword scorer,
// falls back to gathered headlines when the model gave none, and orders the
// result.
func (r *Runner) scoreNews(items []models.NewsItem, g *Gathered) []models.NewsItem {
	if len(items) == 0 {
		items = gatheredNews(g)
	}
	out := make([]models.NewsItem, 0, len(items))
	for _, it := range items {
		if it.Headline == "" {
			continue
		}
		s := news.Score(it.Headline)
		if it.Sentiment == "" {
			it.Sentiment = s.Sentiment
		}
		if it.Relevance <= 0 {
			it.Relevance = s.Relevance
		}
		if it.Relevance > news.MaxRelevance {
			it.Relevance = news.MaxRelevance
		}
		out = append(out, it)
	}
	out = news.Dedupe(out)
	news.Sort(out)
	if r.maxNews > 0 && len(out) > r.maxNews {
		out = out[:r.maxNews]
	}
	return out
}

func gatheredNews(g *Gathered) []models.NewsItem {
	items := append([]models.NewsItem{}, g.News...)
	if g.Page != nil {
		items = append(items, g.Page.Headlines...)
	}
	return items
}

func (r *Runner) save(ctx context.Context, rec *models.AnalysisRecord, tool string) (string, error) {
	path, err := r.store.Save(ctx, rec, tool)
	var sinkErr *storage.SinkError
	if errors.As(err, &sinkErr) {
		r.log.Warn().Err(err).Str("tool", tool).Msg("snapshot saved with sink failures")
		return path, nil
	}
	if err != nil {
		return "", fmt.Errorf("save %s: %w", tool, err)
	}
	return path, nil
}

// fail saves a failed record for tool and returns the run error joined with
// any save error.
func (r *Runner) fail(ctx context.Context, tool string, start time.Time, runErr error) error {
	r.observe(tool, models.StatusFailed, start, nil)
	r.log.Error().Err(runErr).Str("tool", tool).Msg("analysis failed")

	rec := models.FailedRecord(tool, r.now(), runErr)
	if _, err := r.save(ctx, rec, tool); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}

func (r *Runner) observe(tool, status string, start time.Time, spot *float64) {
	if r.observer != nil {
		r.observer.ObserveRun(tool, status, r.now().Sub(start), spot)
	}
}

func (r *Runner) notify(ctx context.Context, rec *models.AnalysisRecord, path string) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Notify(ctx, rec, path); err != nil {
		r.log.Warn().Err(err).Str("tool", rec.Tool).Msg("notification failed")
	}
}
