package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dyike/AurumGo/internal/dataflows"
	"github.com/dyike/AurumGo/internal/models"
)

// Branch names used in logs, records and errors.
const (
	BranchMarket = "market"
	BranchPage   = "page"
	BranchNews   = "news"
	BranchCross  = "crosscheck"
)

var ErrAllSourcesFailed = errors.New("pipeline: every data source failed")

type MarketSource interface {
	Market(ctx context.Context, symbol string) (*dataflows.MarketData, error)
}

type PageSource interface {
	Scrape(ctx context.Context) (*dataflows.PageQuote, error)
}

type NewsSource interface {
	Search(ctx context.Context, params dataflows.NewsParams) ([]models.NewsItem, error)
}

type CrossSource interface {
	CrossCheck(ctx context.Context, symbol string) (*dataflows.CrossCheck, error)
}

// Sources are the data branches a run gathers from. Nil branches are skipped.
type Sources struct {
	Market      MarketSource
	Page        PageSource
	News        NewsSource
	Cross       CrossSource
	Symbol      string
	CrossSymbol string
	NewsParams  dataflows.NewsParams
}

// Gathered is the settled outcome of every branch.
type Gathered struct {
	Market *dataflows.MarketData
	Page   *dataflows.PageQuote
	News   []models.NewsItem
	Cross  *dataflows.CrossCheck
	// Errors holds the failure of each branch that did not succeed.
	Errors  map[string]error
	Elapsed time.Duration
}

// Succeeded lists the branches that produced data, sorted.
func (g *Gathered) Succeeded() []string {
	var out []string
	if g.Market != nil {
		out = append(out, BranchMarket)
	}
	if g.Page != nil {
		out = append(out, BranchPage)
	}
	if g.News != nil {
		out = append(out, BranchNews)
	}
	if g.Cross != nil {
		out = append(out, BranchCross)
	}
	sort.Strings(out)
	return out
}

// Gather runs every configured branch concurrently and waits for all of them.
// A failing branch does not cancel its siblings. It returns an error only
// when every branch failed.
func (s Sources) Gather(ctx context.Context) (*Gathered, error) {
	start := time.Now()
	var (
		g       errgroup.Group
		out     Gathered
		errs    = make(map[string]error)
		mu      sync.Mutex
		started int
	)
	fail := func(branch string, err error) {
		mu.Lock()
		errs[branch] = err
		mu.Unlock()
	}

	if s.Market != nil {
		started++
		g.Go(func() error {
			md, err := s.Market.Market(ctx, s.Symbol)
			if err != nil {
				fail(BranchMarket, err)
				return nil
			}
			out.Market = md
			return nil
		})
	}
	if s.Page != nil {
		started++
		g.Go(func() error {
			q, err := s.Page.Scrape(ctx)
			if err != nil {
				fail(BranchPage, err)
				return nil
			}
			out.Page = q
			return nil
		})
	}
	if s.News != nil {
		started++
		g.Go(func() error {
			items, err := s.News.Search(ctx, s.NewsParams)
			if err != nil {
				fail(BranchNews, err)
				return nil
			}
			if items == nil {
				items = []models.NewsItem{}
			}
			out.News = items
			return nil
		})
	}
	if s.Cross != nil {
		started++
		g.Go(func() error {
			cc, err := s.Cross.CrossCheck(ctx, s.CrossSymbol)
			if err != nil {
				fail(BranchCross, err)
				return nil
			}
			out.Cross = cc
			return nil
		})
	}
	_ = g.Wait()

	out.Errors = errs
	out.Elapsed = time.Since(start)
	if started == 0 {
		return &out, fmt.Errorf("%w: no sources configured", ErrAllSourcesFailed)
	}
	if len(errs) == started {
		return &out, fmt.Errorf("%w: %s", ErrAllSourcesFailed, joinBranchErrors(errs))
	}
	return &out, nil
}

func joinBranchErrors(errs map[string]error) string {
	names := make([]string, 0, len(errs))
	for name := range errs {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s: %v", name, errs[name])
	}
	return strings.Join(parts, "; ")
}

// FormatContext renders the gathered data as prompt context.
func FormatContext(g *Gathered) string {
	var b strings.Builder
	if md := g.Market; md != nil {
		fmt.Fprintf(&b, "Market data (%s", md.Symbol)
		if !md.AsOf.IsZero() {
			fmt.Fprintf(&b, ", as of %s", md.AsOf.Format("2006-01-02"))
		}
		b.WriteString("):\n")
		writeFloat(&b, "Spot price", md.Spot, "")
		writeFloat(&b, "Daily change", md.DailyPct, "%")
		writeFloat(&b, "Weekly change", md.WeeklyPct, "%")
		writeFloat(&b, "Monthly change", md.MonthlyPct, "%")
		writeFloat(&b, "RSI(14)", md.RSI, "")
		writeFloat(&b, "SMA20", md.SMA20, "")
		writeFloat(&b, "SMA50", md.SMA50, "")
		if len(md.Support) > 0 {
			fmt.Fprintf(&b, "- Support: %s\n", formatLevels(md.Support))
		}
		if len(md.Resistance) > 0 {
			fmt.Fprintf(&b, "- Resistance: %s\n", formatLevels(md.Resistance))
		}
		fmt.Fprintf(&b, "- Trend (SMA20 vs SMA50): %s\n\n", md.Trend)
	}
	if q := g.Page; q != nil {
		fmt.Fprintf(&b, "Quote page %s:\n", q.URL)
		writeFloat(&b, "Price", q.Price, "")
		writeFloat(&b, "Change", q.Change, "")
		writeFloat(&b, "Change", q.ChangePct, "%")
		if q.Timestamp != "" {
			fmt.Fprintf(&b, "- Updated: %s\n", q.Timestamp)
		}
		b.WriteString("\n")
	}
	if cc := g.Cross; cc != nil {
		fmt.Fprintf(&b, "Cross-check %s: last %.2f, previous %.2f\n\n", cc.Symbol, cc.Last, cc.Prev)
	}
	headlines := g.News
	if g.Page != nil {
		headlines = append(append([]models.NewsItem{}, headlines...), g.Page.Headlines...)
	}
	if len(headlines) > 0 {
		b.WriteString("Recent headlines:\n")
		b.WriteString(dataflows.FormatHeadlines(headlines))
		b.WriteString("\n")
	}
	if len(g.Errors) > 0 {
		fmt.Fprintf(&b, "Unavailable sources: %s\n", joinBranchErrors(g.Errors))
	}
	return strings.TrimSpace(b.String())
}

func writeFloat(b *strings.Builder, label string, v *float64, unit string) {
	if v == nil {
		return
	}
	fmt.Fprintf(b, "- %s: %.2f%s\n", label, *v, unit)
}

func formatLevels(levels []float64) string {
	parts := make([]string, len(levels))
	for i, l := range levels {
		parts[i] = fmt.Sprintf("%.2f", l)
	}
	return strings.Join(parts, ", ")
}
