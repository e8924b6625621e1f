package dataflows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"

	"github.com/dyike/AurumGo/internal/retry"
)

// Page loads one document at a time. Goto reports success; Content returns
// the raw HTML of the last successful load.
type Page interface {
	Goto(ctx context.Context, url string, timeout time.Duration) bool
	Content() string
}

// Fetcher is implemented by pages that can load a document without keeping
// it. Navigate prefers it, so one page can serve concurrent runs.
type Fetcher interface {
	Fetch(ctx context.Context, url string, timeout time.Duration) (string, error)
}

// NavigationError describes a failed Goto. It carries the HTTP status when
// there was a response.
type NavigationError struct {
	URL    string
	Status int
	Err    error
}

func (e *NavigationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("navigate %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("navigate %s: status %d", e.URL, e.Status)
}

func (e *NavigationError) Unwrap() error { return e.Err }

func (e *NavigationError) StatusCode() int { return e.Status }

var browserHeaders = map[string]string{
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
	"Accept-Language": "en-US,en;q=0.9",
	"Cache-Control":   "no-cache",
	"Pragma":          "no-cache",
}

// HTTPPage implements Page with resty and browser-like headers. It does not
// run scripts, so it only sees server-rendered markup.
type HTTPPage struct {
	client *resty.Client

	mu      sync.Mutex
	content string
	lastErr error
}

func NewHTTPPage(userAgent string) *HTTPPage {
	client := resty.New()
	client.SetHeaders(browserHeaders)
	if userAgent != "" {
		client.SetHeader("User-Agent", userAgent)
	}
	return &HTTPPage{client: client}
}

// Fetch loads url and returns the body. It keeps no state.
func (p *HTTPPage) Fetch(ctx context.Context, url string, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, err := p.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return "", &NavigationError{URL: url, Err: err}
	}
	if resp.IsError() {
		return "", &NavigationError{URL: url, Status: resp.StatusCode()}
	}
	return resp.String(), nil
}

func (p *HTTPPage) Goto(ctx context.Context, url string, timeout time.Duration) bool {
	body, err := p.Fetch(ctx, url, timeout)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastErr = err
	if err != nil {
		return false
	}
	p.content = body
	return true
}

func (p *HTTPPage) Content() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.content
}

// Err returns why the last Goto failed.
func (p *HTTPPage) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

var errNavigation = errors.New("navigation failed")

// Navigate loads url through the retry caller and returns the parsed
// document.
func Navigate(ctx context.Context, caller *retry.Caller, page Page, url string, timeout time.Duration) (*goquery.Document, int, error) {
	res, err := retry.Do(ctx, caller, "navigate", func(ctx context.Context) (string, error) {
		if f, ok := page.(Fetcher); ok {
			return f.Fetch(ctx, url, timeout)
		}
		if page.Goto(ctx, url, timeout) {
			return page.Content(), nil
		}
		if ep, ok := page.(interface{ Err() error }); ok && ep.Err() != nil {
			return "", ep.Err()
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%s: %w", url, errNavigation)
	})
	if err != nil {
		return nil, res.Attempts, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(res.Value))
	if err != nil {
		return nil, res.Attempts, fmt.Errorf("parse %s: %w", url, err)
	}
	return doc, res.Attempts, nil
}
