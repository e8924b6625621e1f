// Package llm sends analysis prompts to chat models through eino and turns
// provider failures into errors the retry layer can classify.
package llm

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
)

// Generator is the slice of an eino chat model the client needs.
type Generator interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, input []*schema.Message) (*schema.Message, error)

func (f GeneratorFunc) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	return f(ctx, input)
}

// SearchFunc returns text gathered for query, used when a request asks for
// web search.
type SearchFunc func(ctx context.Context, query string) (string, error)

type Request struct {
	// Model overrides the client's default model when set.
	Model  string
	System string
	Prompt string
	// WebSearch asks the client to gather search results for SearchQuery and
	// put them in front of the prompt.
	WebSearch   bool
	SearchQuery string
}

type Response struct {
	Provider string
	Model    string
	Text     string
	Elapsed  time.Duration
}

// StatusError is a provider failure with its HTTP status.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm: status %d: %s", e.Status, e.Message)
}

func (e *StatusError) StatusCode() int { return e.Status }

var ErrEmptyResponse = errors.New("llm: empty response")

type Client struct {
	provider string
	model    string
	gen      Generator
	search   SearchFunc
	log      zerolog.Logger
}

type Option func(*Client)

func WithSearch(fn SearchFunc) Option {
	return func(c *Client) { c.search = fn }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

func NewClient(provider, modelName string, gen Generator, opts ...Option) *Client {
	c := &Client{
		provider: provider,
		model:    modelName,
		gen:      gen,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("component", "llm").Str("provider", provider).Logger()
	return c
}

func (c *Client) Provider() string { return c.provider }

func (c *Client) Model() string { return c.model }

// Send performs one request. It does not retry.
func (c *Client) Send(ctx context.Context, req Request) (*Response, error) {
	prompt := req.Prompt
	if req.WebSearch && c.search != nil && req.SearchQuery != "" {
		found, err := c.search(ctx, req.SearchQuery)
		if err != nil {
			c.log.Warn().Err(err).Str("query", req.SearchQuery).Msg("web search failed, sending prompt without results")
		} else if strings.TrimSpace(found) != "" {
			prompt = "Recent search results for \"" + req.SearchQuery + "\":\n" + found + "\n\n" + prompt
		}
	}

	msgs := make([]*schema.Message, 0, 2)
	if req.System != "" {
		msgs = append(msgs, schema.SystemMessage(req.System))
	}
	msgs = append(msgs, schema.UserMessage(prompt))

	modelName := c.model
	var opts []model.Option
	if req.Model != "" {
		modelName = req.Model
		opts = append(opts, model.WithModel(req.Model))
	}

	start := time.Now()
	out, err := c.gen.Generate(ctx, msgs, opts...)
	elapsed := time.Since(start)
	if err != nil {
		c.log.Debug().Err(err).Dur("elapsed", elapsed).Msg("generate failed")
		return nil, normalizeError(err)
	}
	if out == nil || strings.TrimSpace(out.Content) == "" {
		return nil, ErrEmptyResponse
	}

	c.log.Debug().Dur("elapsed", elapsed).Int("chars", len(out.Content)).Msg("generate ok")
	return &Response{
		Provider: c.provider,
		Model:    modelName,
		Text:     out.Content,
		Elapsed:  elapsed,
	}, nil
}

var statusCodeRE = regexp.MustCompile(`(?i)status(?:\s*code)?[:=\s]+(\d{3})`)

// normalizeError turns provider error text carrying an HTTP status into a
// *StatusError. Context errors and errors without a status pass through.
func normalizeError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var se *StatusError
	if errors.As(err, &se) {
		return err
	}
	m := statusCodeRE.FindStringSubmatch(err.Error())
	if len(m) != 2 {
		return err
	}
	code, convErr := strconv.Atoi(m[1])
	if convErr != nil {
		return err
	}
	return &StatusError{Status: code, Message: err.Error()}
}
