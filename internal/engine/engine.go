// Package engine runs a question through the backend and segments the answer
// into reasoning stages.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/markis/seqthink/internal/client"
	"github.com/markis/seqthink/internal/prompt"
	"github.com/markis/seqthink/internal/segment"
	"github.com/markis/seqthink/internal/stage"
	"github.com/markis/seqthink/internal/stream"
)

// ErrBusy is returned when a request is started while another one is still
// running on the same engine.
var ErrBusy = errors.New("engine: a request is already in flight")

// Transport issues generation requests. *client.Client implements it.
type Transport interface {
	Generate(ctx context.Context, req client.Request) (string, error)
	Stream(ctx context.Context, req client.Request) (<-chan stream.Chunk, error)
}

// Options are per-request settings. Sampling is forwarded to the transport
// without interpretation.
type Options struct {
	Model    string
	Sampling client.Options
}

// Engine serves one request at a time.
type Engine struct {
	transport Transport
	model     string
	strict    bool
	logger    *slog.Logger
	now       func() time.Time
	busy      atomic.Bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithModel sets the model id used when a request does not name one.
func WithModel(model string) Option {
	return func(e *Engine) {
		e.model = model
	}
}

// WithStrictMarkers makes the streaming segmenter accept stage markers only
// in canonical order.
func WithStrictMarkers(strict bool) Option {
	return func(e *Engine) {
		e.strict = strict
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates an engine on top of transport.
func New(transport Transport, opts ...Option) *Engine {
	e := &Engine{
		transport: transport,
		model:     client.DefaultModel,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) request(question, codeContext string, opts Options) client.Request {
	model := opts.Model
	if model == "" {
		model = e.model
	}
	return client.Request{
		Prompt:  prompt.Build(question, codeContext),
		Model:   model,
		Options: opts.Sampling,
	}
}

func (e *Engine) acquire() error {
	if !e.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	return nil
}

// Process asks the question and segments the complete answer in one pass.
func (e *Engine) Process(ctx context.Context, question, codeContext string, opts Options) (*stage.Result, error) {
	if err := e.acquire(); err != nil {
		return nil, err
	}
	defer e.busy.Store(false)

	start := e.now()
	req := e.request(question, codeContext, opts)
	e.logger.Info("processing question", slog.String("model", req.Model))

	text, err := e.transport.Generate(ctx, req)
	if err != nil {
		e.logger.Error("generation failed", slog.String("error", err.Error()))
		return nil, fmt.Errorf("generate: %w", err)
	}

	parsed := segment.Parse(text)
	result := stage.NewResult(question, req.Model)
	result.Steps = parsed.Steps
	result.FinalAnswer = parsed.FinalAnswer
	result.ElapsedMs = e.now().Sub(start).Milliseconds()

	e.logger.Info("question processed",
		slog.String("mode", parsed.Mode.String()),
		slog.Int("steps", len(result.Steps)),
		slog.Int64("elapsed_ms", result.ElapsedMs))
	return result, nil
}
