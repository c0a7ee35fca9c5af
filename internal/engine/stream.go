package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/markis/seqthink/internal/client"
	"github.com/markis/seqthink/internal/segment"
	"github.com/markis/seqthink/internal/stage"
	"github.com/markis/seqthink/internal/stream"
)

// StreamProcess asks the question and reports every stage through notify as
// text arrives.
//
// Transport and model failures return the partial result together with the
// error. Cancelling ctx stops all further callbacks, releases the transport
// stream and returns the partial result with Cancelled set and a nil error.
func (e *Engine) StreamProcess(ctx context.Context, question, codeContext string, notify stage.Callback, opts Options) (*stage.Result, error) {
	if err := e.acquire(); err != nil {
		return nil, err
	}
	defer e.busy.Store(false)

	start := e.now()
	req := e.request(question, codeContext, opts)
	result := stage.NewResult(question, req.Model)

	// Cancelling from inside notify stops the segmenter mid-record.
	segOpts := []segment.Option{
		segment.WithClock(e.now),
		segment.WithStop(func() bool { return ctx.Err() != nil }),
	}
	if e.strict {
		segOpts = append(segOpts, segment.StrictOrder())
	}
	seg := segment.New(result, notify, segOpts...)

	e.logger.Info("streaming question", slog.String("model", req.Model))

	// Cancelling reqCtx releases the transport's body.
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunks, err := e.transport.Stream(reqCtx, req)
	if err != nil {
		if ctx.Err() != nil {
			return e.cancelled(result, start), nil
		}
		return e.failed(result, start, fmt.Errorf("stream: %w", err))
	}

	dec := stream.NewDecoder()
	for done := false; !done; {
		select {
		case <-ctx.Done():
			return e.cancelled(result, start), nil
		case chunk, ok := <-chunks:
			if ctx.Err() != nil {
				return e.cancelled(result, start), nil
			}
			if !ok {
				done = true
				break
			}
			if chunk.Error != nil {
				return e.failed(result, start, fmt.Errorf("stream: %w", client.NewTransportError(0, chunk.Error)))
			}

			records, warnings, err := dec.Feed(chunk.Content)
			e.warn(warnings)
			finished, applyErr := e.apply(ctx, seg, records)
			if applyErr != nil {
				return e.failed(result, start, applyErr)
			}
			if ctx.Err() != nil {
				return e.cancelled(result, start), nil
			}
			if err != nil {
				return e.failed(result, start, fmt.Errorf("stream: %w", err))
			}
			done = finished
		}
	}

	records, warnings, err := dec.Flush()
	e.warn(warnings)
	if err != nil {
		return e.failed(result, start, fmt.Errorf("stream: %w", err))
	}
	if _, err := e.apply(ctx, seg, records); err != nil {
		return e.failed(result, start, err)
	}
	if ctx.Err() != nil {
		return e.cancelled(result, start), nil
	}

	seg.Close()
	result.ElapsedMs = e.since(start)

	if len(result.Steps) == 0 {
		e.logger.Warn("backend produced no content", slog.String("model", req.Model))
	}
	e.logger.Info("stream processed",
		slog.Bool("markers", seg.MarkersSeen()),
		slog.Int("steps", len(result.Steps)),
		slog.Int64("elapsed_ms", result.ElapsedMs))
	return result, nil
}

// apply feeds decoded records to the segmenter. It reports whether the
// backend signalled the end of the response.
func (e *Engine) apply(ctx context.Context, seg *segment.Segmenter, records []stream.Record) (bool, error) {
	for _, rec := range records {
		if ctx.Err() != nil {
			return false, nil
		}
		if rec.Response != "" {
			seg.Write(rec.Response)
		}
		if rec.Error != "" {
			return false, &client.ModelError{Message: rec.Error}
		}
		if rec.Done {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) warn(warnings []*stream.ParseWarning) {
	for _, w := range warnings {
		e.logger.Warn("skipping malformed record",
			slog.String("line", w.Line),
			slog.String("error", w.Err.Error()))
	}
}

func (e *Engine) cancelled(result *stage.Result, start time.Time) *stage.Result {
	result.Cancelled = true
	result.ElapsedMs = e.since(start)
	e.logger.Info("stream cancelled",
		slog.Int("steps", len(result.Steps)),
		slog.Int64("elapsed_ms", result.ElapsedMs))
	return result
}

func (e *Engine) failed(result *stage.Result, start time.Time, err error) (*stage.Result, error) {
	result.ElapsedMs = e.since(start)
	e.logger.Error("stream failed", slog.String("error", err.Error()))
	return result, err
}

func (e *Engine) since(start time.Time) int64 {
	return e.now().Sub(start).Milliseconds()
}
