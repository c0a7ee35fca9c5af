package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/cli/go-gh/v2/pkg/tableprinter"
	"github.com/cli/go-gh/v2/pkg/term"
	"github.com/markis/seqthink/internal/args"
	"github.com/markis/seqthink/internal/client"
	"github.com/markis/seqthink/internal/config"
	"github.com/markis/seqthink/internal/engine"
	"github.com/markis/seqthink/internal/history"
	"github.com/markis/seqthink/internal/render"
	"github.com/markis/seqthink/internal/stage"
)

const tableWidth = 120

// app holds everything one invocation needs.
type app struct {
	cfg      *config.Config
	args     args.Arguments
	out      io.Writer
	logger   *slog.Logger
	client   *client.Client
	renderer *render.TerminalRenderer
}

// run loads the configuration, parses argv and dispatches the requested action.
func run(ctx context.Context, argv []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cfg, err := config.LoadConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	parsed, err := args.ParseArgs(*cfg, argv, stdin)
	if err != nil {
		return err
	}

	a := &app{
		cfg:    cfg,
		args:   parsed,
		out:    stdout,
		logger: logger,
		client: client.New(parsed.Model,
			client.WithBaseURL(cfg.Endpoint),
			client.WithLogger(logger),
		),
		renderer: render.NewTerminalRenderer(stdout, parsed.UsePlainText, cfg.Render.Wrap),
	}

	switch parsed.Action {
	case args.ActionNone:
		return nil
	case args.ActionAsk:
		return a.ask(ctx)
	case args.ActionModels:
		return a.models(ctx)
	case args.ActionCacheClear:
		return a.clearCache()
	default:
		return a.history(parsed.Action)
	}
}

func (a *app) ask(ctx context.Context) error {
	var cache *history.Cache
	if !a.args.NoCache {
		dir, err := a.cfg.CacheDir()
		if err != nil {
			return err
		}
		cache, err = history.OpenCache(dir,
			history.WithCacheItems(a.cfg.Cache.MaxItems),
			history.WithCacheLogger(a.logger),
		)
		if err != nil {
			return err
		}
		if result, ok := cache.Get(a.args.Question, a.args.Context, a.args.Model); ok {
			return a.renderer.RenderResult(result)
		}
	}

	eng := engine.New(a.client,
		engine.WithLogger(a.logger),
		engine.WithModel(a.args.Model),
		engine.WithStrictMarkers(a.args.Strict),
	)
	opts := engine.Options{Model: a.args.Model, Sampling: a.sampling()}

	var (
		result *stage.Result
		err    error
	)
	if a.args.Batch {
		result, err = eng.Process(ctx, a.args.Question, a.args.Context, opts)
		if err == nil {
			err = a.renderer.RenderResult(result)
		}
	} else {
		result, err = eng.StreamProcess(ctx, a.args.Question, a.args.Context, a.renderer.Notify, opts)
		if renderErr := a.renderer.Finish(result); err == nil {
			err = renderErr
		}
	}
	if err != nil {
		return err
	}
	if result.Cancelled || len(result.Steps) == 0 {
		return nil
	}

	if cache != nil {
		if err := cache.Put(a.args.Question, a.args.Context, result); err != nil {
			a.logger.Warn("failed to cache result", slog.String("error", err.Error()))
		}
	}
	if a.cfg.History.Enabled {
		store, err := a.openHistory()
		if err != nil {
			return err
		}
		if _, err := store.Add(result); err != nil {
			a.logger.Warn("failed to record history", slog.String("error", err.Error()))
		}
	}
	return nil
}

func (a *app) sampling() client.Options {
	s := a.cfg.Sampling
	return client.Options{
		Temperature: s.Temperature,
		TopP:        s.TopP,
		TopK:        s.TopK,
		MaxTokens:   s.MaxTokens,
	}
}

func (a *app) openHistory() (*history.Store, error) {
	path, err := a.cfg.HistoryPath()
	if err != nil {
		return nil, err
	}
	return history.OpenStore(path,
		history.WithMaxItems(a.cfg.History.MaxItems),
		history.WithStoreLogger(a.logger),
	)
}

func (a *app) history(action args.Action) error {
	store, err := a.openHistory()
	if err != nil {
		return err
	}

	switch action {
	case args.ActionHistoryList:
		t := a.table()
		t.AddHeader([]string{"ID", "WHEN", "MODEL", "QUESTION", "SUMMARY"})
		for _, item := range store.List() {
			t.AddField(shortID(item.ID))
			t.AddField(item.Timestamp.Local().Format(time.DateTime))
			t.AddField(item.Model)
			t.AddField(item.Question)
			t.AddField(item.Summary)
			t.EndRow()
		}
		return t.Render()
	case args.ActionHistoryShow:
		item, err := store.Get(a.args.ID)
		if err != nil {
			return err
		}
		return a.renderer.RenderResult(item.Result)
	case args.ActionHistoryDelete:
		return store.Delete(a.args.ID)
	case args.ActionHistoryClear:
		return store.Clear()
	}
	return errors.New("unknown history action")
}

func (a *app) models(ctx context.Context) error {
	version, err := a.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("backend unreachable: %w", err)
	}
	a.logger.Info("backend reachable", slog.String("version", version))

	models, err := a.client.ListModels(ctx)
	if err != nil {
		return err
	}
	t := a.table()
	t.AddHeader([]string{"NAME", "SIZE", "MODIFIED"})
	for _, m := range models {
		t.AddField(m.Name)
		t.AddField(strconv.FormatInt(m.Size, 10))
		modified := ""
		if !m.ModifiedAt.IsZero() {
			modified = m.ModifiedAt.Local().Format(time.DateTime)
		}
		t.AddField(modified)
		t.EndRow()
	}
	return t.Render()
}

func (a *app) clearCache() error {
	dir, err := a.cfg.CacheDir()
	if err != nil {
		return err
	}
	cache, err := history.OpenCache(dir, history.WithCacheLogger(a.logger))
	if err != nil {
		return err
	}
	return cache.Clear()
}

func (a *app) table() tableprinter.TablePrinter {
	return tableprinter.New(a.out, term.FromEnv().IsTerminalOutput() && !a.args.UsePlainText, tableWidth)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
