package worker

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andrewhowdencom/drip/internal/engine"
	"github.com/andrewhowdencom/drip/internal/model"
)

// Sweeper runs one pass over due subscriptions.
type Sweeper interface {
	RunSweep(ctx context.Context, now time.Time) (engine.SweepReport, error)
}

// TemplatePoller reports whether the template sources changed and returns
// their templates.
type TemplatePoller interface {
	Poll(urls []string) (bool, error)
	Templates(urls []string) []model.Template
}

// TemplateCatalog receives refreshed templates.
type TemplateCatalog interface {
	Replace([]model.Template)
}

// Option configures a Worker.
type Option func(*Worker)

// WithTemplates refreshes catalog from the sources at urls every interval.
func WithTemplates(poller TemplatePoller, catalog TemplateCatalog, urls []string, interval time.Duration) Option {
	return func(w *Worker) {
		w.poller = poller
		w.catalog = catalog
		w.urls = urls
		w.refreshInterval = interval
	}
}

// WithClock sets the function used to read the current time.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		w.now = now
	}
}

// Worker is responsible for running sweeps on a schedule and keeping the
// template catalog fresh.
type Worker struct {
	sweeper         Sweeper
	trigger         Trigger
	poller          TemplatePoller
	catalog         TemplateCatalog
	urls            []string
	refreshInterval time.Duration
	now             func() time.Time
}

// New creates a new worker.
func New(sweeper Sweeper, trigger Trigger, opts ...Option) *Worker {
	w := &Worker{
		sweeper:         sweeper,
		trigger:         trigger,
		refreshInterval: time.Hour,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// RunOnce refreshes the templates and performs a single sweep.
func (w *Worker) RunOnce(ctx context.Context) (engine.SweepReport, error) {
	if err := w.RefreshTemplates(); err != nil {
		slog.Error("error refreshing templates", "error", err)
	}
	return w.sweeper.RunSweep(ctx, w.now())
}

// Run starts the worker and blocks until ctx is done. A SIGHUP refreshes the
// templates immediately.
func (w *Worker) Run(ctx context.Context) error {
	slog.Info("starting worker")

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGHUP)
	defer signal.Stop(signals)

	var refresh <-chan time.Time
	if w.poller != nil {
		refreshTicker := time.NewTicker(w.refreshInterval)
		defer refreshTicker.Stop()
		refresh = refreshTicker.C

		// Run a poll on startup
		if err := w.RefreshTemplates(); err != nil {
			slog.Error("error running initial template refresh", "error", err)
		}
	}

	sweep := time.NewTimer(w.untilNext())
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping worker")
			return nil
		case <-sweep.C:
			if _, err := w.sweeper.RunSweep(ctx, w.now()); err != nil {
				slog.Error("error running sweep", "error", err)
			}
			sweep.Reset(w.untilNext())
		case <-refresh:
			if err := w.RefreshTemplates(); err != nil {
				slog.Error("error running template refresh", "error", err)
			}
		case <-signals:
			slog.Info("SIGHUP received, refreshing templates")
			if err := w.RefreshTemplates(); err != nil {
				slog.Error("error running template refresh", "error", err)
			}
		}
	}
}

func (w *Worker) untilNext() time.Duration {
	now := w.now()
	d := w.trigger.Next(now).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// RefreshTemplates polls the template sources and swaps the catalog contents
// when any of them changed.
func (w *Worker) RefreshTemplates() error {
	if w.poller == nil {
		return nil
	}
	slog.Debug("refreshing templates", "urls", w.urls)

	changed, err := w.poller.Poll(w.urls)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	templates := w.poller.Templates(w.urls)
	w.catalog.Replace(templates)
	slog.Info("template catalog refreshed", "templates", len(templates))
	return nil
}
