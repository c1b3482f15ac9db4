package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/herald-dispatch/herald/internal/adapters"
	"github.com/herald-dispatch/herald/internal/models"
	"github.com/herald-dispatch/herald/internal/render"
	"github.com/herald-dispatch/herald/pkg/logger"
	"github.com/herald-dispatch/herald/pkg/metrics"
)

const (
	defaultSchedule = "@every 1m"
	defaultPageSize = 100
)

// Backend is the slice of the notification backend the dispatcher drives.
type Backend interface {
	ListPending(ctx context.Context, page, pageSize int) ([]models.Notification, error)
	MarkFailed(ctx context.Context, notificationID string) (*models.Notification, error)
	RecordSendAttempt(ctx context.Context, notificationID string, contextUsed map[string]any, adapterID string) error
}

// Dispatcher sweeps the pending queue and hands each notification to the
// adapter for its channel. Per-notification failures are logged and counted
// but never abort a sweep; the status machine keeps concurrent dispatchers
// from double-sending, so running several dispatchers is safe.
type Dispatcher struct {
	backend  Backend
	registry *adapters.Registry
	contexts *ContextRegistry
	cron     *cron.Cron
	schedule string
	pageSize int
	log      *zap.Logger
}

// Option customises the Dispatcher.
type Option func(*Dispatcher)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(d *Dispatcher) {
		if c != nil {
			d.cron = c
		}
	}
}

// WithSchedule overrides the cron specification for pending sweeps.
func WithSchedule(spec string) Option {
	return func(d *Dispatcher) {
		if spec != "" {
			d.schedule = spec
		}
	}
}

// WithPageSize overrides how many pending rows are fetched per query.
func WithPageSize(size int) Option {
	return func(d *Dispatcher) {
		if size > 0 {
			d.pageSize = size
		}
	}
}

// New constructs a Dispatcher.
func New(backend Backend, registry *adapters.Registry, contexts *ContextRegistry, opts ...Option) (*Dispatcher, error) {
	if backend == nil {
		return nil, errors.New("dispatcher: backend is required")
	}
	if registry == nil {
		return nil, errors.New("dispatcher: adapter registry is required")
	}
	if contexts == nil {
		contexts = NewContextRegistry()
	}

	dispatcher := &Dispatcher{
		backend:  backend,
		registry: registry,
		contexts: contexts,
		schedule: defaultSchedule,
		pageSize: defaultPageSize,
		log:      logger.WithModule("dispatch"),
	}
	for _, opt := range opts {
		opt(dispatcher)
	}
	if dispatcher.cron == nil {
		dispatcher.cron = cron.New()
	}
	return dispatcher, nil
}

// Start schedules periodic sweeps and begins running them.
func (d *Dispatcher) Start() error {
	_, err := d.cron.AddFunc(d.schedule, func() {
		if err := d.Sweep(context.Background()); err != nil {
			d.log.Error("sweep finished with errors", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("dispatcher: schedule sweep: %w", err)
	}

	d.cron.Start()
	d.log.Info("dispatcher started", zap.String("schedule", d.schedule))
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (d *Dispatcher) Stop() {
	<-d.cron.Stop().Done()
	d.log.Info("dispatcher stopped")
}

// Sweep processes every currently-eligible pending notification once.
// Successful and failed sends both leave PENDING_SEND, so the sweep refetches
// the current page until it stops making progress there. Rows it could not
// act on at all (unknown adapter, resolution failure) stay pending and
// accumulate at the head of the FIFO ordering; once a whole page is such
// rows, the sweep moves on to the next page so the rows behind them still
// dispatch. Stuck rows get retried on the next sweep.
func (d *Dispatcher) Sweep(ctx context.Context) error {
	metrics.DispatchSweeps.Inc()

	seen := make(map[string]struct{})
	defer func() {
		metrics.PendingBacklog.Set(float64(len(seen)))
	}()

	var errs error
	for page := 1; ; {
		rows, err := d.backend.ListPending(ctx, page, d.pageSize)
		if err != nil {
			return multierr.Append(errs, fmt.Errorf("dispatcher: list pending: %w", err))
		}
		if len(rows) == 0 {
			return errs
		}

		progress := false
		for i := range rows {
			notification := rows[i]
			if _, done := seen[notification.ID]; done {
				continue
			}
			seen[notification.ID] = struct{}{}
			progress = true

			if err := d.process(ctx, &notification); err != nil {
				errs = multierr.Append(errs, err)
			}
		}

		if !progress {
			page++
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, notification *models.Notification) error {
	log := d.log.With(
		zap.String("notification_id", notification.ID),
		zap.String("notification_type", string(notification.NotificationType)))

	adapter, err := d.registry.Get(notification.NotificationType)
	if err != nil {
		log.Error("no adapter for notification", zap.Error(err))
		metrics.NotificationsDispatched.WithLabelValues(string(notification.NotificationType), "failed").Inc()
		return err
	}

	renderCtx, err := d.buildContext(notification)
	if err != nil {
		// A row whose context can never be built is unsendable; fail it so it
		// does not clog the pending queue forever.
		log.Error("context build failed", zap.Error(err))
		if _, markErr := d.backend.MarkFailed(ctx, notification.ID); markErr != nil {
			err = multierr.Append(err, markErr)
		}
		metrics.NotificationsDispatched.WithLabelValues(string(notification.NotificationType), "failed").Inc()
		return err
	}

	if err := d.backend.RecordSendAttempt(ctx, notification.ID, renderCtx, adapter.ID()); err != nil {
		log.Error("record send attempt failed", zap.Error(err))
		return err
	}

	if err := adapter.Send(ctx, notification, renderCtx, nil); err != nil {
		log.Error("send failed", zap.Error(err))
		metrics.NotificationsDispatched.WithLabelValues(string(notification.NotificationType), "failed").Inc()
		return err
	}

	log.Info("notification sent")
	metrics.NotificationsDispatched.WithLabelValues(string(notification.NotificationType), "sent").Inc()
	return nil
}

func (d *Dispatcher) buildContext(notification *models.Notification) (render.Context, error) {
	kwargs := map[string]any{}
	if len(notification.ContextKwargs) > 0 {
		if err := json.Unmarshal(notification.ContextKwargs, &kwargs); err != nil {
			return nil, fmt.Errorf("dispatch: decode context kwargs: %w", err)
		}
	}
	return d.contexts.Build(notification.ContextName, kwargs)
}
