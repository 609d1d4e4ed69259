// Package notify pushes side effects of committed mutations to users.
//
// Nothing here can fail a request. Dispatch reports errors to its caller,
// but Notify and SendMail run detached from the request, log failures and
// move on.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mmynk/blueledger/internal/mail"
	"github.com/mmynk/blueledger/internal/realtime"
)

// DefaultTimeout bounds a detached publish or email send.
const DefaultTimeout = 5 * time.Second

// DispatchError is a failed publish. It is logged and counted, never
// turned into a response.
type DispatchError struct {
	Channel string
	Event   string
	Err     error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s to %s: %v", e.Event, e.Channel, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// Recorder counts dispatch outcomes. *metrics.Metrics implements it.
type Recorder interface {
	RecordDispatch(event string, err error)
	RecordEmail(err error)
}

type nopRecorder struct{}

func (nopRecorder) RecordDispatch(string, error) {}
func (nopRecorder) RecordEmail(error)            {}

// Dispatcher publishes realtime events and sends email.
type Dispatcher struct {
	publisher realtime.Publisher
	mailer    mail.Mailer
	logger    *slog.Logger
	recorder  Recorder
	timeout   time.Duration
	wg        sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithTimeout(d time.Duration) Option {
	return func(dp *Dispatcher) {
		if d > 0 {
			dp.timeout = d
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(dp *Dispatcher) {
		if r != nil {
			dp.recorder = r
		}
	}
}

func NewDispatcher(publisher realtime.Publisher, mailer mail.Mailer, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		publisher: publisher,
		mailer:    mailer,
		logger:    logger,
		recorder:  nopRecorder{},
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch publishes one event to one channel and waits for the result.
func (d *Dispatcher) Dispatch(ctx context.Context, channel, event string, payload any) error {
	err := d.publisher.Publish(ctx, channel, event, payload)
	d.recorder.RecordDispatch(event, err)
	if err != nil {
		return &DispatchError{Channel: channel, Event: event, Err: err}
	}
	return nil
}

// Notify publishes in the background. The publish outlives ctx's
// cancellation but not the dispatcher timeout.
func (d *Dispatcher) Notify(ctx context.Context, channel, event string, payload any) {
	d.detach(ctx, func(ctx context.Context) {
		if err := d.Dispatch(ctx, channel, event, payload); err != nil {
			d.logger.Warn("notification dispatch failed", "channel", channel, "event", event, "error", err)
		}
	})
}

// SendMail sends msg in the background.
func (d *Dispatcher) SendMail(ctx context.Context, msg mail.Message) {
	d.detach(ctx, func(ctx context.Context) {
		err := d.mailer.Send(ctx, msg)
		d.recorder.RecordEmail(err)
		if err != nil {
			d.logger.Warn("email send failed", "to", msg.To, "subject", msg.Subject, "error", err)
		}
	})
}

// Wait blocks until every background task has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) detach(parent context.Context, fn func(ctx context.Context)) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("panic in background dispatch", "panic", r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), d.timeout)
		defer cancel()
		fn(ctx)
	}()
}
