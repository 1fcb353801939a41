package fallback

import (
	"context"
	"errors"

	"github.com/schoolhub/schoolhub/internal/effects"
	"github.com/schoolhub/schoolhub/internal/logging"
	"github.com/schoolhub/schoolhub/internal/realtime"
	"github.com/schoolhub/schoolhub/internal/store"
)

// GenericFailure is shown when the server gave no usable message.
const GenericFailure = "Failed to update notifications"

// Transport is the part of the push client the actions need.
type Transport interface {
	IsAuthenticated() bool
	Send(realtime.Message) error
}

// Mutator is the write side of the notifications API.
type Mutator interface {
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
}

// ActionsConfig wires Actions.
type ActionsConfig struct {
	Transport  Transport
	REST       Mutator
	Cache      *QueryCache
	Dispatcher store.Dispatcher
	Toaster    effects.Toaster
	Logger     *logging.Logger
}

// Actions are the user-facing mutations. Each goes over the push channel
// when it is authenticated and over REST otherwise.
type Actions struct {
	transport  Transport
	rest       Mutator
	cache      *QueryCache
	dispatcher store.Dispatcher
	toaster    effects.Toaster
	logger     *logging.Logger
}

// NewActions creates the dual-path mutations.
func NewActions(cfg ActionsConfig) *Actions {
	return &Actions{
		transport:  cfg.Transport,
		rest:       cfg.REST,
		cache:      cfg.Cache,
		dispatcher: cfg.Dispatcher,
		toaster:    cfg.Toaster,
		logger:     logging.OrDefault(cfg.Logger).WithField("component", "actions"),
	}
}

// MarkAsRead marks one notification read.
func (a *Actions) MarkAsRead(ctx context.Context, id string) error {
	msg, err := realtime.NewMessage(realtime.TypeMarkRead, realtime.MarkReadPayload{NotificationID: id})
	if err == nil && a.sendRealtime(msg) {
		a.dispatcher.Dispatch(store.MarkRead{ID: id})
		return nil
	}
	return a.viaREST(ctx, func(ctx context.Context) error { return a.rest.MarkRead(ctx, id) })
}

// MarkAllAsRead marks every notification read.
func (a *Actions) MarkAllAsRead(ctx context.Context) error {
	msg, err := realtime.NewMessage(realtime.TypeMarkAllRead, nil)
	if err == nil && a.sendRealtime(msg) {
		a.dispatcher.Dispatch(store.MarkAllRead{})
		return nil
	}
	return a.viaREST(ctx, a.rest.MarkAllRead)
}

func (a *Actions) sendRealtime(msg realtime.Message) bool {
	if a.transport == nil || !a.transport.IsAuthenticated() {
		return false
	}
	if err := a.transport.Send(msg); err != nil {
		a.logger.Debug("Realtime %s failed, using REST: %v", msg.Type, err)
		return false
	}
	return true
}

func (a *Actions) viaREST(ctx context.Context, call func(context.Context) error) error {
	if err := call(ctx); err != nil {
		a.fail(err)
		return err
	}
	if a.cache == nil {
		return nil
	}
	if err := a.cache.Invalidate(ctx, KeyNotifications); err != nil {
		a.logger.Warn("Refetch after update failed: %v", err)
	}
	return nil
}

func (a *Actions) fail(err error) {
	a.logger.Warn("Notification update failed: %v", err)
	if a.toaster == nil {
		return
	}
	msg := GenericFailure
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		msg = apiErr.Message
	}
	a.toaster.Show(effects.Toast{
		Title:    "Update failed",
		Message:  msg,
		Severity: effects.SeverityError,
	})
}
