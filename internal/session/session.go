// Package session wires the notification client together and owns its
// lifecycle. It is the single source of truth for whether the user is
// logged in.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/schoolhub/schoolhub/internal/bridge"
	"github.com/schoolhub/schoolhub/internal/config"
	"github.com/schoolhub/schoolhub/internal/core"
	"github.com/schoolhub/schoolhub/internal/effects"
	"github.com/schoolhub/schoolhub/internal/fallback"
	"github.com/schoolhub/schoolhub/internal/logging"
	"github.com/schoolhub/schoolhub/internal/notifications"
	"github.com/schoolhub/schoolhub/internal/realtime"
	"github.com/schoolhub/schoolhub/internal/scheduler"
	"github.com/schoolhub/schoolhub/internal/store"
)

// Deps are the host-provided collaborators. All are optional.
type Deps struct {
	Toaster     effects.Toaster
	Sound       effects.Sound
	Opener      effects.Opener
	Preferences effects.Preferences
	// DeviceID is sent with the auth message; see realtime.Config.
	DeviceID    string
	Dialer      *websocket.Dialer
	HTTPClient  *http.Client
	Logger      *logging.Logger
	Now         func() time.Time
}

// Session holds one user's notification client.
type Session struct {
	cfg    *config.Config
	logger *logging.Logger

	sched     *scheduler.Scheduler
	store     *store.Store
	effects   *effects.Handler
	transport *realtime.Client
	rest      *fallback.RESTClient
	cache     *fallback.QueryCache
	poller    *fallback.Poller
	actions   *fallback.Actions
	prefs     effects.Preferences
	opener    effects.Opener

	mu            sync.RWMutex
	token         string
	claims        Claims
	authenticated bool
	initialized   bool
	disposed      bool

	bg       sync.WaitGroup
	bgCtx    context.Context
	bgCancel context.CancelFunc
}

// New builds every component. Nothing runs until Init.
func New(cfg *config.Config, deps Deps) (*Session, error) {
	if cfg == nil {
		return nil, errors.New("session: nil config")
	}
	wsURL, err := cfg.WebSocketURL()
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	logger := logging.OrDefault(deps.Logger)
	normalizer := notifications.Normalizer{Now: deps.Now}

	s := &Session{cfg: cfg, logger: logger.WithField("component", "session"), prefs: deps.Preferences, opener: deps.Opener}
	s.bgCtx, s.bgCancel = context.WithCancel(context.Background())

	s.sched = scheduler.New(scheduler.Config{Logger: logger})
	s.store = store.New(store.Options{
		Reducer:         store.Reducer{Now: deps.Now},
		Scheduler:       s.sched,
		CleanupInterval: cfg.Store.CleanupInterval,
		Logger:          logger,
	})
	s.effects = effects.New(effects.Options{
		Dispatcher:  s.store,
		Toaster:     deps.Toaster,
		Sound:       deps.Sound,
		Opener:      deps.Opener,
		Preferences: deps.Preferences,
		Logger:      logger,
	})
	s.store.SetEffect(s.effects)

	s.rest = fallback.NewRESTClient(fallback.ClientConfig{
		BaseURL:       cfg.API.BaseURL,
		Token:         s.Token,
		HTTPClient:    deps.HTTPClient,
		RetryAttempts: int(cfg.Fallback.RetryAttempts),
		Logger:        logger,
	})
	s.cache = fallback.NewQueryCache(cfg.Fallback.PollInterval / 2)
	s.cache.Register(fallback.KeyNotifications, fallback.NotificationsQuery(s.rest, s.store, normalizer))

	adapter := &bridge.Adapter{
		Dispatcher: s.store,
		OnData:     s.onData,
		Normalizer: normalizer,
		Logger:     logger,
	}
	s.transport = realtime.NewClient(realtime.Config{
		URL:                wsURL,
		Token:              s.Token,
		OnMessage:          adapter.HandleMessage,
		OnStatus:           adapter.HandleStatus,
		IsAppAuthenticated: s.IsAuthenticated,
		DeviceID:           deps.DeviceID,
		Backoff: realtime.BackoffConfig{
			Initial:     cfg.Realtime.ReconnectInitial,
			Max:         cfg.Realtime.ReconnectMax,
			Multiplier:  2,
			MaxAttempts: cfg.Realtime.MaxAttempts,
		},
		SendPolicy:        realtime.SendPolicy(cfg.Realtime.SendPolicy),
		QueueLimit:        cfg.Realtime.QueueLimit,
		HeartbeatInterval: cfg.Realtime.Heartbeat,
		Dialer:            deps.Dialer,
		Logger:            logger,
	})

	s.poller = fallback.NewPoller(fallback.PollerConfig{
		Scheduler:    s.sched,
		Cache:        s.cache,
		Connectivity: s.transport,
		Interval:     cfg.Fallback.PollInterval,
		Logger:       logger,
	})
	s.actions = fallback.NewActions(fallback.ActionsConfig{
		Transport:  s.transport,
		REST:       s.rest,
		Cache:      s.cache,
		Dispatcher: s.store,
		Toaster:    deps.Toaster,
		Logger:     logger,
	})

	return s, nil
}

// Init loads preferences and starts the expiry sweep and polling.
func (s *Session) Init(ctx context.Context) error {
	s.mu.Lock()
	if s.initialized || s.disposed {
		s.mu.Unlock()
		return nil
	}
	s.initialized = true
	s.mu.Unlock()

	if s.prefs != nil {
		if err := s.effects.Load(ctx); err != nil {
			s.logger.Warn("Loading sound preference: %v", err)
		}
	} else if err := s.effects.SetSoundEnabled(ctx, s.cfg.Sound.Enabled); err != nil {
		return err
	}

	if err := s.store.Init(); err != nil {
		return fmt.Errorf("session: store: %w", err)
	}
	if err := s.poller.Start(); err != nil {
		return fmt.Errorf("session: poller: %w", err)
	}
	if err := s.sched.Start(); err != nil {
		return fmt.Errorf("session: scheduler: %w", err)
	}
	return nil
}

// Login records the bearer token, subscribes to the user's audiences and
// connects. Logging in again with a different token drops the current
// connection first; the same token only makes sure it is connected.
func (s *Session) Login(token string) error {
	claims, err := ParseClaims(token)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return errors.New("session: disposed")
	}
	if s.authenticated && s.token == token {
		s.mu.Unlock()
		s.transport.Connect()
		return nil
	}
	previous := s.claims
	wasIn := s.authenticated
	s.token = token
	s.claims = claims
	s.authenticated = true
	s.mu.Unlock()

	if wasIn {
		// The open socket is bound to the old token and its server-side
		// subscriptions, so it has to go.
		s.transport.Disconnect()
		if previous.UserID != claims.UserID {
			s.store.Dispatch(store.LoadNotifications{})
		}
	}

	s.transport.ClearSubscriptions()
	s.transport.Subscribe(realtime.SubscribeUser, claims.UserID, nil)
	if claims.BranchID != "" {
		s.transport.Subscribe(realtime.SubscribeBranch, claims.BranchID, nil)
	}
	if claims.Role != "" {
		s.transport.Subscribe(realtime.SubscribeRole, claims.Role, nil)
	}

	s.logger.Info("Logged in as %s", claims.UserID)
	s.transport.Connect()
	s.invalidate(fallback.KeyNotifications)
	return nil
}

// Refresh refetches notifications over REST.
func (s *Session) Refresh(ctx context.Context) error {
	return s.cache.Invalidate(ctx, fallback.KeyNotifications)
}

// Logout forgets the token, disconnects and empties the store.
func (s *Session) Logout() {
	s.mu.Lock()
	wasIn := s.authenticated
	s.token = ""
	s.claims = Claims{}
	s.authenticated = false
	s.mu.Unlock()

	s.transport.Disconnect()
	s.transport.ClearSubscriptions()
	s.store.Dispatch(store.LoadNotifications{})
	if wasIn {
		s.logger.Info("Logged out")
	}
}

// Dispose stops everything. The session cannot be reused.
func (s *Session) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	s.authenticated = false
	s.mu.Unlock()

	s.transport.Close()
	s.bgCancel()
	s.bg.Wait()
	s.poller.Stop()
	s.effects.Close()
	s.store.Dispose()
	s.sched.Stop()
}

// MarkAsRead marks id read over the push channel, or over REST when it is
// down.
func (s *Session) MarkAsRead(ctx context.Context, id string) error {
	return s.actions.MarkAsRead(ctx, id)
}

// MarkAllAsRead marks everything read over the push channel, or over REST.
func (s *Session) MarkAllAsRead(ctx context.Context) error {
	return s.actions.MarkAllAsRead(ctx)
}

// Open records the click, marks the notification read and opens its link.
func (s *Session) Open(ctx context.Context, id string) error {
	n, ok := s.store.State().Notification(id)
	if !ok {
		return fmt.Errorf("%w: notification %s", core.ErrRecordNotFound, id)
	}
	s.store.Dispatch(store.MarkClicked{ID: id})
	if !n.Read {
		if err := s.actions.MarkAsRead(ctx, id); err != nil {
			return err
		}
	}
	if n.ActionURL == "" || s.opener == nil {
		return nil
	}
	return s.opener.Open(n.ActionURL)
}

// Remove drops a notification from the local store only.
func (s *Session) Remove(id string) {
	s.store.Dispatch(store.RemoveNotification{ID: id})
}

// SetSoundEnabled changes and persists the sound preference.
func (s *Session) SetSoundEnabled(ctx context.Context, enabled bool) error {
	return s.effects.SetSoundEnabled(ctx, enabled)
}

// IsAuthenticated reports app-level login state.
func (s *Session) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

// Token returns the current bearer token, or "".
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Claims returns the logged-in user's claims.
func (s *Session) Claims() Claims {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.claims
}

// Store returns the notification store
func (s *Session) Store() *store.Store { return s.store }

// Actions returns the dual-path mutations
func (s *Session) Actions() *fallback.Actions { return s.actions }

// Transport returns the push client
func (s *Session) Transport() *realtime.Client { return s.transport }

// Effects returns the side-effect handler
func (s *Session) Effects() *effects.Handler { return s.effects }

// onData invalidates the query a data change affects. It runs off the
// transport's event goroutine.
func (s *Session) onData(change bridge.DataChange) {
	key := change.Table
	if key == "" {
		return
	}

	s.mu.RLock()
	disposed := s.disposed
	s.mu.RUnlock()
	if disposed {
		return
	}

	found := false
	for _, k := range s.cache.Keys() {
		if k == key {
			found = true
			break
		}
	}
	if !found {
		s.logger.Debug("No query for %s change on %s", change.Kind, key)
		return
	}

	s.invalidate(key)
}

// invalidate refetches key in the background.
func (s *Session) invalidate(key string) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		if err := s.cache.Invalidate(s.bgCtx, key); err != nil {
			s.logger.Debug("Invalidate %s: %v", key, err)
		}
	}()
}
