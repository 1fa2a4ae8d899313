// Package syncer ties the socket transport, the REST client and the local
// store together for one tenant. It owns the event handler registrations
// and the room membership for its lifetime: Start wires everything up,
// Close tears down exactly what Start created and nothing more, so the
// shared connections stay usable for the next mount.
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/deskstream/deskstream/internal/api"
	"github.com/deskstream/deskstream/internal/cache"
	"github.com/deskstream/deskstream/internal/event"
	"github.com/deskstream/deskstream/internal/metrics"
	"github.com/deskstream/deskstream/internal/model"
	"github.com/deskstream/deskstream/internal/store"
	"github.com/deskstream/deskstream/internal/transport"
)

// Config holds the per-tenant sync settings.
type Config struct {
	BusinessID        string
	NotificationLimit int
	FetchTimeout      time.Duration
	PersistInterval   time.Duration
}

// Syncer keeps one tenant's local projection in step with the backend.
type Syncer struct {
	cfg    Config
	store  *store.Store
	client *api.Client
	cache  *cache.Cache // optional warm-start snapshot store
	logger *slog.Logger

	notif    *transport.Conn
	presence *transport.Conn

	mu       sync.Mutex
	started  bool
	closed   bool
	fetching bool
	unsubs   []func()

	stopPersist chan struct{}
}

// New creates a syncer. The cache may be nil, in which case warm-start and
// shutdown persistence are skipped.
func New(cfg Config, st *store.Store, client *api.Client, c *cache.Cache, notif, presence *transport.Conn, logger *slog.Logger) *Syncer {
	if cfg.NotificationLimit <= 0 {
		cfg.NotificationLimit = 50
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	if cfg.PersistInterval <= 0 {
		cfg.PersistInterval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		cfg:         cfg,
		store:       st,
		client:      client,
		cache:       c,
		logger:      logger.With("component", "syncer", "business_id", cfg.BusinessID),
		notif:       notif,
		presence:    presence,
		stopPersist: make(chan struct{}),
	}
}

// Start warms the store from the snapshot cache, registers the event
// handlers, joins the tenant rooms and kicks off the initial fetch. Calling
// it twice is an error.
func (s *Syncer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("syncer already started")
	}
	s.started = true
	s.mu.Unlock()

	s.warmStart(ctx)
	s.registerHandlers()

	s.notif.Join(event.TypeJoinNotificationRoom, s.cfg.BusinessID)
	s.presence.Join(event.TypeJoinBusinessStatus, s.cfg.BusinessID)

	// Missed pushes during a disconnect are unrecoverable over the socket,
	// so every notification reconnect triggers a reconciling fetch.
	unsub := s.notif.OnConnect(func() {
		go s.fetchNotifications(context.Background())
	})
	s.mu.Lock()
	s.unsubs = append(s.unsubs, unsub)
	s.mu.Unlock()

	if s.cache != nil {
		go s.persistLoop(ctx)
	}

	s.fetchNotifications(ctx)
	return nil
}

// persistLoop snapshots the projection on an interval so a crash loses at
// most one interval of state. Close takes the final snapshot itself.
func (s *Syncer) persistLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PersistInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopPersist:
			return
		case <-ticker.C:
			if err := s.persist(context.Background()); err != nil {
				s.logger.Warn("failed to persist snapshot", "error", err)
			}
		}
	}
}

func (s *Syncer) persist(ctx context.Context) error {
	return s.cache.Save(ctx, &cache.Snapshot{
		BusinessID:    s.cfg.BusinessID,
		Notifications: s.store.Notifications(),
		Unread:        s.store.UnreadCount(),
	})
}

// warmStart populates the store from the last persisted snapshot so reads
// have something to show before the first fetch lands.
func (s *Syncer) warmStart(ctx context.Context) {
	if s.cache == nil {
		return
	}

	snap, err := s.cache.Load(ctx, s.cfg.BusinessID)
	if err != nil {
		if !errors.Is(err, cache.ErrNoSnapshot) {
			s.logger.Warn("failed to load cached snapshot", "error", err)
		}
		return
	}

	s.store.ReplaceNotifications(snap.Notifications, snap.Unread)
	s.logger.Info("warm start from cached snapshot",
		"notifications", len(snap.Notifications),
		"unread", snap.Unread,
		"saved_at", snap.SavedAt,
	)
}

func (s *Syncer) registerHandlers() {
	s.notif.On(event.TypeNewNotification, s.handle(func(v any) {
		n := v.(model.Notification)
		s.store.Prepend(n)
	}))
	s.notif.On(event.TypeUnreadCount, s.handle(func(v any) {
		c := v.(event.UnreadCount)
		s.store.SetUnread(c.Count)
	}))
	s.notif.On(event.TypeAllNotificationsRead, s.handle(func(any) {
		s.store.MarkAllRead()
	}))

	s.presence.On(event.TypeInitialAgentStatuses, s.handle(func(v any) {
		s.store.SetAgents(v.([]model.AgentStatus))
	}))
	s.presence.On(event.TypeAgentStatusUpdate, s.handle(func(v any) {
		d := v.(event.AgentStatusDelta)
		if !s.store.PatchAgent(d.AgentID, d.Status, d.ActiveChats, d.TotalChats) {
			s.logger.Debug("delta for unknown agent ignored", "agent_id", d.AgentID)
		}
	}))
	s.presence.On(event.TypeInitialQueueStatus, s.handle(func(v any) {
		s.store.SetQueue(v.(model.QueueSnapshot))
	}))
	s.presence.On(event.TypeQueueStatusUpdate, s.handle(func(v any) {
		s.store.SetQueue(v.(model.QueueSnapshot))
	}))
}

// handle wraps a reducer with decode, validation and drop accounting. A
// payload that fails validation never reaches the store.
func (s *Syncer) handle(reduce func(v any)) transport.Handler {
	return func(env event.Envelope) {
		metrics.IncEventReceived(string(env.Event))

		v, err := event.Decode(env)
		if err != nil {
			s.logger.Warn("dropping invalid event", "event", env.Event, "error", err)
			metrics.IncEventDropped(string(env.Event), "invalid")
			return
		}
		reduce(v)
	}
}

// fetchNotifications loads the authoritative list and counter over REST and
// reconciles the local projection with them. Only one fetch runs at a time:
// a call that overlaps an in-flight fetch returns immediately. Pushes that
// arrive while the fetch is in flight survive the reconcile.
func (s *Syncer) fetchNotifications(ctx context.Context) {
	s.mu.Lock()
	if s.fetching {
		s.mu.Unlock()
		return
	}
	s.fetching = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.fetching = false
		s.mu.Unlock()
	}()

	gen := s.store.Generation()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()

	s.store.SetLoading(true)
	defer s.store.SetLoading(false)

	metrics.IncBackendRequest("fetch_notifications")
	list, err := s.client.Notifications(ctx, s.cfg.BusinessID, s.cfg.NotificationLimit)
	if err != nil {
		metrics.IncBackendFailure("fetch_notifications")
		s.logger.Warn("failed to fetch notifications", "error", err)
		return
	}

	metrics.IncBackendRequest("fetch_unread_count")
	unread, err := s.client.UnreadCount(ctx, s.cfg.BusinessID)
	if err != nil {
		metrics.IncBackendFailure("fetch_unread_count")
		// Fall back to counting the fetched page; the next unread_count
		// event corrects any drift.
		unread = 0
		for i := range list {
			if !list[i].Read {
				unread++
			}
		}
		s.logger.Warn("failed to fetch unread count, derived locally", "error", err, "unread", unread)
	}

	s.store.ReconcileNotifications(gen, list, unread)
	s.logger.Info("notifications fetched", "count", len(list), "unread", unread)
}

// MarkAsRead marks one notification read: backend first, then the local
// store, then a socket mirror so sibling sessions converge. A 404 from the
// backend means the notification is already gone and is treated as success.
func (s *Syncer) MarkAsRead(ctx context.Context, id string) error {
	metrics.IncBackendRequest("mark_read")
	if err := s.client.MarkRead(ctx, id); err != nil && !errors.Is(err, api.ErrNotFound) {
		metrics.IncBackendFailure("mark_read")
		return err
	}

	s.store.MarkRead(id)

	if err := s.notif.Emit(event.TypeMarkNotificationRead, event.MarkReadRequest{
		NotificationID: id,
		BusinessID:     s.cfg.BusinessID,
	}); err != nil {
		s.logger.Warn("failed to mirror mark-read", "notification_id", id, "error", err)
	}
	return nil
}

// MarkAllAsRead marks every notification read, backend first.
func (s *Syncer) MarkAllAsRead(ctx context.Context) error {
	metrics.IncBackendRequest("mark_all_read")
	if err := s.client.MarkAllRead(ctx, s.cfg.BusinessID); err != nil {
		metrics.IncBackendFailure("mark_all_read")
		return err
	}

	s.store.MarkAllRead()

	if err := s.notif.Emit(event.TypeMarkAllNotificationsRead, event.MarkAllReadRequest{
		BusinessID: s.cfg.BusinessID,
	}); err != nil {
		s.logger.Warn("failed to mirror mark-all-read", "error", err)
	}
	return nil
}

// DeleteNotification removes one notification, backend first. A 404 is
// treated as success so retries and races stay idempotent.
func (s *Syncer) DeleteNotification(ctx context.Context, id string) error {
	metrics.IncBackendRequest("delete_notification")
	if err := s.client.Delete(ctx, id); err != nil && !errors.Is(err, api.ErrNotFound) {
		metrics.IncBackendFailure("delete_notification")
		return err
	}

	s.store.Delete(id)
	return nil
}

// Refresh re-runs the reconciling fetch on demand.
func (s *Syncer) Refresh(ctx context.Context) {
	s.fetchNotifications(ctx)
}

// Close deregisters every handler this syncer registered, leaves the
// notification room and persists the final snapshot. The shared connections
// are left open for other consumers; closing twice is a no-op.
func (s *Syncer) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	close(s.stopPersist)

	s.notif.Off(event.TypeNewNotification)
	s.notif.Off(event.TypeUnreadCount)
	s.notif.Off(event.TypeAllNotificationsRead)

	s.presence.Off(event.TypeInitialAgentStatuses)
	s.presence.Off(event.TypeAgentStatusUpdate)
	s.presence.Off(event.TypeInitialQueueStatus)
	s.presence.Off(event.TypeQueueStatusUpdate)

	for _, unsub := range unsubs {
		unsub()
	}

	s.notif.Leave(event.TypeJoinNotificationRoom, event.TypeLeaveNotificationRoom, s.cfg.BusinessID)
	s.presence.Leave(event.TypeJoinBusinessStatus, "", s.cfg.BusinessID)

	if s.cache != nil {
		if err := s.persist(ctx); err != nil {
			s.logger.Warn("failed to persist snapshot", "error", err)
		}
	}

	s.logger.Info("syncer closed")
	return nil
}
