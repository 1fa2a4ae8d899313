package syncer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/deskstream/deskstream/internal/api"
	"github.com/deskstream/deskstream/internal/cache"
	"github.com/deskstream/deskstream/internal/event"
	"github.com/deskstream/deskstream/internal/model"
	"github.com/deskstream/deskstream/internal/store"
	"github.com/deskstream/deskstream/internal/transport"
)

var upgrader = websocket.Upgrader{}

// wsServer is a fake socket endpoint that records inbound envelopes and can
// push events to the connected client.
type wsServer struct {
	srv      *httptest.Server
	received chan event.Envelope

	mu   sync.Mutex
	conn *websocket.Conn
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()

	s := &wsServer{received: make(chan event.Envelope, 32)}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		s.mu.Lock()
		s.conn = ws
		s.mu.Unlock()

		for {
			var env event.Envelope
			if err := ws.ReadJSON(&env); err != nil {
				return
			}
			s.received <- env
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *wsServer) push(t *testing.T, typ event.Type, payload any) {
	t.Helper()

	env, err := event.NewEnvelope(typ, payload)
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		t.Fatal("push before client connected")
	}
	if err := conn.WriteJSON(env); err != nil {
		t.Fatalf("push %s: %v", typ, err)
	}
}

func (s *wsServer) expect(t *testing.T, typ event.Type) event.Envelope {
	t.Helper()

	select {
	case env := <-s.received:
		if env.Event != typ {
			t.Fatalf("received %s, want %s", env.Event, typ)
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", typ)
		return event.Envelope{}
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

type fixture struct {
	store    *store.Store
	syncer   *Syncer
	notifWS  *wsServer
	presWS   *wsServer
	notif    *transport.Conn
	presence *transport.Conn
	backend  *httptest.Server

	mu        sync.Mutex
	markReads []string

	// When set before Start, the list endpoint signals fetchStarted and then
	// blocks until fetchGate is closed.
	fetchGate    chan struct{}
	fetchStarted chan struct{}
}

func newFixture(t *testing.T, snapCache *cache.Cache) *fixture {
	t.Helper()

	f := &fixture{
		store:   store.New(time.Minute),
		notifWS: newWSServer(t),
		presWS:  newWSServer(t),
	}

	f.backend = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/notifications":
			f.mu.Lock()
			gate, started := f.fetchGate, f.fetchStarted
			f.mu.Unlock()
			if started != nil {
				select {
				case started <- struct{}{}:
				default:
				}
			}
			if gate != nil {
				<-gate
			}
			json.NewEncoder(w).Encode([]model.Notification{
				{ID: "n-1", Type: model.NotificationCaseCreated},
				{ID: "n-2", Type: model.NotificationRatingReceived, Read: true},
			})
		case r.Method == http.MethodGet && r.URL.Path == "/notifications/unread-count":
			json.NewEncoder(w).Encode(api.UnreadCountResponse{Count: 1})
		case r.Method == http.MethodPut && strings.HasSuffix(r.URL.Path, "/read"):
			id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/notifications/"), "/read")
			f.mu.Lock()
			f.markReads = append(f.markReads, id)
			f.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodPut && r.URL.Path == "/notifications/read-all":
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(f.backend.Close)

	dialOpts := func(url, concern string) transport.Options {
		return transport.Options{
			URL:          url,
			Concern:      concern,
			ReconnectMin: 10 * time.Millisecond,
			ReconnectMax: 50 * time.Millisecond,
		}
	}
	f.notif = transport.Dial(dialOpts(f.notifWS.url(), "notifications"))
	t.Cleanup(f.notif.Close)
	f.presence = transport.Dial(dialOpts(f.presWS.url(), "presence"))
	t.Cleanup(f.presence.Close)

	client := api.NewClient(f.backend.URL, "", 5*time.Second)

	f.syncer = New(Config{
		BusinessID:        "biz-1",
		NotificationLimit: 50,
		FetchTimeout:      5 * time.Second,
	}, f.store, client, snapCache, f.notif, f.presence, nil)

	return f
}

func TestStartJoinsAndFetches(t *testing.T) {
	f := newFixture(t, nil)

	if err := f.syncer.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer f.syncer.Close(context.Background())

	env := f.notifWS.expect(t, event.TypeJoinNotificationRoom)
	var req event.RoomRequest
	json.Unmarshal(env.Data, &req)
	if req.BusinessID != "biz-1" {
		t.Errorf("join businessId = %v, want biz-1", req.BusinessID)
	}

	f.presWS.expect(t, event.TypeJoinBusinessStatus)

	waitFor(t, func() bool {
		return len(f.store.Notifications()) == 2 && f.store.UnreadCount() == 1
	}, "store never reflected the initial fetch")

	waitFor(t, func() bool {
		return !f.store.Loading()
	}, "loading flag never cleared after the fetch")
}

func TestPushEventsReachStore(t *testing.T) {
	f := newFixture(t, nil)

	if err := f.syncer.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer f.syncer.Close(context.Background())

	f.notifWS.expect(t, event.TypeJoinNotificationRoom)
	f.presWS.expect(t, event.TypeJoinBusinessStatus)

	waitFor(t, func() bool {
		return len(f.store.Notifications()) == 2
	}, "initial fetch never landed")

	f.notifWS.push(t, event.TypeNewNotification, model.Notification{
		ID:   "n-3",
		Type: model.NotificationCaseCreated,
	})
	waitFor(t, func() bool {
		list := f.store.Notifications()
		return len(list) == 3 && list[0].ID == "n-3"
	}, "pushed notification never prepended")

	f.notifWS.push(t, event.TypeUnreadCount, event.UnreadCount{Count: 5})
	waitFor(t, func() bool {
		return f.store.UnreadCount() == 5
	}, "unread count correction never applied")

	f.presWS.push(t, event.TypeInitialAgentStatuses, []model.AgentStatus{
		{AgentID: "a-1", Status: model.AgentAvailable, ActiveChats: 1},
	})
	waitFor(t, func() bool {
		return len(f.store.Agents()) == 1
	}, "agent snapshot never applied")

	active := 4
	f.presWS.push(t, event.TypeAgentStatusUpdate, event.AgentStatusDelta{
		AgentID:     "a-1",
		Status:      model.AgentInChat,
		ActiveChats: &active,
	})
	waitFor(t, func() bool {
		agents := f.store.Agents()
		return len(agents) == 1 && agents[0].Status == model.AgentInChat && agents[0].ActiveChats == 4
	}, "agent delta never applied")

	f.presWS.push(t, event.TypeQueueStatusUpdate, model.QueueSnapshot{Waiting: 2, InProgress: 4, Total: 6})
	waitFor(t, func() bool {
		q, ok := f.store.Queue()
		return ok && q.Waiting == 2
	}, "queue snapshot never applied")
}

func TestPushDuringFetchSurvives(t *testing.T) {
	f := newFixture(t, nil)

	gate := make(chan struct{})
	started := make(chan struct{}, 1)
	f.mu.Lock()
	f.fetchGate = gate
	f.fetchStarted = started
	f.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- f.syncer.Start(context.Background()) }()

	f.notifWS.expect(t, event.TypeJoinNotificationRoom)

	// Wait until the fetch has hit the backend, then push while its response
	// is still in flight.
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("fetch never reached the backend")
	}
	f.notifWS.push(t, event.TypeNewNotification, model.Notification{
		ID:   "n-3",
		Type: model.NotificationCaseCreated,
	})
	waitFor(t, func() bool {
		list := f.store.Notifications()
		return len(list) == 1 && list[0].ID == "n-3"
	}, "push never prepended while fetch was in flight")

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer f.syncer.Close(context.Background())

	waitFor(t, func() bool {
		return len(f.store.Notifications()) == 3
	}, "fetched page never merged")

	list := f.store.Notifications()
	if list[0].ID != "n-3" {
		t.Errorf("list[0].ID = %v, want n-3 (push survives the fetch)", list[0].ID)
	}
	if f.store.UnreadCount() != 2 {
		t.Errorf("UnreadCount = %d, want 2 (page unread + surviving push)", f.store.UnreadCount())
	}
	waitFor(t, func() bool {
		return !f.store.Loading()
	}, "loading flag never cleared after the fetch")
}

func TestInvalidEventDropped(t *testing.T) {
	f := newFixture(t, nil)

	if err := f.syncer.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer f.syncer.Close(context.Background())

	f.notifWS.expect(t, event.TypeJoinNotificationRoom)
	waitFor(t, func() bool {
		return len(f.store.Notifications()) == 2
	}, "initial fetch never landed")

	// Missing id fails validation, so the reducer never runs.
	f.notifWS.push(t, event.TypeNewNotification, map[string]string{"type": "case_created"})

	// A subsequent valid event proves the invalid one was skipped in order.
	f.notifWS.push(t, event.TypeUnreadCount, event.UnreadCount{Count: 9})
	waitFor(t, func() bool {
		return f.store.UnreadCount() == 9
	}, "valid event after invalid one never applied")

	if got := len(f.store.Notifications()); got != 2 {
		t.Errorf("len(notifications) = %d, want 2 (invalid push dropped)", got)
	}
}

func TestMarkAsRead(t *testing.T) {
	f := newFixture(t, nil)

	if err := f.syncer.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer f.syncer.Close(context.Background())

	f.notifWS.expect(t, event.TypeJoinNotificationRoom)
	waitFor(t, func() bool {
		return len(f.store.Notifications()) == 2
	}, "initial fetch never landed")

	if err := f.syncer.MarkAsRead(context.Background(), "n-1"); err != nil {
		t.Fatalf("MarkAsRead() error = %v", err)
	}

	f.mu.Lock()
	gotBackend := len(f.markReads) == 1 && f.markReads[0] == "n-1"
	f.mu.Unlock()
	if !gotBackend {
		t.Error("backend never saw the mark-read call")
	}

	if f.store.UnreadCount() != 0 {
		t.Errorf("UnreadCount = %d, want 0", f.store.UnreadCount())
	}

	env := f.notifWS.expect(t, event.TypeMarkNotificationRead)
	var req event.MarkReadRequest
	json.Unmarshal(env.Data, &req)
	if req.NotificationID != "n-1" || req.BusinessID != "biz-1" {
		t.Errorf("mirror payload = %+v, want n-1/biz-1", req)
	}
}

func TestMarkAsReadBackendFailure(t *testing.T) {
	f := newFixture(t, nil)

	// Point the syncer at a dead backend for the mutation path.
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "boom"})
	}))
	defer dead.Close()
	f.syncer.client = api.NewClient(dead.URL, "", time.Second)

	f.store.Prepend(model.Notification{ID: "n-1", Type: model.NotificationCaseCreated})

	if err := f.syncer.MarkAsRead(context.Background(), "n-1"); err == nil {
		t.Fatal("MarkAsRead() error = nil, want error")
	}

	// The local state must not change when the backend rejected the write.
	if f.store.UnreadCount() != 1 {
		t.Errorf("UnreadCount = %d, want 1 (no local update on failure)", f.store.UnreadCount())
	}
}

func TestMarkAllAsRead(t *testing.T) {
	f := newFixture(t, nil)

	if err := f.syncer.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer f.syncer.Close(context.Background())

	f.notifWS.expect(t, event.TypeJoinNotificationRoom)
	waitFor(t, func() bool {
		return len(f.store.Notifications()) == 2
	}, "initial fetch never landed")

	if err := f.syncer.MarkAllAsRead(context.Background()); err != nil {
		t.Fatalf("MarkAllAsRead() error = %v", err)
	}

	if f.store.UnreadCount() != 0 {
		t.Errorf("UnreadCount = %d, want 0", f.store.UnreadCount())
	}

	f.notifWS.expect(t, event.TypeMarkAllNotificationsRead)
}

func TestCloseDeregistersHandlers(t *testing.T) {
	f := newFixture(t, nil)

	if err := f.syncer.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	f.notifWS.expect(t, event.TypeJoinNotificationRoom)
	waitFor(t, func() bool {
		return len(f.store.Notifications()) == 2
	}, "initial fetch never landed")

	if err := f.syncer.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	f.notifWS.expect(t, event.TypeLeaveNotificationRoom)

	// Events after Close must not mutate the store.
	f.notifWS.push(t, event.TypeUnreadCount, event.UnreadCount{Count: 42})
	time.Sleep(100 * time.Millisecond)

	if f.store.UnreadCount() == 42 {
		t.Error("event after Close mutated the store")
	}

	// Closing again is a no-op.
	if err := f.syncer.Close(context.Background()); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}

func TestWarmStartAndPersist(t *testing.T) {
	snapCache, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("cache.Open() error = %v", err)
	}
	defer snapCache.Close()

	seed := &cache.Snapshot{
		BusinessID:    "biz-1",
		Notifications: []model.Notification{{ID: "cached-1", Type: model.NotificationCaseCreated}},
		Unread:        1,
	}
	if err := snapCache.Save(context.Background(), seed); err != nil {
		t.Fatalf("seed Save() error = %v", err)
	}

	f := newFixture(t, snapCache)

	// warmStart alone must surface the cached list before any fetch.
	f.syncer.warmStart(context.Background())
	list := f.store.Notifications()
	if len(list) != 1 || list[0].ID != "cached-1" {
		t.Fatalf("warm start list = %+v, want the cached notification", list)
	}

	if err := f.syncer.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	waitFor(t, func() bool {
		return len(f.store.Notifications()) == 2
	}, "fetch never replaced the cached snapshot")

	if err := f.syncer.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	persisted, err := snapCache.Load(context.Background(), "biz-1")
	if err != nil {
		t.Fatalf("Load() after close error = %v", err)
	}
	if len(persisted.Notifications) != 2 {
		t.Errorf("persisted len = %d, want 2", len(persisted.Notifications))
	}
}

func TestStartTwice(t *testing.T) {
	f := newFixture(t, nil)

	if err := f.syncer.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer f.syncer.Close(context.Background())

	if err := f.syncer.Start(context.Background()); err == nil {
		t.Error("second Start() error = nil, want error")
	}
}
