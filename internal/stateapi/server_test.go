package stateapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/deskstream/deskstream/internal/model"
	"github.com/deskstream/deskstream/internal/store"
)

type fakeConn struct{ up bool }

func (f *fakeConn) Connected() bool { return f.up }

func newTestServer(t *testing.T, st *store.Store, notifUp, presenceUp bool) *httptest.Server {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelError}))
	s := NewServer(st, &fakeConn{up: notifUp}, &fakeConn{up: presenceUp}, ":0", logger)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func getJSON(t *testing.T, url string, out any) {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s error = %v", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s status = %d, want 200", url, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %v, want application/json", ct)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHandleNotifications(t *testing.T) {
	st := store.New(0)
	st.Prepend(model.Notification{ID: "n-1", Type: model.NotificationCaseCreated})
	st.Prepend(model.Notification{ID: "n-2", Type: model.NotificationRatingReceived})

	srv := newTestServer(t, st, true, true)

	var resp NotificationsResponse
	getJSON(t, srv.URL+"/state/notifications", &resp)

	if len(resp.Notifications) != 2 {
		t.Fatalf("len = %d, want 2", len(resp.Notifications))
	}
	if resp.Notifications[0].ID != "n-2" {
		t.Errorf("Notifications[0].ID = %v, want n-2 (newest first)", resp.Notifications[0].ID)
	}
	if resp.UnreadCount != 2 {
		t.Errorf("UnreadCount = %d, want 2", resp.UnreadCount)
	}
}

func TestHandleAgents(t *testing.T) {
	st := store.New(0)
	st.SetAgents([]model.AgentStatus{
		{AgentID: "a-1", Name: "Kim", Status: model.AgentAvailable},
	})

	srv := newTestServer(t, st, true, true)

	var resp AgentsResponse
	getJSON(t, srv.URL+"/state/agents", &resp)

	if len(resp.Agents) != 1 {
		t.Fatalf("len = %d, want 1", len(resp.Agents))
	}
	if resp.Agents[0].AgentID != "a-1" {
		t.Errorf("AgentID = %v, want a-1", resp.Agents[0].AgentID)
	}
}

func TestHandleQueueEmpty(t *testing.T) {
	srv := newTestServer(t, store.New(0), true, true)

	var resp QueueResponse
	getJSON(t, srv.URL+"/state/queue", &resp)

	if resp.Queue != nil {
		t.Errorf("Queue = %+v, want nil before any snapshot", resp.Queue)
	}
}

func TestHandleQueue(t *testing.T) {
	st := store.New(time.Minute)
	st.SetQueue(model.QueueSnapshot{Waiting: 3, InProgress: 5, Total: 8})

	srv := newTestServer(t, st, true, true)

	var resp QueueResponse
	getJSON(t, srv.URL+"/state/queue", &resp)

	if resp.Queue == nil {
		t.Fatal("Queue = nil, want snapshot")
	}
	if resp.Queue.Waiting != 3 || resp.Queue.InProgress != 5 {
		t.Errorf("Queue = %+v, want waiting 3, inProgress 5", resp.Queue)
	}
	if resp.Approximate {
		t.Error("Approximate = true for fresh snapshot")
	}
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(t, store.New(0), true, false)

	var resp HealthResponse
	getJSON(t, srv.URL+"/healthz", &resp)

	if resp.Status != "ok" {
		t.Errorf("Status = %v, want ok", resp.Status)
	}
	if !resp.Notifications {
		t.Error("Notifications = false, want true")
	}
	if resp.Presence {
		t.Error("Presence = true, want false")
	}
}

func TestUnknownRoute(t *testing.T) {
	srv := newTestServer(t, store.New(0), true, true)

	resp, err := http.Get(srv.URL + "/state/nope")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
