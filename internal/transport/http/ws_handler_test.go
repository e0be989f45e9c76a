package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"liveclass-service/internal/app"
	"liveclass-service/internal/domain"
	"liveclass-service/internal/infra/memory"
)

type testServer struct {
	*httptest.Server
	hub      *app.Hub
	presence *memory.Presence
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	hub := app.NewHub(8)
	presence := memory.NewPresence()
	service := app.NewAssignmentService(memory.NewAssignmentRepository(), hub, time.Hour, zerolog.Nop())

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", NewWSHandler(hub, presence, time.Second, nil, zerolog.Nop()).ServeWS)
	NewAPIHandler(service, presence, zerolog.Nop()).Register(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, hub: hub, presence: presence}
}

func (s *testServer) dial(t *testing.T, studentID string) *websocket.Conn {
	t.Helper()
	u := "ws" + s.URL[len("http"):] + "/ws?studentId=" + studentID
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (s *testServer) post(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(s.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("post %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestFeedStreamsInsertAndUpdate(t *testing.T) {
	srv := newTestServer(t)
	conn := srv.dial(t, "s1")
	readNext(t, conn, MessageSubscribed)

	resp := srv.post(t, "/api/assignments", domain.NewAssignment{
		StudentID:    "s1",
		InstructorID: "i1",
		Title:        "Reading",
		Type:         domain.TypeLesson,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var created domain.Assignment
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	insert := readNext(t, conn, MessageInsert)
	if insert.Payload.Old != nil || insert.Payload.New.ID != created.ID {
		t.Fatalf("unexpected insert payload: %+v", insert.Payload)
	}

	if resp := srv.post(t, "/api/assignments/"+created.ID+"/completed", struct{}{}); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	update := readNext(t, conn, MessageUpdate)
	if update.Payload.Old == nil || update.Payload.Old.Completed {
		t.Fatalf("expected old image before completion, got %+v", update.Payload.Old)
	}
	if !update.Payload.New.Completed {
		t.Fatalf("expected completed new image")
	}
}

func TestFeedFiltersByStudent(t *testing.T) {
	srv := newTestServer(t)
	conn := srv.dial(t, "s1")
	readNext(t, conn, MessageSubscribed)

	srv.post(t, "/api/assignments", domain.NewAssignment{StudentID: "s2", InstructorID: "i1", Title: "Other", Type: domain.TypeLesson})
	srv.post(t, "/api/assignments", domain.NewAssignment{StudentID: "s1", InstructorID: "i1", Title: "Mine", Type: domain.TypeLesson})

	msg := readNext(t, conn, MessageInsert)
	if msg.Payload.New.Title != "Mine" {
		t.Fatalf("expected only own rows, got %q", msg.Payload.New.Title)
	}
}

func TestFeedTracksPresence(t *testing.T) {
	srv := newTestServer(t)
	conn := srv.dial(t, "s1")
	readNext(t, conn, MessageSubscribed)

	online, _ := srv.presence.IsOnline(context.Background(), "s1")
	if !online {
		t.Fatalf("expected s1 online while connected")
	}

	conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if online, _ := srv.presence.IsOnline(context.Background(), "s1"); !online && srv.hub.Subscribers("s1") == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected s1 offline after disconnect")
}

func TestFeedRequiresStudent(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/ws")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

type closedFeed struct{}

func (closedFeed) Subscribe(string) (<-chan domain.ChangeEvent, func()) {
	ch := make(chan domain.ChangeEvent)
	close(ch)
	return ch, func() {}
}

func TestFeedDroppedSubscriberGetsError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", NewWSHandler(closedFeed{}, memory.NewPresence(), time.Second, nil, zerolog.Nop()).ServeWS)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+srv.URL[len("http"):]+"/ws?studentId=s1", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	readNext(t, conn, MessageSubscribed)
	readNext(t, conn, MessageError)
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected connection to close after error")
	}
}

func readNext(t *testing.T, conn *websocket.Conn, expect string) Envelope[ChangePayload] {
	t.Helper()
	var msg Envelope[ChangePayload]
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if expect != "" && msg.Type != expect {
		t.Fatalf("expected type %s, got %s", expect, msg.Type)
	}
	return msg
}
