package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chat-broker/internal/testutil"
	ws "chat-broker/internal/websocket"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

func newWebSocketServer(t *testing.T, origins []string) *httptest.Server {
	t.Helper()
	_, broker := newTestRouter(t, testutil.NewMockLogBackend())
	h := NewWebSocketHandler(broker, origins)

	r := chi.NewRouter()
	r.Get("/ws/rooms/{room}", h.HandleConnection)
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return server
}

func TestWebSocketHandler_Connect(t *testing.T) {
	server := newWebSocketServer(t, nil)
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/rooms/general?nickname=Ann"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	testutil.AssertNoError(t, err)
	defer conn.Close()

	testutil.AssertNoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var frame ws.ServerMessage
	testutil.AssertNoError(t, conn.ReadJSON(&frame))
	testutil.AssertEqual(t, frame.Type, ws.FrameSession)
	testutil.AssertEqual(t, frame.Session.Nickname, "Ann")
}

func TestWebSocketHandler_RejectsBadRequests(t *testing.T) {
	server := newWebSocketServer(t, []string{"https://chat.example.com"})
	base := "ws" + strings.TrimPrefix(server.URL, "http")

	tests := []struct {
		name       string
		url        string
		origin     string
		wantStatus int
	}{
		{"invalid room", base + "/ws/rooms/bad%20room", "", http.StatusBadRequest},
		{"invalid cursor", base + "/ws/rooms/general?cursor=abc", "", http.StatusBadRequest},
		{"foreign origin", base + "/ws/rooms/general", "https://evil.example.com", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.origin != "" {
				header.Set("Origin", tt.origin)
			}
			_, resp, err := websocket.DefaultDialer.Dial(tt.url, header)
			testutil.AssertError(t, err)
			testutil.AssertNotNil(t, resp)
			testutil.AssertEqual(t, resp.StatusCode, tt.wantStatus)
		})
	}
}

func TestOriginChecker(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"no list allows all", nil, "https://a.example", true},
		{"wildcard", []string{"*"}, "https://a.example", true},
		{"listed", []string{"https://a.example"}, "https://a.example", true},
		{"not listed", []string{"https://a.example"}, "https://b.example", false},
		{"no origin header", []string{"https://a.example"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws/rooms/general", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			testutil.AssertEqual(t, originChecker(tt.allowed)(req), tt.want)
		})
	}
}
