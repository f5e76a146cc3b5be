package changefeed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSESinkFraming(t *testing.T) {
	rec := httptest.NewRecorder()
	sink, err := NewSSESink(rec)
	require.NoError(t, err)

	id := uuid.New()
	require.NoError(t, sink.Send(context.Background(), Event{Type: EventCreated, ID: &id, Status: "active", At: fixedNow()}))
	require.NoError(t, sink.Send(context.Background(), Event{Type: EventHeartbeat, At: fixedNow()}))

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.True(t, rec.Flushed)

	frames := strings.Split(strings.TrimSpace(rec.Body.String()), "\n\n")
	require.Len(t, frames, 2)
	assert.True(t, strings.HasPrefix(frames[0], "id: 1\nevent: created\ndata: "))
	assert.True(t, strings.HasPrefix(frames[1], "id: 2\nevent: heartbeat\ndata: "))

	var ev Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frames[0], "id: 1\nevent: created\ndata: ")), &ev))
	assert.Equal(t, id, *ev.ID)
	assert.Equal(t, "active", ev.Status)
}

func TestSSESinkStopsOnCancelledContext(t *testing.T) {
	sink, err := NewSSESink(httptest.NewRecorder())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sink.Send(ctx, Event{Type: EventHeartbeat}), context.Canceled)
}

type noFlush struct{ http.ResponseWriter }

func TestSSESinkNeedsFlusher(t *testing.T) {
	_, err := NewSSESink(noFlush{httptest.NewRecorder()})
	assert.ErrorIs(t, err, ErrStreamingUnsupported)
}

func TestWebSocketSinkDeliversAndDetectsClose(t *testing.T) {
	closed := make(chan struct{})
	upgrader := NewUpgrader([]string{"https://dash.example"})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sink := NewWebSocketSink(conn)
		sink.WatchClose(func() { close(closed) })
		_ = sink.Send(r.Context(), Event{Type: EventHeartbeat, At: fixedNow()})
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := http.Header{"Origin": []string{"https://dash.example"}}
	client, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)

	var ev Event
	require.NoError(t, client.ReadJSON(&ev))
	assert.Equal(t, EventHeartbeat, ev.Type)

	require.NoError(t, client.Close())
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not notice the client closing")
	}
}

func TestUpgraderRejectsUnknownOrigin(t *testing.T) {
	u := NewUpgrader([]string{"https://dash.example"})
	r := httptest.NewRequest(http.MethodGet, "/v1/ws/waitlist", nil)
	r.Header.Set("Origin", "https://evil.example")
	assert.False(t, u.CheckOrigin(r))

	r.Header.Set("Origin", "https://dash.example")
	assert.True(t, u.CheckOrigin(r))

	assert.True(t, NewUpgrader([]string{"*"}).CheckOrigin(r))
}
