package preview

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/gorilla/websocket"
)

func TestPipeChannelOrderedDelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, b := NewPipeChannel(ctx)

	received := make(chan map[string]any, 16)
	b.SetReceiveCallback(func(payload map[string]any) {
		received <- payload
	})

	n := 10
	for i := 0; i < n; i += 1 {
		a.Send(map[string]any{"seq": i})
	}

	for i := 0; i < n; i += 1 {
		payload := <-received
		assert.Equal(t, i, payload["seq"])
	}
}

func TestPipeChannelCloseIsTerminal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, b := NewPipeChannel(ctx)

	received := make(chan map[string]any, 16)
	b.SetReceiveCallback(func(payload map[string]any) {
		received <- payload
	})

	a.Close()
	<-a.Done()
	<-b.Done()

	// send after close is a silent no-op
	a.Send(map[string]any{"seq": 0})
	a.Send(nil)

	select {
	case <-received:
		t.FailNow()
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWebSocketChannelDropsMalformedPayloads(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	upgrader := websocket.Upgrader{}
	serverConns := make(chan *websocket.Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverConns <- ws
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	channel, err := NewWebSocketChannelWithDefaults(ctx, url)
	assert.Equal(t, nil, err)
	defer channel.Close()

	received := make(chan map[string]any, 16)
	channel.SetReceiveCallback(func(payload map[string]any) {
		received <- payload
	})

	ws := <-serverConns
	defer ws.Close()

	// foreign and malformed payloads are discarded, never surfaced
	ws.WriteMessage(websocket.TextMessage, []byte(`not json at all`))
	ws.WriteMessage(websocket.TextMessage, []byte(`[1, 2, 3]`))
	ws.WriteMessage(websocket.TextMessage, []byte(`"just a string"`))
	ws.WriteMessage(websocket.TextMessage, []byte(`null`))
	ws.WriteMessage(websocket.TextMessage, []byte(`{"message": "ready"}`))

	payload := <-received
	assert.Equal(t, "ready", payload["message"])
	select {
	case <-received:
		t.FailNow()
	default:
	}
}

func TestWebSocketChannelRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		// echo loop: reflect each json object back with an ack mark
		for {
			var payload map[string]any
			if err := ws.ReadJSON(&payload); err != nil {
				return
			}
			payload["acked"] = true
			if err := ws.WriteJSON(payload); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	channel, err := NewWebSocketChannelWithDefaults(ctx, url)
	assert.Equal(t, nil, err)
	defer channel.Close()

	received := make(chan map[string]any, 1)
	channel.SetReceiveCallback(func(payload map[string]any) {
		received <- payload
	})

	channel.Send(map[string]any{"id": "x", "name": "play"})

	payload := <-received
	assert.Equal(t, "x", payload["id"])
	assert.Equal(t, true, payload["acked"])
}
