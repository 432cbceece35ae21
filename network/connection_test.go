package network

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/highwizardry/gameserver/models"
)

// wsPair upgrades a loopback connection and returns the wrapped server side
// plus the raw client side.
func wsPair(t *testing.T) (*WSConnection, *websocket.Conn, func()) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	serverSide := make(chan *WSConnection, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverSide <- NewWSConnection(conn, nil)
	}))

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}
	ws := <-serverSide

	return ws, client, func() {
		_ = client.Close()
		srv.Close()
	}
}

func TestCloseWithFrameDuringConcurrentSends(t *testing.T) {
	ws, client, cleanup := wsPair(t)
	defer cleanup()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = ws.Send(models.Outbound(models.MsgPing, map[string]interface{}{
					"serverTime": j,
				}))
			}
		}()
	}

	closed := make(chan struct{})
	go func() {
		_ = ws.CloseWithFrame("server shutting down")
		close(closed)
	}()

	gotClose := make(chan int, 1)
	go func() {
		for {
			_, _, err := client.ReadMessage()
			if err != nil {
				var ce *websocket.CloseError
				if errors.As(err, &ce) {
					gotClose <- ce.Code
				} else {
					gotClose <- -1
				}
				return
			}
		}
	}()

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("CloseWithFrame did not return")
	}
	wg.Wait()

	select {
	case code := <-gotClose:
		if code != websocket.CloseGoingAway {
			t.Fatalf("close code = %d, want %d", code, websocket.CloseGoingAway)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("client never observed the close frame")
	}
}

func TestReadFrameMalformedKeepsConnection(t *testing.T) {
	ws, client, cleanup := wsPair(t)
	defer cleanup()

	if err := client.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ws.ReadFrame(); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("err = %v, want ErrMalformedFrame", err)
	}

	if err := client.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	frame, err := ws.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame after malformed: %v", err)
	}
	if frame.Type != models.MsgPong {
		t.Fatalf("frame type = %q, want %q", frame.Type, models.MsgPong)
	}
}
