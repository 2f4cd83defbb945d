package web

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const outboundBuffer = 256

var errTransportClosed = errors.New("transport closed")

// wsTransport adapts a websocket connection to broker.Transport. A single
// write pump drains the outbound channel, so messages to one target keep
// their send order. Send never blocks the caller: a closed transport or a
// full buffer drops the message.
type wsTransport struct {
	conn *websocket.Conn
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	t := &wsTransport{
		conn: conn,
		out:  make(chan []byte, outboundBuffer),
		done: make(chan struct{}),
	}
	go t.writePump()
	return t
}

func (t *wsTransport) Send(data []byte) error {
	select {
	case <-t.done:
		return errTransportClosed
	default:
	}

	select {
	case t.out <- data:
		return nil
	case <-t.done:
		return errTransportClosed
	default:
		return errors.New("outbound buffer full")
	}
}

func (t *wsTransport) Close() error {
	t.once.Do(func() {
		close(t.done)
		t.conn.Close()
	})
	return nil
}

func (t *wsTransport) writePump() {
	for {
		select {
		case <-t.done:
			return
		case data := <-t.out:
			if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				t.Close()
				return
			}
		}
	}
}

// handleWebSocket upgrades the connection, resolves the swarm id from the
// handshake (synthesizing one when absent) and runs the read loop. Every
// frame goes through the broker's dispatch; the session is torn down when
// the read loop exits.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	swarmID := r.URL.Query().Get("swarm_id")
	if swarmID == "" {
		swarmID = fmt.Sprintf("swarm-%d", time.Now().UnixMilli())
		slog.Debug("handshake without swarm_id, synthesized", "id", swarmID)
	}

	t := newWSTransport(conn)
	s.broker.Connect(swarmID, t)
	defer s.broker.Disconnect(swarmID, t)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		s.broker.HandleMessage(swarmID, data)
	}
}
