package race

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mpapenbr/lapsim-service-go/log"
	"github.com/mpapenbr/lapsim-service-go/pkg/race/stream"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS is handled by the server, any origin may connect
	CheckOrigin: func(*http.Request) bool { return true },
}

type wsSink struct {
	conn *websocket.Conn
}

func (s *wsSink) Send(_ context.Context, msg stream.Message) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteJSON(msg)
}

func (s *wsSink) close(l *log.Logger) {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "race over"))
	if err != nil {
		l.Debug("could not send close message", log.ErrorField(err))
	}
	_ = s.conn.Close()
}

// readPump discards incoming data and calls cancel once the peer is gone.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}
