package harness

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eternisai/saimilar/internal/logger"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// snapshot is the first message of a stream.
type snapshot struct {
	Type    string  `json:"type"`
	Entries []Entry `json:"entries"`
}

// Stream writes the current entries and then every log event to conn until
// ctx is done, the log closes its subscribers or the peer goes away.
func Stream(ctx context.Context, conn *websocket.Conn, log *Log, lg *logger.Logger) {
	lg = lg.WithComponent("harness_stream").WithContext(ctx)
	events, cancel := log.Subscribe()
	defer cancel()

	// The read loop only exists to notice the peer closing.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(v any) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(v); err != nil {
			lg.Debug("test log stream write failed", slog.String("error", err.Error()))
			return false
		}
		return true
	}

	if !write(snapshot{Type: "snapshot", Entries: log.Entries()}) {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-closed:
			return
		case event, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
					time.Now().Add(writeWait))
				return
			}
			if !write(event) {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
