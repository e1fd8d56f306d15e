package realtime

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultPingInterval = 20 * time.Second
	defaultWriteTimeout = 5 * time.Second
	closeFrameTimeout   = 2 * time.Second
)

type wsWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// outboundWriter is the only goroutine that writes to the socket. Frames go
// out in queue order. When stop closes, frames still queued are dropped and a
// normal close frame is written before the socket is closed.
type outboundWriter struct {
	ws           wsWriter
	queue        <-chan []byte
	stop         <-chan struct{}
	pingInterval time.Duration
	writeTimeout time.Duration
}

func (w *outboundWriter) Run() error {
	if w == nil || w.ws == nil {
		return nil
	}

	pingInterval := w.pingInterval
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	writeTimeout := w.writeTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		// Stop wins over queued frames.
		select {
		case <-w.stop:
			w.shutdown()
			return nil
		default:
		}

		select {
		case <-w.stop:
			w.shutdown()
			return nil
		case <-pingTicker.C:
			if err := w.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeTimeout)); err != nil {
				_ = w.ws.Close()
				return err
			}
		case frame, ok := <-w.queue:
			if !ok {
				w.shutdown()
				return nil
			}
			if err := w.writeFrame(frame, writeTimeout); err != nil {
				_ = w.ws.Close()
				return err
			}
		}
	}
}

func (w *outboundWriter) shutdown() {
	_ = w.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(closeFrameTimeout))
	_ = w.ws.Close()
}

func (w *outboundWriter) writeFrame(frame []byte, writeTimeout time.Duration) error {
	if len(frame) == 0 {
		return nil
	}
	if err := w.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return w.ws.WriteMessage(websocket.TextMessage, frame)
}
