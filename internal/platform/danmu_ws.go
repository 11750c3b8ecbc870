package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// heartbeatInterval keeps the danmaku connection alive; every platform
// drops idle sockets within a minute.
const heartbeatInterval = 30 * time.Second

// wsDanmuConn is a websocket-backed DanmuConn. Frames are JSON objects of
// the shape {"ts":..,"text":..,"user_id":..}; frames that do not parse are
// skipped (heartbeat acks, presence notices). The connection is
// single-consumer and not restartable.
type wsDanmuConn struct {
	conn   *websocket.Conn
	events chan DanmuEvent
	errs   chan error

	closeOnce sync.Once
	done      chan struct{}
}

// dialDanmu opens a danmaku websocket with the adapter's user agent and
// optional cookie header.
func dialDanmu(ctx context.Context, wsURL, ua, cookie string) (*wsDanmuConn, error) {
	header := http.Header{}
	header.Set("User-Agent", ua)
	if cookie != "" {
		header.Set("Cookie", cookie)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		kind := KindNetwork
		if resp != nil {
			kind = kindForStatus(resp.StatusCode)
		}
		return nil, NewError(kind, "danmu_dial", err)
	}

	c := &wsDanmuConn{
		conn:   conn,
		events: make(chan DanmuEvent, 64),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	go c.heartbeatLoop()
	return c, nil
}

// readLoop drains the socket into the event channel.
func (c *wsDanmuConn) readLoop() {
	defer close(c.events)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case c.errs <- NewError(KindNetwork, "danmu_read", err):
			default:
			}
			return
		}

		var ev DanmuEvent
		if err := json.Unmarshal(data, &ev); err != nil || ev.Text == "" {
			continue
		}
		if ev.TS == 0 {
			ev.TS = time.Now().UnixMilli()
		}

		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}

// heartbeatLoop sends periodic pings until the connection closes.
func (c *wsDanmuConn) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// Next blocks until the next event, ctx cancellation, or stream end.
func (c *wsDanmuConn) Next(ctx context.Context) (DanmuEvent, error) {
	select {
	case <-ctx.Done():
		return DanmuEvent{}, ctx.Err()
	case ev, ok := <-c.events:
		if !ok {
			select {
			case err := <-c.errs:
				return DanmuEvent{}, err
			default:
				return DanmuEvent{}, NewError(KindNetwork, "danmu_read", context.Canceled)
			}
		}
		return ev, nil
	}
}

// Close tears down the underlying connection.
func (c *wsDanmuConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		deadline := time.Now().Add(time.Second)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = c.conn.Close()
	})
	return err
}

// Ensure wsDanmuConn implements DanmuConn at compile time.
var _ DanmuConn = (*wsDanmuConn)(nil)
