package signal

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

func (c *Conn) writePump(ctx context.Context) {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer ticker.Stop()
	logger := c.logger()

	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("writePump ctx done")
			_ = c.conn.Close()
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait)); err != nil {
				logger.Warn().Err(err).Msg("writePump ping failed")
				c.Close()
				return
			}
		case data, ok := <-c.send:
			if !ok {
				logger.Debug().Msg("writePump channel closed")
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(c.opts.WriteWait))
				_ = c.conn.Close()
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
				logger.Error().Err(err).Msg("writePump set deadline")
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Error().Err(err).Msg("writePump write error")
				c.Close()
				return
			}
		}
	}
}

func (c *Conn) readPump(ctx context.Context, onFrame func(Frame)) {
	logger := c.logger()
	readWait := c.opts.PingPeriod * 2
	_ = c.conn.SetReadDeadline(time.Now().Add(readWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("readPump ctx done")
			c.finish(ctx.Err())
			c.Close()
			return
		default:
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.Closed() {
				logger.Warn().Err(err).Msg("readPump read error")
			}
			c.finish(err)
			c.Close()
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(readWait))
		onFrame(data)
	}
}
