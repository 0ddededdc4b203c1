package ws

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/config"
	"github.com/cory-johannsen/arena/internal/game/session"
	"github.com/cory-johannsen/arena/internal/rpc"
)

const (
	defaultReadLimit    = 64 * 1024
	defaultWriteTimeout = 10 * time.Second
	defaultPongWait     = 60 * time.Second
)

// conn is one upgraded client connection. Only writePump writes data frames.
type conn struct {
	ws           *websocket.Conn
	codec        rpc.Codec
	readLimit    int64
	writeTimeout time.Duration
	pongWait     time.Duration
	pingPeriod   time.Duration
	sendBuffer   int
	logger       *zap.Logger
}

func newConn(raw *websocket.Conn, codec rpc.Codec, cfg config.WebSocketConfig, logger *zap.Logger) *conn {
	c := &conn{
		ws:           raw,
		codec:        codec,
		readLimit:    cfg.ReadLimit,
		writeTimeout: cfg.WriteTimeout,
		pongWait:     cfg.PongWait,
		pingPeriod:   cfg.PingPeriod,
		sendBuffer:   cfg.SendBuffer,
		logger:       logger,
	}
	if c.readLimit <= 0 {
		c.readLimit = defaultReadLimit
	}
	if c.writeTimeout <= 0 {
		c.writeTimeout = defaultWriteTimeout
	}
	if c.pongWait <= 0 {
		c.pongWait = defaultPongWait
	}
	if c.pingPeriod <= 0 || c.pingPeriod >= c.pongWait {
		c.pingPeriod = c.pongWait * 9 / 10
	}
	if c.sendBuffer <= 0 {
		c.sendBuffer = session.DefaultBufferSize
	}
	return c
}

// messageType is the frame type the codec's output travels in.
func (c *conn) messageType() int {
	if c.codec.Binary() {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

// serve registers the connection with d and pumps frames until the client
// disconnects or ctx is cancelled.
//
// Postcondition: the client is disconnected from d and the socket is closed.
func (c *conn) serve(ctx context.Context, d Dispatcher) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.ws.Close()

	outbox := session.NewOutbox("", c.sendBuffer)
	defer outbox.Close()

	clientID, err := d.Connect(ctx, outbox)
	if err != nil {
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server busy"),
			time.Now().Add(c.writeTimeout))
		return fmt.Errorf("connecting session: %w", err)
	}
	outbox.SetClientID(clientID)
	defer d.Disconnect(clientID)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writePump(ctx, outbox)
	}()

	err = c.readPump(ctx, d, clientID, outbox)
	cancel()
	wg.Wait()
	return err
}

// readPump decodes call frames and answers each through the outbox, behind
// any pushes the call produced.
func (c *conn) readPump(ctx context.Context, d Dispatcher, clientID string, outbox *session.Outbox) error {
	c.ws.SetReadLimit(c.readLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				return nil
			}
			return err
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.pongWait))

		var env rpc.Envelope
		if err := c.codec.Unmarshal(data, &env); err != nil {
			c.logger.Warn("undecodable frame",
				zap.String("client_id", clientID),
				zap.String("codec", c.codec.Name()),
				zap.Error(err),
			)
			continue
		}
		if env.Kind != rpc.KindCall {
			c.logger.Warn("unexpected frame kind",
				zap.String("client_id", clientID),
				zap.String("kind", string(env.Kind)),
			)
			continue
		}

		resp := d.Call(ctx, clientID, env.Request(clientID))
		if err := outbox.Send(rpc.ResultEnvelope(env.ID, resp)); err != nil {
			c.logger.Warn("queueing result failed",
				zap.String("client_id", clientID),
				zap.String("method", env.Method),
				zap.Error(err),
			)
		}
	}
}

// writePump drains the outbox onto the socket and keeps the peer alive with
// pings. It closes the socket on exit, which unblocks readPump.
func (c *conn) writePump(ctx context.Context, outbox *session.Outbox) {
	ticker := time.NewTicker(c.pingPeriod)
	defer ticker.Stop()
	defer c.ws.Close()

	for {
		select {
		case <-ctx.Done():
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"),
				time.Now().Add(c.writeTimeout))
			return
		case env, ok := <-outbox.Frames():
			if !ok {
				return
			}
			data, err := c.codec.Marshal(env)
			if err != nil {
				c.logger.Error("encoding frame", zap.String("method", env.Method), zap.Error(err))
				continue
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(c.messageType(), data); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
				c.logger.Debug("ping failed", zap.Error(err))
				return
			}
		}
	}
}
