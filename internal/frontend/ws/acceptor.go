// Package ws serves game sessions over WebSocket. Each connection negotiates
// a codec by subprotocol and exchanges rpc envelopes with a Dispatcher.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/config"
	"github.com/cory-johannsen/arena/internal/rpc"
)

// Dispatcher runs client sessions. *gameserver.Gateway implements it.
type Dispatcher interface {
	Connect(ctx context.Context, proxy rpc.Proxy) (string, error)
	Call(ctx context.Context, clientID string, req rpc.Request) rpc.Response
	Disconnect(clientID string)
}

// Acceptor upgrades HTTP requests on the configured path and serves each
// connection until the client goes away or Stop is called.
type Acceptor struct {
	cfg        config.WebSocketConfig
	dispatcher Dispatcher
	upgrader   websocket.Upgrader
	server     *http.Server
	logger     *zap.Logger

	wg       sync.WaitGroup
	quit     chan struct{}
	stopOnce sync.Once
}

// NewAcceptor creates a WebSocket acceptor.
//
// Precondition: dispatcher and logger must be non-nil.
// Postcondition: Returns an Acceptor ready to be started with ListenAndServe.
func NewAcceptor(cfg config.WebSocketConfig, dispatcher Dispatcher, logger *zap.Logger) *Acceptor {
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	a := &Acceptor{
		cfg:        cfg,
		dispatcher: dispatcher,
		logger:     logger,
		quit:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			Subprotocols:    rpc.Subprotocols(),
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	a.server = &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a
}

// Handler returns the HTTP handler serving the upgrade path.
func (a *Acceptor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+a.cfg.Path, a.serveWS)
	return mux
}

// ListenAndServe listens on the configured address and serves until Stop.
// This method blocks until the acceptor is stopped.
func (a *Acceptor) ListenAndServe() error {
	lis, err := net.Listen("tcp", a.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.cfg.Addr(), err)
	}
	return a.Serve(lis)
}

// Serve accepts connections on lis until Stop.
//
// Postcondition: lis is closed when Serve returns.
func (a *Acceptor) Serve(lis net.Listener) error {
	a.logger.Info("websocket acceptor listening",
		zap.String("addr", lis.Addr().String()),
		zap.String("path", a.cfg.Path),
	)
	if err := a.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Start implements server.Service.
func (a *Acceptor) Start() error { return a.ListenAndServe() }

// Stop closes the listener, ends every open session and waits for them.
// A Serve call made after Stop returns immediately.
//
// Postcondition: All connections are closed and goroutines have exited.
func (a *Acceptor) Stop() {
	a.stopOnce.Do(a.stop)
}

func (a *Acceptor) stop() {
	close(a.quit)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Warn("websocket shutdown", zap.Error(err))
	}
	a.wg.Wait()
	a.logger.Info("websocket acceptor stopped")
}

func (a *Acceptor) serveWS(w http.ResponseWriter, r *http.Request) {
	raw, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Debug("upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}
	codec, ok := rpc.CodecByName(raw.Subprotocol())
	if !ok {
		codec = rpc.JSONCodec{}
	}

	a.wg.Add(1)
	defer a.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-a.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	start := time.Now()
	c := newConn(raw, codec, a.cfg, a.logger)
	if err := c.serve(ctx, a.dispatcher); err != nil {
		a.logger.Debug("session ended",
			zap.String("remote_addr", r.RemoteAddr),
			zap.String("codec", codec.Name()),
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
		return
	}
	a.logger.Info("session ended cleanly",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Duration("duration", time.Since(start)),
	)
}
