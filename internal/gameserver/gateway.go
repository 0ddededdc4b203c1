package gameserver

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/observability"
	"github.com/cory-johannsen/arena/internal/rpc"
)

// DefaultCallTimeout bounds how long a transport waits for the loop.
const DefaultCallTimeout = 5 * time.Second

// Gateway is the transport-agnostic session driver. Every call it makes on
// the Handler runs on the Loop, so one client's calls are handled in the
// order they arrive.
type Gateway struct {
	loop        *Loop
	handler     *Handler
	callTimeout time.Duration
	metrics     *observability.Metrics
	logger      *zap.Logger
}

// NewGateway creates a Gateway. callTimeout <= 0 uses DefaultCallTimeout.
func NewGateway(loop *Loop, handler *Handler, callTimeout time.Duration, metrics *observability.Metrics, logger *zap.Logger) *Gateway {
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	return &Gateway{
		loop:        loop,
		handler:     handler,
		callTimeout: callTimeout,
		metrics:     metrics,
		logger:      logger,
	}
}

// Connect assigns a client id and registers proxy for it.
//
// Postcondition: on success the returned id is registered with the Handler.
func (g *Gateway) Connect(ctx context.Context, proxy rpc.Proxy) (string, error) {
	id := uuid.NewString()
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()
	if err := g.loop.Do(ctx, func() { g.handler.AddClientProxy(id, proxy) }); err != nil {
		return "", fmt.Errorf("registering client: %w", err)
	}
	g.logger.Info("client connected", zap.String("client_id", id))
	return id, nil
}

// Call runs one request for clientID. The SenderID is always clientID,
// whatever the payload claims.
func (g *Gateway) Call(ctx context.Context, clientID string, req rpc.Request) rpc.Response {
	req.SenderID = clientID
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	var resp rpc.Response
	// Broadcasts triggered by the call must outlive the caller's context.
	work := context.WithoutCancel(ctx)
	if err := g.loop.Do(ctx, func() { resp = g.handler.HandleRpcCall(work, req) }); err != nil {
		g.metrics.Inc(observability.DroppedCalls)
		g.logger.Warn("call not processed",
			zap.String("client_id", clientID),
			zap.String("method", req.Method),
			zap.Error(err),
		)
		return rpc.Fail(fmt.Errorf("%s: %w", req.Method, err))
	}
	return resp
}

// Disconnect queues the removal of clientID from the Handler and its room
// without waiting for it. Work submitted to the Loop afterwards observes the
// client gone.
func (g *Gateway) Disconnect(clientID string) {
	err := g.loop.Post(func() {
		g.handler.RemoveClientProxy(context.Background(), clientID)
		g.logger.Info("client disconnected", zap.String("client_id", clientID))
	})
	if err != nil {
		g.logger.Warn("disconnect not processed", zap.String("client_id", clientID), zap.Error(err))
	}
}
