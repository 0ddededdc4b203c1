package gameserver

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cory-johannsen/arena/internal/game/session"
	"github.com/cory-johannsen/arena/internal/rpc"
)

// SessionMethod is the full gRPC method name of the session stream.
const SessionMethod = "/arena.v1.GameService/Session"

// SessionServer is the server API for the GameService.
type SessionServer interface {
	Session(stream grpc.ServerStream) error
}

// GameServiceDesc describes arena.v1.GameService: one bidirectional stream
// carrying rpc envelopes as structpb.Struct messages in both directions.
var GameServiceDesc = grpc.ServiceDesc{
	ServiceName: "arena.v1.GameService",
	HandlerType: (*SessionServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Session",
			Handler:       sessionHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "arena/v1/game.proto",
}

func sessionHandler(srv any, stream grpc.ServerStream) error {
	return srv.(SessionServer).Session(stream)
}

// RegisterGameService registers svc on s.
func RegisterGameService(s grpc.ServiceRegistrar, svc SessionServer) {
	s.RegisterService(&GameServiceDesc, svc)
}

// OpenSession opens a session stream on cc.
func OpenSession(ctx context.Context, cc grpc.ClientConnInterface, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	return cc.NewStream(ctx, &GameServiceDesc.Streams[0], SessionMethod, opts...)
}

// GameService implements the gRPC session transport over a Gateway.
type GameService struct {
	gateway    *Gateway
	sendBuffer int
	logger     *zap.Logger
}

// NewGameService creates a GameService.
//
// Precondition: gateway and logger must be non-nil.
func NewGameService(gateway *Gateway, sendBuffer int, logger *zap.Logger) *GameService {
	return &GameService{
		gateway:    gateway,
		sendBuffer: sendBuffer,
		logger:     logger,
	}
}

// Session serves one client for the lifetime of its stream.
//
// Postcondition: the client's disconnect is queued on the Gateway when the
// stream ends, whatever the reason.
func (s *GameService) Session(stream grpc.ServerStream) error {
	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()

	outbox := session.NewOutbox("", s.sendBuffer)
	defer outbox.Close()

	clientID, err := s.gateway.Connect(ctx, outbox)
	if err != nil {
		return fmt.Errorf("connecting session: %w", err)
	}
	outbox.SetClientID(clientID)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.forwardFrames(ctx, outbox, stream)
	}()

	err = s.commandLoop(ctx, clientID, outbox, stream)

	s.gateway.Disconnect(clientID)
	cancel()
	wg.Wait()

	if err != nil && err != io.EOF {
		return err
	}
	return nil
}

// commandLoop processes incoming call envelopes until the stream ends.
// Each result is queued behind any pushes the call produced.
func (s *GameService) commandLoop(ctx context.Context, clientID string, outbox *session.Outbox, stream grpc.ServerStream) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg := &structpb.Struct{}
		if err := stream.RecvMsg(msg); err != nil {
			return err
		}
		env, err := rpc.FromStruct(msg)
		if err != nil {
			s.logger.Warn("undecodable frame", zap.String("client_id", clientID), zap.Error(err))
			continue
		}
		if env.Kind != rpc.KindCall {
			s.logger.Warn("unexpected frame kind",
				zap.String("client_id", clientID),
				zap.String("kind", string(env.Kind)),
			)
			continue
		}

		resp := s.gateway.Call(ctx, clientID, env.Request(clientID))
		if err := outbox.Send(rpc.ResultEnvelope(env.ID, resp)); err != nil {
			s.logger.Warn("queueing result failed",
				zap.String("client_id", clientID),
				zap.String("method", env.Method),
				zap.Error(err),
			)
		}
	}
}

// forwardFrames drains the outbox onto the stream.
func (s *GameService) forwardFrames(ctx context.Context, outbox *session.Outbox, stream grpc.ServerStream) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-outbox.Frames():
			if !ok {
				return
			}
			msg, err := rpc.ToStruct(env)
			if err != nil {
				s.logger.Error("encoding frame", zap.String("method", env.Method), zap.Error(err))
				continue
			}
			if err := stream.SendMsg(msg); err != nil {
				s.logger.Debug("forward frame send failed", zap.Error(err))
				return
			}
		}
	}
}
