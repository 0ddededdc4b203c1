package ws_test

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/arena/internal/config"
	"github.com/cory-johannsen/arena/internal/frontend/ws"
	"github.com/cory-johannsen/arena/internal/rpc"
)

// echoDispatcher answers every call with its method name and pushes a
// "pong" callback first, so tests can check push-before-result ordering.
type echoDispatcher struct {
	mu           sync.Mutex
	proxies      map[string]rpc.Proxy
	disconnected []string
	connectErr   error
	next         int
}

func newEchoDispatcher() *echoDispatcher {
	return &echoDispatcher{proxies: make(map[string]rpc.Proxy)}
}

func (d *echoDispatcher) Connect(_ context.Context, proxy rpc.Proxy) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.connectErr != nil {
		return "", d.connectErr
	}
	d.next++
	id := "client-" + strconv.Itoa(d.next)
	d.proxies[id] = proxy
	return id, nil
}

func (d *echoDispatcher) Call(ctx context.Context, clientID string, req rpc.Request) rpc.Response {
	d.mu.Lock()
	proxy := d.proxies[clientID]
	d.mu.Unlock()
	if req.Method == "fail" {
		return rpc.Fail(errors.New("requested failure"))
	}
	_ = proxy.Call(ctx, "pong", clientID)
	return rpc.OK(req.Method)
}

func (d *echoDispatcher) Disconnect(clientID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.proxies, clientID)
	d.disconnected = append(d.disconnected, clientID)
}

func (d *echoDispatcher) disconnects() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.disconnected...)
}

func startAcceptor(t *testing.T, d ws.Dispatcher) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	cfg := config.WebSocketConfig{
		Path:         "/ws",
		ReadLimit:    64 * 1024,
		WriteTimeout: time.Second,
		PongWait:     5 * time.Second,
		PingPeriod:   time.Second,
		SendBuffer:   16,
	}
	a := ws.NewAcceptor(cfg, d, zaptest.NewLogger(t))
	errCh := make(chan error, 1)
	go func() { errCh <- a.Serve(lis) }()
	t.Cleanup(func() {
		a.Stop()
		require.NoError(t, <-errCh)
	})
	return "ws://" + lis.Addr().String() + "/ws"
}

func dial(t *testing.T, url, subprotocol string) *websocket.Conn {
	t.Helper()
	dialer := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
	if subprotocol != "" {
		dialer.Subprotocols = []string{subprotocol}
	}
	var (
		c   *websocket.Conn
		err error
	)
	require.Eventually(t, func() bool {
		c, _, err = dialer.Dial(url, nil)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func roundTrip(t *testing.T, c *websocket.Conn, codec rpc.Codec, env rpc.Envelope) []rpc.Envelope {
	t.Helper()
	data, err := codec.Marshal(env)
	require.NoError(t, err)
	msgType := websocket.TextMessage
	if codec.Binary() {
		msgType = websocket.BinaryMessage
	}
	require.NoError(t, c.WriteMessage(msgType, data))

	var frames []rpc.Envelope
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		gotType, raw, err := c.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, msgType, gotType)
		var got rpc.Envelope
		require.NoError(t, codec.Unmarshal(raw, &got))
		frames = append(frames, got)
		if got.Kind == rpc.KindResult && got.ID == env.ID {
			return frames
		}
	}
}

func TestAcceptor_CodecsRoundTrip(t *testing.T) {
	for _, codec := range rpc.Codecs {
		t.Run(codec.Name(), func(t *testing.T) {
			url := startAcceptor(t, newEchoDispatcher())
			c := dial(t, url, codec.Name())
			assert.Equal(t, codec.Name(), c.Subprotocol())

			frames := roundTrip(t, c, codec, rpc.CallEnvelope(1, rpc.MethodGetGameStats))
			require.Len(t, frames, 2)
			assert.Equal(t, rpc.KindPush, frames[0].Kind)
			assert.Equal(t, "pong", frames[0].Method)
			assert.True(t, frames[1].Success)
			assert.Equal(t, rpc.MethodGetGameStats, frames[1].Result)
		})
	}
}

func TestAcceptor_DefaultsToJSON(t *testing.T) {
	url := startAcceptor(t, newEchoDispatcher())
	c := dial(t, url, "")
	assert.Empty(t, c.Subprotocol())

	frames := roundTrip(t, c, rpc.JSONCodec{}, rpc.CallEnvelope(9, "fail"))
	require.Len(t, frames, 1)
	assert.False(t, frames[0].Success)
	assert.Equal(t, "requested failure", frames[0].Error)
}

func TestAcceptor_IgnoresBadFrames(t *testing.T) {
	url := startAcceptor(t, newEchoDispatcher())
	c := dial(t, url, "arena.json")

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte("{not json")))
	push, err := rpc.JSONCodec{}.Marshal(rpc.PushEnvelope("bogus"))
	require.NoError(t, err)
	require.NoError(t, c.WriteMessage(websocket.TextMessage, push))

	frames := roundTrip(t, c, rpc.JSONCodec{}, rpc.CallEnvelope(2, "still-alive"))
	assert.Equal(t, "still-alive", frames[len(frames)-1].Result)
}

func TestAcceptor_CloseDisconnects(t *testing.T) {
	d := newEchoDispatcher()
	url := startAcceptor(t, d)
	c := dial(t, url, "arena.json")
	roundTrip(t, c, rpc.JSONCodec{}, rpc.CallEnvelope(1, "hello"))

	require.NoError(t, c.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	assert.Eventually(t, func() bool { return len(d.disconnects()) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestAcceptor_ConnectFailureClosesSocket(t *testing.T) {
	d := newEchoDispatcher()
	d.connectErr = errors.New("loop stopped")
	url := startAcceptor(t, d)
	c := dial(t, url, "")

	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := c.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseTryAgainLater), "got %v", err)
	assert.Empty(t, d.disconnects())
}

func TestAcceptor_StopEndsSessions(t *testing.T) {
	d := newEchoDispatcher()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	a := ws.NewAcceptor(config.WebSocketConfig{}, d, zaptest.NewLogger(t))
	errCh := make(chan error, 1)
	go func() { errCh <- a.Serve(lis) }()

	c := dial(t, "ws://"+lis.Addr().String()+"/ws", "")
	roundTrip(t, c, rpc.JSONCodec{}, rpc.CallEnvelope(1, "hello"))

	a.Stop()
	require.NoError(t, <-errCh)
	assert.Len(t, d.disconnects(), 1)

	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = c.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}
