package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/protobuf/types/known/structpb"
)

// Kind distinguishes the three frames that cross a connection.
type Kind string

const (
	// KindCall is a client request awaiting a result.
	KindCall Kind = "call"
	// KindResult answers a call with the same ID.
	KindResult Kind = "result"
	// KindPush is a server-initiated callback.
	KindPush Kind = "push"
)

// Envelope is the single frame type of the wire protocol.
type Envelope struct {
	Kind    Kind   `json:"kind" msgpack:"kind"`
	ID      uint64 `json:"id,omitempty" msgpack:"id,omitempty"`
	Method  string `json:"method,omitempty" msgpack:"method,omitempty"`
	Args    []any  `json:"args,omitempty" msgpack:"args,omitempty"`
	Success bool   `json:"success,omitempty" msgpack:"success,omitempty"`
	Result  any    `json:"result,omitempty" msgpack:"result,omitempty"`
	Error   string `json:"error,omitempty" msgpack:"error,omitempty"`
}

// CallEnvelope builds a call frame.
func CallEnvelope(id uint64, method string, args ...any) Envelope {
	return Envelope{Kind: KindCall, ID: id, Method: method, Args: args}
}

// PushEnvelope builds a push frame.
func PushEnvelope(method string, args ...any) Envelope {
	return Envelope{Kind: KindPush, Method: method, Args: args}
}

// ResultEnvelope wraps resp as the answer to call id.
func ResultEnvelope(id uint64, resp Response) Envelope {
	return Envelope{Kind: KindResult, ID: id, Success: resp.Success, Result: resp.Result, Error: resp.Error}
}

// Request extracts the call carried by e.
func (e Envelope) Request(senderID string) Request {
	return Request{Method: e.Method, Args: e.Args, SenderID: senderID}
}

// Response extracts the result carried by e.
func (e Envelope) Response() Response {
	return Response{Success: e.Success, Result: e.Result, Error: e.Error}
}

// Codec converts envelopes to and from bytes.
type Codec interface {
	// Name is the websocket subprotocol that selects this codec.
	Name() string
	// Binary reports whether frames must be sent as binary messages.
	Binary() bool
	Marshal(e Envelope) ([]byte, error)
	Unmarshal(data []byte, e *Envelope) error
}

// JSONCodec encodes envelopes as JSON text.
type JSONCodec struct{}

// Name implements Codec.
func (JSONCodec) Name() string { return "arena.json" }

// Binary implements Codec.
func (JSONCodec) Binary() bool { return false }

// Marshal implements Codec.
func (JSONCodec) Marshal(e Envelope) ([]byte, error) { return json.Marshal(e) }

// Unmarshal implements Codec.
func (JSONCodec) Unmarshal(data []byte, e *Envelope) error { return json.Unmarshal(data, e) }

// MsgpackCodec encodes envelopes as MessagePack.
type MsgpackCodec struct{}

// Name implements Codec.
func (MsgpackCodec) Name() string { return "arena.msgpack" }

// Binary implements Codec.
func (MsgpackCodec) Binary() bool { return true }

// Marshal implements Codec.
func (MsgpackCodec) Marshal(e Envelope) ([]byte, error) { return msgpack.Marshal(&e) }

// Unmarshal implements Codec.
func (MsgpackCodec) Unmarshal(data []byte, e *Envelope) error { return msgpack.Unmarshal(data, e) }

// Codecs lists the supported codecs in preference order.
var Codecs = []Codec{JSONCodec{}, MsgpackCodec{}}

// CodecByName returns the codec for a subprotocol name. ok is false when the
// name is unknown.
func CodecByName(name string) (Codec, bool) {
	for _, c := range Codecs {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}

// Subprotocols returns the names of all codecs.
func Subprotocols() []string {
	out := make([]string, len(Codecs))
	for i, c := range Codecs {
		out[i] = c.Name()
	}
	return out
}

// ToStruct converts e to a protobuf Struct for the gRPC transport.
// Payload structs are flattened through their json tags.
func ToStruct(e Envelope) (*structpb.Struct, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshalling envelope: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("flattening envelope: %w", err)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("building struct: %w", err)
	}
	return s, nil
}

// FromStruct converts a protobuf Struct back into an Envelope.
func FromStruct(s *structpb.Struct) (Envelope, error) {
	var e Envelope
	if s == nil {
		return e, fmt.Errorf("%w: nil frame", ErrBadArgs)
	}
	raw, err := json.Marshal(s.AsMap())
	if err != nil {
		return e, fmt.Errorf("marshalling struct: %w", err)
	}
	if err := json.Unmarshal(raw, &e); err != nil {
		return e, fmt.Errorf("decoding envelope: %w", err)
	}
	return e, nil
}
