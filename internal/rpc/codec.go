package rpc

import (
	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/grpc/encoding"
)

// CodecName identifies the msgpack codec in gRPC content-subtype negotiation.
const CodecName = "msgpack"

// Codec is a msgpack gRPC codec. The service is hand-rolled rather than
// protoc-generated, so messages are plain structs and the wire format stays
// binary without a descriptor build step.
type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (Codec) Unmarshal(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

func (Codec) Name() string { return CodecName }

func init() {
	encoding.RegisterCodec(Codec{})
}
