package rpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is registered under grpc-go's default content-subtype so every
// RPC on this transport rides the JSON codec below without a per-call
// CallContentSubtype option. This stands in for the protoc-generated codec
// the pack's excluded pkg/proto would normally register.
const codecName = "proto"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return codecName }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
