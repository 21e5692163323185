// Package geyser streams account-delta updates for obligation accounts
// directly over a gRPC transport, without relying on protoc-generated
// client stubs: it dials a *grpc.ClientConn and opens a stream against
// a hand-declared grpc.StreamDesc, using a small JSON encoding.Codec
// registered with the grpc encoding package in place of protobuf.
package geyser

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// jsonCodecName is registered with the grpc encoding package and sent
// as the "grpc-encoding"/content-subtype for every call this package
// makes, so the server (or a local test harness) negotiates JSON
// instead of protobuf.
const jsonCodecName = "json"

// jsonCodec implements encoding.Codec by delegating to encoding/json,
// letting this package talk to a geyser-style gRPC endpoint with plain
// structs instead of generated protobuf types.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("geyser: json marshal: %w", err)
	}
	return data, nil
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("geyser: json unmarshal: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
