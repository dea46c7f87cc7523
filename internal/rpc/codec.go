// Package rpc implements the worker<->coordinator control-plane service:
// node/stream/query registration, query lifecycle, and the probeStat
// aggregation path, per SPEC_FULL §4.14/§6.
package rpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

const jsonCodecName = "nebulastream-control-json"

// jsonCodec carries control messages as JSON rather than protobuf, the
// same way internal/network's rawCodec carries data-plane frames as raw
// bytes: this module ships no .proto-generated stubs, so gRPC's codec hook
// is used directly with plain Go structs.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("rpc: encode: %w", err)
	}
	return data, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("rpc: decode: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
