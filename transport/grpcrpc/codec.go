// Package grpcrpc carries broker requests over gRPC.
//
// Messages are the JSON encoded request and response types of package types,
// so no generated code is involved: the service is described by hand and the
// "json" codec is registered with gRPC on import. Brokers register a
// types.Broker with RegisterBroker; readers reach them through a Pool that
// shares one reference-counted connection per address.
package grpcrpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// CodecName is the content subtype of every call.
const CodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return CodecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
