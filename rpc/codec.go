package rpc

import "encoding/json"

// jsonCodec marshals the wire messages with encoding/json. It replaces
// connect's protobuf codec so the plain message structs in this package can
// ride the Connect protocol without generated code; both sides of the wire
// must register it.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(msg interface{}) ([]byte, error) {
	return json.Marshal(msg)
}

func (jsonCodec) Unmarshal(data []byte, msg interface{}) error {
	return json.Unmarshal(data, msg)
}
