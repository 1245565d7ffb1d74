package connection

import "encoding/json"

// codecName is registered as the Connect content-subtype. No protobuf
// code generation is available in this tree, so every frame travels as
// plain JSON rather than a proto.Message.
const codecName = "json"

// jsonCodec implements connect.Codec over the Frame envelope (and
// anything else JSON-marshalable) so the bidi stream handler can be
// built without generated bindings.
type jsonCodec struct{}

func (jsonCodec) Name() string { return codecName }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
