package store

import (
	"github.com/vmihailenco/msgpack/v5"
)

// Serialize encodes a flow record to msgpack bytes. Msgpack keeps binary
// bodies as-is instead of forcing them through base64.
func Serialize(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

// Deserialize decodes msgpack bytes into the provided value.
func Deserialize(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}
