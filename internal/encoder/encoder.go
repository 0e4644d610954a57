// Package encoder implements the Identity & Metadata Encoder of spec.md
// §4.5: it reads and writes the `_meta.rmcp` sidecar on an otherwise-opaque
// MCP request/response envelope without touching any other field.
//
// Grounded on the teacher's internal/filter/bitbucket/response.go, which
// patches a single JSON sub-path of a large opaque payload using
// github.com/tidwall/gjson and github.com/tidwall/sjson rather than
// unmarshalling the whole envelope into a struct.
package encoder

import (
	"encoding/json"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/mcp-tx/rmcp-go/internal/rerr"
	"github.com/mcp-tx/rmcp-go/internal/types"
)

// sidecarPath is the JSON path the sidecar lives at on the wire, relative
// to a tool call's arguments object (request direction) or its result
// object (response direction).
const sidecarPath = "_meta.rmcp"

// EncodeRequest stamps meta into arguments at _meta.rmcp, leaving every
// other field of arguments untouched. arguments may be nil, in which case
// an object containing only the sidecar is produced.
func EncodeRequest(arguments []byte, meta types.ReliabilityMeta) ([]byte, error) {
	if len(arguments) == 0 {
		arguments = []byte("{}")
	}
	encoded, err := json.Marshal(meta)
	if err != nil {
		return nil, rerr.Sequence("marshal reliability metadata", err)
	}
	out, err := sjson.SetRawBytes(arguments, sidecarPath, encoded)
	if err != nil {
		return nil, rerr.Sequence("encode reliability metadata", err)
	}
	return out, nil
}

// DecodeResponse extracts the _meta.rmcp sidecar from a peer's response
// payload. When enabled is false (the capability was never negotiated),
// an absent sidecar is expected and DecodeResponse returns the zero value
// with ok=false and no error. When enabled is true, an absent sidecar is a
// protocol violation and DecodeResponse returns a terminal Sequence error.
func DecodeResponse(payload []byte, enabled bool) (types.ReliabilityMeta, bool, error) {
	result := gjson.GetBytes(payload, sidecarPath)
	if !result.Exists() {
		if !enabled {
			return types.ReliabilityMeta{}, false, nil
		}
		return types.ReliabilityMeta{}, false, rerr.Sequence("missing reliability metadata", nil)
	}

	var meta types.ReliabilityMeta
	if err := json.Unmarshal([]byte(result.Raw), &meta); err != nil {
		return types.ReliabilityMeta{}, false, rerr.Sequence("decode reliability metadata", err)
	}
	return meta, true, nil
}

// StripSidecar removes _meta.rmcp from payload, returning the envelope a
// caller with reliability disabled should see — the peer's tool result
// with no trace of the sidecar rmcp itself injected.
func StripSidecar(payload []byte) ([]byte, error) {
	if !gjson.GetBytes(payload, sidecarPath).Exists() {
		return payload, nil
	}
	out, err := sjson.DeleteBytes(payload, sidecarPath)
	if err != nil {
		return nil, rerr.Sequence("strip reliability metadata", err)
	}
	// Drop _meta as well when rmcp was its only member.
	if m := gjson.GetBytes(out, "_meta"); m.IsObject() && len(m.Map()) == 0 {
		out, err = sjson.DeleteBytes(out, "_meta")
		if err != nil {
			return nil, rerr.Sequence("strip reliability metadata", err)
		}
	}
	return out, nil
}
