package codec

import "github.com/segmentio/encoding/json"

// SegmentJSON encodes JSON with github.com/segmentio/encoding, which is
// wire-compatible with encoding/json and faster for large documents.
type SegmentJSON struct{}

// Marshal encodes v as indented JSON.
func (SegmentJSON) Marshal(v any) ([]byte, error) { return json.MarshalIndent(v, "", "  ") }

// Unmarshal decodes JSON data into v.
func (SegmentJSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Name returns "segment-json".
func (SegmentJSON) Name() string { return "segment-json" }
