package api

import (
	"bytes"

	"github.com/polydawn/refmt"
	"github.com/polydawn/refmt/json"
)

// Marshal any of the types in this package as json, using the hit Atlas.
func MarshalJSON(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := refmt.NewMarshallerAtlased(json.EncodeOptions{}, &buf, Atlas).Marshal(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Like MarshalJSON, but with line breaks and tab indentation, for humans and for records on disk.
func MarshalJSONPretty(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	opts := json.EncodeOptions{Line: []byte{'\n'}, Indent: []byte{'\t'}}
	if err := refmt.NewMarshallerAtlased(opts, &buf, Atlas).Marshal(v); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func UnmarshalJSON(data []byte, v interface{}) error {
	return refmt.NewUnmarshallerAtlased(json.DecodeOptions{}, bytes.NewReader(data), Atlas).Unmarshal(v)
}
