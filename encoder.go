package fileq

import (
	"encoding/json"

	"github.com/bytedance/sonic"
)

// Encoder serializes history records for sinks that store them as bytes.
type Encoder interface {
	Encode(any) ([]byte, error)
	Decode([]byte, any) error
}

// JSONEncoder writes with encoding/json and reads back with sonic.
type JSONEncoder struct{}

func (*JSONEncoder) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (*JSONEncoder) Decode(data []byte, v any) error {
	return sonic.Unmarshal(data, v)
}

// DecodeHistory decodes a JSON array of records, e.g. a previous export.
func DecodeHistory(enc Encoder, data []byte) ([]HistoryRecord, error) {
	if enc == nil {
		enc = &JSONEncoder{}
	}
	var recs []HistoryRecord
	if err := enc.Decode(data, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}
