package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/mesh-intelligence/stockroom/pkg/types"
)

// encodeCollection renders entities as a JSON array of flat objects with the
// id first and fields in schema order.
func encodeCollection(schema types.Schema, entities []types.Entity) (string, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, e := range entities {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(`{"id":`)
		id, _ := json.Marshal(e.ID)
		buf.Write(id)
		for _, f := range schema.Fields {
			v, ok := e.Get(f.Name)
			if !ok {
				continue
			}
			name, _ := json.Marshal(f.Name)
			val, err := json.Marshal(v)
			if err != nil {
				return "", fmt.Errorf("%s.%s: %w", e.ID, f.Name, err)
			}
			buf.WriteByte(',')
			buf.Write(name)
			buf.WriteByte(':')
			buf.Write(val)
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(']')
	return buf.String(), nil
}

func decodeCollection(schema types.Schema, raw string) ([]types.Entity, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var rows []map[string]any
	if err := dec.Decode(&rows); err != nil {
		return nil, err
	}
	out := make([]types.Entity, 0, len(rows))
	for _, row := range rows {
		id, _ := row[types.FieldID].(string)
		e := types.Entity{ID: id, Collection: schema.Collection, Fields: make(types.Fields)}
		for _, f := range schema.Fields {
			v, err := f.Coerce(row[f.Name])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", id, err)
			}
			if v != nil {
				e.Fields[f.Name] = v
			}
		}
		out = append(out, e)
	}
	return out, nil
}
