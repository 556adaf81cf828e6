package types

// Fields maps field names to canonical scalar values.
type Fields map[string]any

// Entity is a single business record within a collection.
type Entity struct {
	ID         string `json:"id"`
	Collection string `json:"collection"`
	Fields     Fields `json:"fields"`
}

// Clone returns a copy that shares no mutable state with e. Field values are
// immutable scalars, so a shallow map copy is sufficient.
func (e Entity) Clone() Entity {
	out := Entity{ID: e.ID, Collection: e.Collection, Fields: make(Fields, len(e.Fields))}
	for k, v := range e.Fields {
		out.Fields[k] = v
	}
	return out
}

// Get returns the value of a field and whether it is set.
func (e Entity) Get(name string) (any, bool) {
	v, ok := e.Fields[name]
	return v, ok && v != nil
}

// Text returns the field rendered as cell text.
func (e Entity) Text(name string) string {
	if name == FieldID {
		return e.ID
	}
	return FormatValue(e.Fields[name])
}

// Name returns the entity's name field.
func (e Entity) Name() string {
	return e.Text(FieldName)
}

// Row renders the entity as one sheet row following columns.
func (e Entity) Row(columns []string) []string {
	row := make([]string, len(columns))
	for i, c := range columns {
		row[i] = e.Text(c)
	}
	return row
}

// CloneAll copies a slice of entities.
func CloneAll(in []Entity) []Entity {
	out := make([]Entity, len(in))
	for i, e := range in {
		out[i] = e.Clone()
	}
	return out
}
