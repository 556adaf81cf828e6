package types

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Field value types.
const (
	FieldText      = "text"
	FieldInteger   = "integer"
	FieldDecimal   = "decimal"
	FieldBoolean   = "boolean"
	FieldTimestamp = "timestamp"
)

// Reserved field names.
const (
	FieldID        = "id"
	FieldName      = "name"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
)

// Field describes one column of a collection.
type Field struct {
	Name     string
	Type     string
	Required bool
	// Rules holds go-playground/validator tags applied to the coerced value.
	Rules string
	// System fields are maintained by the store and ignored on input.
	System bool
}

// Schema declares the shape of a collection. Field order is the column order
// used on remote sheets and in import workbooks.
type Schema struct {
	Collection string
	Prefix     string
	Fields     []Field
	// Unique lists text fields that must be unique, case-insensitively,
	// among non-empty values.
	Unique    []string
	Singleton bool
	Derived   bool
}

func timestamps() []Field {
	return []Field{
		{Name: FieldCreatedAt, Type: FieldTimestamp, System: true},
		{Name: FieldUpdatedAt, Type: FieldTimestamp, System: true},
	}
}

func withTimestamps(fields ...Field) []Field {
	return append(fields, timestamps()...)
}

var schemas = map[string]Schema{
	CollectionCompany: {
		Collection: CollectionCompany,
		Prefix:     "CMP",
		Singleton:  true,
		Fields: withTimestamps(
			Field{Name: FieldName, Type: FieldText, Required: true, Rules: "max=200"},
			Field{Name: "legalName", Type: FieldText, Rules: "max=200"},
			Field{Name: "taxId", Type: FieldText, Rules: "max=50"},
			Field{Name: "email", Type: FieldText, Rules: "omitempty,email"},
			Field{Name: "phone", Type: FieldText, Rules: "max=50"},
			Field{Name: "address", Type: FieldText, Rules: "max=500"},
			Field{Name: "currency", Type: FieldText, Rules: "omitempty,len=3,alpha"},
		),
	},
	CollectionWarehouses: {
		Collection: CollectionWarehouses,
		Prefix:     "WH",
		Unique:     []string{FieldName},
		Fields: withTimestamps(
			Field{Name: FieldName, Type: FieldText, Required: true, Rules: "max=200"},
			Field{Name: "location", Type: FieldText, Rules: "max=500"},
			Field{Name: "isPrimary", Type: FieldBoolean},
		),
	},
	CollectionSuppliers: {
		Collection: CollectionSuppliers,
		Prefix:     "SUP",
		Unique:     []string{FieldName},
		Fields: withTimestamps(
			Field{Name: FieldName, Type: FieldText, Required: true, Rules: "max=200"},
			Field{Name: "contactName", Type: FieldText, Rules: "max=200"},
			Field{Name: "email", Type: FieldText, Rules: "omitempty,email"},
			Field{Name: "phone", Type: FieldText, Rules: "max=50"},
			Field{Name: "address", Type: FieldText, Rules: "max=500"},
		),
	},
	CollectionCustomers: {
		Collection: CollectionCustomers,
		Prefix:     "CUS",
		Unique:     []string{FieldName},
		Fields: withTimestamps(
			Field{Name: FieldName, Type: FieldText, Required: true, Rules: "max=200"},
			Field{Name: "contactName", Type: FieldText, Rules: "max=200"},
			Field{Name: "email", Type: FieldText, Rules: "omitempty,email"},
			Field{Name: "phone", Type: FieldText, Rules: "max=50"},
			Field{Name: "address", Type: FieldText, Rules: "max=500"},
		),
	},
	CollectionCategories: {
		Collection: CollectionCategories,
		Prefix:     "CAT",
		Unique:     []string{FieldName},
		Fields: withTimestamps(
			Field{Name: FieldName, Type: FieldText, Required: true, Rules: "max=200"},
			Field{Name: "description", Type: FieldText, Rules: "max=1000"},
		),
	},
	CollectionProducts: {
		Collection: CollectionProducts,
		Prefix:     "PRD",
		Unique:     []string{FieldName, "sku"},
		Fields: withTimestamps(
			Field{Name: FieldName, Type: FieldText, Required: true, Rules: "max=200"},
			Field{Name: "sku", Type: FieldText, Rules: "max=64"},
			Field{Name: "category", Type: FieldText, Rules: "max=200"},
			Field{Name: "unit", Type: FieldText, Rules: "max=32"},
			Field{Name: "stock", Type: FieldInteger, Rules: "gte=0"},
			Field{Name: "minStock", Type: FieldInteger, Rules: "gte=0"},
			Field{Name: "purchasePrice", Type: FieldDecimal, Rules: "gte=0"},
			Field{Name: "salePrice", Type: FieldDecimal, Rules: "gte=0"},
		),
	},
	CollectionOpeningStock: {
		Collection: CollectionOpeningStock,
		Prefix:     "OS",
		Derived:    true,
		Fields: withTimestamps(
			Field{Name: "warehouseId", Type: FieldText, Required: true},
			Field{Name: "productId", Type: FieldText, Required: true},
			Field{Name: "quantity", Type: FieldInteger, Rules: "gte=0"},
			Field{Name: "unitCost", Type: FieldDecimal, Rules: "gte=0"},
		),
	},
}

// SchemaFor returns the schema of the named collection.
// Unknown names yield an error wrapping ErrCollectionNotFound.
func SchemaFor(collection string) (Schema, error) {
	s, ok := schemas[collection]
	if !ok {
		return Schema{}, fmt.Errorf("%w: %q", ErrCollectionNotFound, collection)
	}
	return s, nil
}

// Field returns the named field definition.
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Columns returns the header row for the collection: the ID column followed
// by every field in schema order.
func (s Schema) Columns() []string {
	cols := make([]string, 0, len(s.Fields)+1)
	cols = append(cols, FieldID)
	for _, f := range s.Fields {
		cols = append(cols, f.Name)
	}
	return cols
}

// InputColumns returns the user-editable columns, used as import headers.
func (s Schema) InputColumns() []string {
	cols := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		if !f.System {
			cols = append(cols, f.Name)
		}
	}
	return cols
}

// FormatID renders the n-th identifier of the collection, e.g. WH-001.
func (s Schema) FormatID(n int64) string {
	return fmt.Sprintf("%s-%03d", s.Prefix, n)
}

// ParseID extracts the sequence number from an identifier of this
// collection. ok is false for foreign or malformed identifiers.
func (s Schema) ParseID(id string) (n int64, ok bool) {
	rest, found := strings.CutPrefix(id, s.Prefix+"-")
	if !found {
		return 0, false
	}
	n, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// Coerce converts value to the canonical Go type of the field: string,
// int64, decimal.Decimal, bool or time.Time. Strings are parsed, which lets
// sheet cells, workbook cells and JSON round-trips share one path. nil and
// blank strings coerce to nil.
func (f Field) Coerce(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	if s, ok := value.(string); ok && f.Type != FieldText {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, nil
		}
		value = s
	}

	switch f.Type {
	case FieldText:
		switch v := value.(type) {
		case string:
			return v, nil
		case fmt.Stringer:
			return v.String(), nil
		default:
			return FormatValue(v), nil
		}

	case FieldInteger:
		switch v := value.(type) {
		case int:
			return int64(v), nil
		case int32:
			return int64(v), nil
		case int64:
			return v, nil
		case float64:
			if v != math.Trunc(v) {
				return nil, fmt.Errorf("%s: %v is not a whole number", f.Name, v)
			}
			if v >= maxInt64Float || v < -maxInt64Float {
				return nil, fmt.Errorf("%s: %v is out of range", f.Name, v)
			}
			return int64(v), nil
		case decimal.Decimal:
			if !v.IsInteger() {
				return nil, fmt.Errorf("%s: %s is not a whole number", f.Name, v)
			}
			return f.intPart(v)
		case json.Number:
			return f.Coerce(v.String())
		case string:
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				d, derr := decimal.NewFromString(v)
				if derr != nil || !d.IsInteger() {
					return nil, fmt.Errorf("%s: %q is not a whole number", f.Name, v)
				}
				return f.intPart(d)
			}
			return n, nil
		}

	case FieldDecimal:
		switch v := value.(type) {
		case decimal.Decimal:
			return v, nil
		case int:
			return decimal.NewFromInt(int64(v)), nil
		case int64:
			return decimal.NewFromInt(v), nil
		case float64:
			return decimal.NewFromFloat(v), nil
		case json.Number:
			return f.Coerce(v.String())
		case string:
			d, err := decimal.NewFromString(v)
			if err != nil {
				return nil, fmt.Errorf("%s: %q is not a number", f.Name, v)
			}
			return d, nil
		}

	case FieldBoolean:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			switch strings.ToLower(v) {
			case "true", "yes", "y", "1":
				return true, nil
			case "false", "no", "n", "0":
				return false, nil
			}
			return nil, fmt.Errorf("%s: %q is not a boolean", f.Name, v)
		}

	case FieldTimestamp:
		switch v := value.(type) {
		case time.Time:
			return v.UTC(), nil
		case string:
			ts, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return nil, fmt.Errorf("%s: %q is not an RFC3339 timestamp", f.Name, v)
			}
			return ts.UTC(), nil
		}
	}

	return nil, fmt.Errorf("%s: unsupported value %v (%T) for %s field", f.Name, value, value, f.Type)
}

// maxInt64Float is 2^63, the first float64 above math.MaxInt64.
const maxInt64Float = float64(1 << 63)

var (
	minInt64Decimal = decimal.NewFromInt(math.MinInt64)
	maxInt64Decimal = decimal.NewFromInt(math.MaxInt64)
)

func (f Field) intPart(d decimal.Decimal) (any, error) {
	if d.LessThan(minInt64Decimal) || d.GreaterThan(maxInt64Decimal) {
		return nil, fmt.Errorf("%s: %s is out of range", f.Name, d)
	}
	return d.IntPart(), nil
}

// FormatValue renders a field value as cell text. nil becomes the empty
// string; structured values are JSON-encoded.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case decimal.Decimal:
		return x.String()
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}
