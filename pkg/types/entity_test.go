package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEntityCloneIsIndependent(t *testing.T) {
	e := Entity{ID: "WH-001", Collection: CollectionWarehouses, Fields: Fields{"name": "Main"}}

	c := e.Clone()
	c.Fields["name"] = "Changed"

	assert.Equal(t, "Main", e.Fields["name"], "original must not observe clone mutation")
	assert.Equal(t, "Changed", c.Fields["name"])
}

func TestEntityRow(t *testing.T) {
	e := Entity{ID: "PRD-001", Collection: CollectionProducts, Fields: Fields{
		"name":  "Widget",
		"stock": int64(10),
		"sku":   nil,
	}}

	row := e.Row([]string{FieldID, "name", "sku", "stock", "missing"})
	assert.Equal(t, []string{"PRD-001", "Widget", "", "10", ""}, row)
}

func TestEntityGetTreatsNilAsUnset(t *testing.T) {
	e := Entity{Fields: Fields{"a": nil, "b": "x"}}

	_, ok := e.Get("a")
	assert.False(t, ok)
	v, ok := e.Get("b")
	assert.True(t, ok)
	assert.Equal(t, "x", v)
}

func TestTypedErrorsUnwrap(t *testing.T) {
	assert.True(t, errors.Is(&ValidationError{Collection: "products", Reason: "x"}, ErrValidation))
	assert.True(t, errors.Is(&NotFoundError{Collection: "products", ID: "PRD-009"}, ErrNotFound))
	assert.True(t, errors.Is(&IncompleteSetupError{Missing: []string{"products"}}, ErrIncompleteSetup))

	cause := errors.New("dial tcp: timeout")
	err := Unavailable("write products", cause)
	assert.True(t, errors.Is(err, ErrRemoteUnavailable))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, errors.Is(err, ErrRemoteRejected))

	assert.True(t, errors.Is(Rejected("create", nil), ErrRemoteRejected))
}
