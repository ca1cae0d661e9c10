package heap

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type value struct {
	text   string
	closed *[]string
}

func (v *value) Close() error {
	if v.closed != nil {
		*v.closed = append(*v.closed, v.text)
	}

	return nil
}

type valueSpec struct {
	created int
	closed  []string
}

func (s *valueSpec) Name() string { return "Value" }

func (s *valueSpec) Create(h *Heap, config json.RawMessage) (any, error) {
	var c struct {
		Text string          `json:"text"`
		Ref  json.RawMessage `json:"ref"`
		Fail bool            `json:"fail"`
	}

	if err := json.Unmarshal(config, &c); err != nil {
		return nil, err
	}

	if c.Fail {
		return nil, errors.New("failed on purpose")
	}

	if len(c.Ref) > 0 {
		ref, err := ResolveAs[*value](h, c.Ref)
		if err != nil {
			return nil, err
		}

		c.Text = c.Text + ref.text
	}

	s.created++
	return &value{text: h.Expand(c.Text), closed: &s.closed}, nil
}

func decl(name, config string) Declaration {
	return Declaration{Name: name, Type: "Value", Config: json.RawMessage(config)}
}

func TestLazyInstantiation(t *testing.T) {
	spec := &valueSpec{}
	h := New(Options{Name: "root", Registry: NewRegistry(spec)})
	require.NoError(t, h.Declare(decl("a", `{"text": "foo"}`)))
	assert.Equal(t, 0, spec.created)

	v, err := GetAs[*value](h, "a")
	require.NoError(t, err)
	assert.Equal(t, "foo", v.text)

	again, err := h.Get("a")
	require.NoError(t, err)
	assert.Same(t, v, again)
	assert.Equal(t, 1, spec.created)
}

func TestChildShadowsAndInheritsParent(t *testing.T) {
	spec := &valueSpec{}
	parent := New(Options{Name: "router", Registry: NewRegistry(spec)})
	require.NoError(t, parent.Declare(decl("a", `{"text": "parent-a"}`), decl("b", `{"text": "parent-b"}`)))

	child := New(Options{Name: "route", Parent: parent})
	require.NoError(t, child.Declare(decl("a", `{"text": "child-a"}`)))

	a, err := GetAs[*value](child, "a")
	require.NoError(t, err)
	assert.Equal(t, "child-a", a.text)

	b, err := GetAs[*value](child, "b")
	require.NoError(t, err)
	assert.Equal(t, "parent-b", b.text)

	pa, err := GetAs[*value](parent, "a")
	require.NoError(t, err)
	assert.Equal(t, "parent-a", pa.text)
}

func TestResolve(t *testing.T) {
	spec := &valueSpec{}
	h := New(Options{Name: "root", Registry: NewRegistry(spec)})
	require.NoError(t, h.Declare(decl("a", `{"text": "foo"}`)))

	for _, tt := range []struct {
		name string
		ref  string
		want string
		err  error
	}{{
		name: "by name",
		ref:  `"a"`,
		want: "foo",
	}, {
		name: "inline",
		ref:  `{"type": "Value", "config": {"text": "bar"}}`,
		want: "bar",
	}, {
		name: "inline named",
		ref:  `{"name": "baz", "type": "Value", "config": {"text": "baz"}}`,
		want: "baz",
	}, {
		name: "inline with nested reference",
		ref:  `{"type": "Value", "config": {"text": "x-", "ref": "a"}}`,
		want: "x-foo",
	}, {
		name: "missing",
		ref:  `"unknown"`,
		err:  ErrNotFound,
	}, {
		name: "null",
		ref:  `null`,
		err:  ErrInvalidReference,
	}, {
		name: "number",
		ref:  `42`,
		err:  ErrInvalidReference,
	}, {
		name: "inline without type",
		ref:  `{"config": {}}`,
		err:  ErrInvalidReference,
	}, {
		name: "unknown type",
		ref:  `{"type": "Unknown"}`,
		err:  ErrUnknownType,
	}} {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ResolveAs[*value](h, json.RawMessage(tt.ref))
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, v.text)
		})
	}
}

func TestCycle(t *testing.T) {
	h := New(Options{Registry: NewRegistry(&valueSpec{})})
	require.NoError(t, h.Declare(
		decl("a", `{"ref": "b"}`),
		decl("b", `{"ref": "a"}`),
	))

	_, err := h.Get("a")
	assert.ErrorIs(t, err, ErrCycle)
}

func TestWrongType(t *testing.T) {
	h := New(Options{Registry: NewRegistry(&valueSpec{})})
	h.Put("text", "just a string")

	_, err := GetAs[*value](h, "text")
	assert.ErrorIs(t, err, ErrWrongType)
}

func TestDuplicateDeclaration(t *testing.T) {
	h := New(Options{Registry: NewRegistry(&valueSpec{})})
	require.NoError(t, h.Declare(decl("a", `{}`)))
	assert.ErrorIs(t, h.Declare(decl("a", `{}`)), ErrDuplicate)
	assert.ErrorIs(t, h.Declare(Declaration{Type: "Value"}), ErrInvalidReference)
}

func TestFailedCreation(t *testing.T) {
	h := New(Options{Name: "route", Registry: NewRegistry(&valueSpec{})})
	require.NoError(t, h.Declare(decl("a", `{"fail": true}`)))

	_, err := h.Get("a")
	assert.ErrorContains(t, err, "failed on purpose")
	assert.ErrorContains(t, err, `failed to create "a"`)
}

func TestExpandProperties(t *testing.T) {
	parent := New(Options{Properties: map[string]string{"host": "example.org", "port": "80"}})
	child := New(Options{Parent: parent, Properties: map[string]string{"port": "8080"}})

	assert.Equal(t, "http://example.org:8080/&{unknown}", child.Expand("http://&{host}:&{port}/&{unknown}"))
	assert.Equal(t, "no placeholders", child.Expand("no placeholders"))
	assert.Equal(t, "broken &{host", child.Expand("broken &{host"))
}

func TestDestroyClosesInReverseOrder(t *testing.T) {
	spec := &valueSpec{}
	parent := New(Options{Registry: NewRegistry(spec)})
	require.NoError(t, parent.Declare(decl("shared", `{"text": "shared"}`)))

	child := New(Options{Parent: parent})
	require.NoError(t, child.Declare(decl("first", `{"text": "first"}`), decl("second", `{"text": "second"}`)))

	for _, name := range []string{"first", "shared", "second"} {
		_, err := child.Get(name)
		require.NoError(t, err)
	}

	require.NoError(t, child.Destroy())
	assert.Equal(t, []string{"second", "first"}, spec.closed)

	require.NoError(t, child.Destroy())
	assert.Equal(t, []string{"second", "first"}, spec.closed)

	_, err := child.Get("first")
	assert.ErrorIs(t, err, ErrDestroyed)

	_, err = parent.Get("shared")
	assert.NoError(t, err)
}

func TestDeclareAfterDestroy(t *testing.T) {
	h := New(Options{Registry: NewRegistry(&valueSpec{})})
	require.NoError(t, h.Destroy())

	assert.ErrorIs(t, h.Declare(decl("late", `{"text": "late"}`)), ErrDestroyed)

	_, err := h.Resolve(json.RawMessage(`{"name": "late", "type": "Value"}`))
	assert.ErrorIs(t, err, ErrDestroyed)
}
