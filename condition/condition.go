/*
Package condition implements the route conditions: boolean expressions
evaluated against the incoming requests, deciding whether a route accepts
a request.

Conditions are Lua expressions, compiled once, and evaluated with a pool
of Lua states, since a single state cannot be used from multiple
goroutines. Close releases the pooled states. The expression can use the following globals:

	request.method       request method
	request.path         URL path
	request.host         requested host
	request.query        raw query
	request.remote_addr  remote address of the client
	header(name)         first value of a request header, or nil
	param(name)          first value of a query parameter, or nil

Examples:

	request.method == "POST" and request.path == "/login"
	string.find(request.path, "^/api/") ~= nil and header("X-Version") == "2"

The evaluation is bound to the context of the request.
*/
package condition

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

var ErrInvalidExpression = errors.New("invalid condition expression")

// Condition is a compiled expression.
type Condition struct {
	source string
	proto  *lua.FunctionProto

	mu     sync.Mutex
	idle   []*lua.LState
	closed bool
}

// Compile compiles an expression. It fails when the expression is
// empty, or is not a syntactically valid Lua expression.
func Compile(expr string) (*Condition, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidExpression)
	}

	chunk, err := parse.Parse(strings.NewReader("return "+expr), "<condition>")
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidExpression, expr, err)
	}

	proto, err := lua.Compile(chunk, "<condition>")
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidExpression, expr, err)
	}

	return &Condition{source: expr, proto: proto}, nil
}

func newState() *lua.LState {
	l := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.StringLibName, lua.OpenString},
		{lua.TabLibName, lua.OpenTable},
		{lua.MathLibName, lua.OpenMath},
	} {
		l.Push(l.NewFunction(lib.open))
		l.Push(lua.LString(lib.name))
		l.Call(1, 0)
	}

	return l
}

func (c *Condition) get() *lua.LState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := len(c.idle); n > 0 {
		l := c.idle[n-1]
		c.idle = c.idle[:n-1]
		return l
	}

	return newState()
}

func (c *Condition) put(l *lua.LState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		l.Close()
		return
	}

	c.idle = append(c.idle, l)
}

// Close releases the Lua states of the condition. States in use are
// released when their evaluation finishes.
func (c *Condition) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for _, l := range c.idle {
		l.Close()
	}

	c.idle = nil
}

// Idle returns the number of pooled Lua states.
func (c *Condition) Idle() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.idle)
}

// String returns the source of the expression.
func (c *Condition) String() string {
	return c.source
}

func optionalString(s string, ok bool) lua.LValue {
	if !ok {
		return lua.LNil
	}

	return lua.LString(s)
}

func firstValue(values map[string][]string, key string) (string, bool) {
	v, ok := values[key]
	if !ok || len(v) == 0 {
		return "", false
	}

	return v[0], true
}

func (c *Condition) bindRequest(l *lua.LState, r *http.Request) {
	t := l.NewTable()
	t.RawSetString("method", lua.LString(r.Method))
	t.RawSetString("path", lua.LString(r.URL.Path))
	t.RawSetString("host", lua.LString(r.Host))
	t.RawSetString("query", lua.LString(r.URL.RawQuery))
	t.RawSetString("remote_addr", lua.LString(r.RemoteAddr))
	l.SetGlobal("request", t)

	l.SetGlobal("header", l.NewFunction(func(l *lua.LState) int {
		name := http.CanonicalHeaderKey(l.CheckString(1))
		l.Push(optionalString(firstValue(r.Header, name)))
		return 1
	}))

	query := r.URL.Query()
	l.SetGlobal("param", l.NewFunction(func(l *lua.LState) int {
		l.Push(optionalString(firstValue(query, l.CheckString(1))))
		return 1
	}))
}

// Eval evaluates the expression for the request. Any value other than nil
// and false counts as true.
func (c *Condition) Eval(r *http.Request) (bool, error) {
	l := c.get()

	l.SetContext(r.Context())
	c.bindRequest(l, r)
	l.Push(l.NewFunctionFromProto(c.proto))
	err := l.PCall(0, 1, nil)
	l.RemoveContext()

	if err != nil {
		// a state that failed may be left with a dirty stack
		l.Close()
		return false, fmt.Errorf("failed to evaluate condition %q: %w", c.source, err)
	}

	result := l.Get(-1)
	l.Pop(1)
	c.put(l)
	return lua.LVAsBool(result), nil
}
