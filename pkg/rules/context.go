package rules

import (
	"errors"
	"maps"

	"github.com/tidwall/gjson"
)

// Context is the per-evaluation input that conditions and templates read from.
// It is owned by the caller and never stored by the engine.
type Context map[string]interface{}

var ErrContextNotObject = errors.New("context must be a json object")

func NewContext(values map[string]interface{}) Context {
	ctx := make(Context, len(values))
	for k, v := range values {
		ctx[k] = Normalize(v)
	}
	return ctx
}

// ContextFromJSON builds a context from the top level keys of a json object,
// eg. the payload of a nats message.
func ContextFromJSON(data []byte) (Context, error) {
	if len(data) == 0 {
		return Context{}, nil
	}
	if !gjson.ValidBytes(data) {
		return nil, ErrContextNotObject
	}
	res := gjson.ParseBytes(data)
	if !res.IsObject() {
		return nil, ErrContextNotObject
	}
	ctx := Context{}
	res.ForEach(func(key, value gjson.Result) bool {
		ctx[key.String()] = value.Value()
		return true
	})
	return ctx, nil
}

func (ctx Context) Get(key string) (interface{}, bool) {
	if ctx == nil {
		return nil, false
	}
	v, ok := ctx[key]
	return v, ok
}

func (ctx Context) With(key string, value interface{}) Context {
	c := maps.Clone(ctx)
	if c == nil {
		c = Context{}
	}
	c[key] = value
	return c
}
