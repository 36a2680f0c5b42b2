package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeProvider{name: "b"})
	r.Register(&fakeProvider{name: "a"})

	assert.Equal(t, []string{"a", "b"}, r.Names())
	assert.True(t, r.Has("a"))
	assert.Len(t, r.Available(), 2)

	_, err := r.Get("zzz")
	assert.Error(t, err)
}

func TestRouterCall(t *testing.T) {
	fake := &fakeProvider{name: "openrouter", content: "answer"}
	reg := NewRegistry()
	reg.Register(fake)

	router, err := NewRouter(reg, map[string]Binding{
		"ds": {Provider: "openrouter", Model: "deepseek/deepseek-r1"},
	})
	require.NoError(t, err)

	got, err := router.Call(context.Background(), "ds", "prompt")
	require.NoError(t, err)
	assert.Equal(t, "answer", got)
	require.Len(t, fake.reqs, 1)
	assert.Equal(t, "deepseek/deepseek-r1", fake.reqs[0].Model)
	assert.Equal(t, "prompt", fake.reqs[0].Prompt)

	b, ok := router.Binding("ds")
	assert.True(t, ok)
	assert.Equal(t, "openrouter", b.Provider)

	_, err = router.Call(context.Background(), "unknown", "prompt")
	assert.Error(t, err)
}

func TestRouterRejectsUnknownProvider(t *testing.T) {
	_, err := NewRouter(NewRegistry(), map[string]Binding{"x": {Provider: "nope"}})
	assert.Error(t, err)

	_, err = NewRouter(nil, nil)
	assert.Error(t, err)
}

func TestRouterWrapsErrors(t *testing.T) {
	cause := errors.New("down")
	reg := NewRegistry()
	reg.Register(&fakeProvider{name: "p", err: cause})
	router, err := NewRouter(reg, map[string]Binding{"a": {Provider: "p"}})
	require.NoError(t, err)

	_, err = router.Call(context.Background(), "a", "x")
	assert.ErrorIs(t, err, cause)
}
