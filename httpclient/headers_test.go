// SPDX-License-Identifier: GPL-3.0-or-later

package httpclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeadersAddGetCaseInsensitive(t *testing.T) {
	h := NewHeaders()
	h.Add("Content-Type", "text/plain")
	v, ok := h.Get("content-type")
	assert.True(t, ok)
	assert.Equal(t, "text/plain", v)
}

func TestHeadersAddPreservesMultipleValues(t *testing.T) {
	h := NewHeaders()
	h.Add("Set-Cookie", "a=1")
	h.Add("Set-Cookie", "b=2")
	assert.Equal(t, []string{"a=1", "b=2"}, h.Values("set-cookie"))
}

func TestHeadersSetReplaces(t *testing.T) {
	h := NewHeaders()
	h.Add("X", "1")
	h.Set("X", "2")
	assert.Equal(t, []string{"2"}, h.Values("x"))
}

func TestHeadersDel(t *testing.T) {
	h := NewHeaders()
	h.Add("X", "1")
	h.Del("X")
	assert.False(t, h.Has("x"))
	assert.NotContains(t, h.Keys(), "X")
}

func TestHeadersKeysPreserveInsertionOrder(t *testing.T) {
	h := NewHeaders()
	h.Add("Zebra", "1")
	h.Add("Apple", "2")
	assert.Equal(t, []string{"Zebra", "Apple"}, h.Keys())
}

func TestHeadersReadOnlyPanicsOnAdd(t *testing.T) {
	h := NewHeaders()
	h.ReadOnly = true
	assert.Panics(t, func() { h.Add("X", "1") })
}

func TestHeadersReadOnlyPanicsOnSetAndDel(t *testing.T) {
	h := NewHeaders()
	h.ReadOnly = true
	assert.Panics(t, func() { h.Set("X", "1") })
	assert.Panics(t, func() { h.Del("X") })
}
