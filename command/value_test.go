package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaojinao/cellium/errors"
)

func TestDecodeJSONPreservesKeyOrder(t *testing.T) {
	v, err := DecodeJSON([]byte(`{"zeta":1,"alpha":2,"mid":3}`))
	require.NoError(t, err)
	require.Equal(t, KindMap, v.Kind())

	assert.Equal(t, []string{"zeta", "alpha", "mid"}, v.AsMap().Keys())

	data, err := v.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"zeta":1,"alpha":2,"mid":3}`, string(data))
}

func TestDecodeJSONNested(t *testing.T) {
	v, err := DecodeJSON([]byte(`{"user":{"name":"a"},"tags":["x","y"],"n":4.5,"ok":true,"none":null}`))
	require.NoError(t, err)

	m := v.AsMap()
	user, _ := m.Get("user")
	assert.Equal(t, KindMap, user.Kind())

	tags, _ := m.Get("tags")
	require.Equal(t, KindSeq, tags.Kind())
	assert.Equal(t, "x", tags.AsSeq()[0].Text())

	n, _ := m.Get("n")
	assert.Equal(t, 4.5, n.Float())

	ok, _ := m.Get("ok")
	assert.True(t, ok.Truth())

	none, _ := m.Get("none")
	assert.True(t, none.IsNull())
}

func TestDecodeJSONTrailingGarbage(t *testing.T) {
	_, err := DecodeJSON([]byte(`{"a":1} extra`))
	assert.Error(t, err)
}

func TestFromAnySupportedTypes(t *testing.T) {
	v, err := FromAny("text")
	require.NoError(t, err)
	assert.Equal(t, "text", v.Text())

	v, err = FromAny(42)
	require.NoError(t, err)
	assert.Equal(t, 42.0, v.Float())

	v, err = FromAny(true)
	require.NoError(t, err)
	assert.True(t, v.Truth())

	v, err = FromAny(nil)
	require.NoError(t, err)
	assert.True(t, v.IsNull())

	v, err = FromAny([]any{"a", 1})
	require.NoError(t, err)
	assert.Equal(t, KindSeq, v.Kind())
}

func TestFromAnyRejectsNonSerializable(t *testing.T) {
	_, err := FromAny(make(chan int))
	require.ErrorIs(t, err, errors.ErrNotSerializable)

	_, err = FromAny(struct{ X int }{1})
	require.ErrorIs(t, err, errors.ErrNotSerializable)
}

func TestEncodeWireForms(t *testing.T) {
	s, err := String("plain").Encode()
	require.NoError(t, err)
	assert.Equal(t, "plain", s)

	// Integral numbers render without a decimal point
	s, err = Number(2).Encode()
	require.NoError(t, err)
	assert.Equal(t, "2", s)

	s, err = Number(2.5).Encode()
	require.NoError(t, err)
	assert.Equal(t, "2.5", s)

	m := NewMap()
	m.Set("status", String("success"))
	s, err = MapValue(m).Encode()
	require.NoError(t, err)
	assert.Equal(t, `{"status":"success"}`, s)
}
