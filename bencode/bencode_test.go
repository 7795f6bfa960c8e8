package bencode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeSortsKeys(t *testing.T) {
	require := require.New(t)

	v := NewDict()
	v.Set("spam", NewString("eggs"))
	v.Set("cow", NewString("moo"))

	b, err := Marshal(v)
	require.NoError(err)
	require.Equal("d3:cow3:moo4:spam4:eggse", string(b))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	require := require.New(t)

	v := NewDict()
	v.Set("name", NewString("Example Movie"))
	v.Set("length", NewInt(1048576))
	v.Set("list", NewList(NewInt(1), NewInt(2), NewString("three")))
	v.Set("nested", NewDict().Set("a", NewInt(-7)))

	b, err := Marshal(v)
	require.NoError(err)

	decoded, err := Unmarshal(b)
	require.NoError(err)

	b2, err := Marshal(decoded)
	require.NoError(err)
	require.Equal(b, b2)
}

func TestDecodeList(t *testing.T) {
	require := require.New(t)

	v, err := Unmarshal([]byte("li1ei2e4:spam5:helloe"))
	require.NoError(err)
	require.Equal(KindList, v.Kind)
	require.Len(v.List, 4)

	n, err := v.List[0].AsInt()
	require.NoError(err)
	require.EqualValues(1, n)

	s, err := v.List[2].AsString()
	require.NoError(err)
	require.Equal("spam", s)
}

func TestDecodeMalformed(t *testing.T) {
	require := require.New(t)

	_, err := Unmarshal([]byte("i"))
	require.Error(err)

	_, err = Unmarshal([]byte("5:abc"))
	require.Error(err)

	_, err = Unmarshal([]byte("x"))
	require.Error(err)
}

func TestDecodeDepthExceeded(t *testing.T) {
	require := require.New(t)

	var b []byte
	for i := 0; i < maxDepth+10; i++ {
		b = append(b, 'l')
	}
	_, err := Unmarshal(b)
	require.Error(err)
}

func TestDecodeNegativeInt(t *testing.T) {
	require := require.New(t)

	v, err := Unmarshal([]byte("i-42e"))
	require.NoError(err)
	n, err := v.AsInt()
	require.NoError(err)
	require.EqualValues(-42, n)
}
