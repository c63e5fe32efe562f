package compression

import (
	"bytes"
	stdgzip "compress/gzip"
	"io"
	"math/rand"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// decompress uses the standard decoder of each format, the same ones an
// operator restoring by hand would use.
func decompress(t *testing.T, typ Type, data []byte) []byte {
	t.Helper()
	switch typ {
	case TypeNone:
		return data
	case TypeGzip:
		r, err := stdgzip.NewReader(bytes.NewReader(data))
		require.NoError(t, err)
		defer r.Close()
		out, err := io.ReadAll(r)
		require.NoError(t, err)
		return out
	case TypeZstd:
		d, err := zstd.NewReader(nil)
		require.NoError(t, err)
		defer d.Close()
		out, err := d.DecodeAll(data, nil)
		require.NoError(t, err)
		return out
	case TypeLZ4:
		out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
		require.NoError(t, err)
		return out
	}
	t.Fatalf("unknown type %q", typ)
	return nil
}

func inputs() map[string][]byte {
	random := make([]byte, 64*1024)
	rand.New(rand.NewSource(42)).Read(random)
	return map[string][]byte{
		"empty":  {},
		"text":   []byte("some text"),
		"json":   bytes.Repeat([]byte(`{"scb":["0000000000000001abcdef"]}`), 200),
		"binary": random,
		"zeros":  make([]byte, 1<<20),
	}
}

func TestRoundTrip(t *testing.T) {
	for _, typ := range Types() {
		c, err := New(typ)
		require.NoError(t, err)
		for name, in := range inputs() {
			t.Run(string(typ)+"/"+name, func(t *testing.T) {
				orig := append([]byte(nil), in...)
				out, err := c.Compress(in)
				require.NoError(t, err)
				assert.Equal(t, orig, in, "input must not be modified")
				got := decompress(t, typ, out)
				assert.True(t, bytes.Equal(orig, got), "round trip mismatch")
			})
		}
	}
}

func TestSuffix(t *testing.T) {
	want := map[Type]string{TypeNone: "", TypeGzip: "gz", TypeZstd: "zst", TypeLZ4: "lz4"}
	for typ, suffix := range want {
		c, err := New(typ)
		require.NoError(t, err)
		assert.Equal(t, suffix, c.Suffix(), typ)
	}
}

func TestNone_ReturnsCopy(t *testing.T) {
	in := []byte("abc")
	out, err := None{}.Compress(in)
	require.NoError(t, err)
	out[0] = 'x'
	assert.Equal(t, []byte("abc"), in)
}

func TestCompress_ShrinksRepetitiveInput(t *testing.T) {
	in := make([]byte, 1<<20)
	for _, typ := range []Type{TypeGzip, TypeZstd, TypeLZ4} {
		c, err := New(typ)
		require.NoError(t, err)
		out, err := c.Compress(in)
		require.NoError(t, err)
		assert.Less(t, len(out), len(in)/10, typ)
	}
}

func TestParseType(t *testing.T) {
	got, err := ParseType("")
	require.NoError(t, err)
	assert.Equal(t, Default, got)

	got, err = ParseType(" ZSTD ")
	require.NoError(t, err)
	assert.Equal(t, TypeZstd, got)

	_, err = ParseType("brotli")
	assert.EqualError(t, err, `unsupported compression "brotli" (want one of none, gzip, zstd, lz4)`)

	_, err = New(Type("brotli"))
	assert.Error(t, err)
}

func TestError_Unwrap(t *testing.T) {
	cause := io.ErrShortWrite
	err := &Error{Algorithm: TypeGzip, Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "compress (gzip): short write", err.Error())
}
