// Package compression holds the closed set of codecs an artifact can be
// encoded with before upload.
package compression

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type selects a codec.
type Type string

const (
	TypeNone Type = "none"
	TypeGzip Type = "gzip"
	TypeZstd Type = "zstd"
	TypeLZ4  Type = "lz4"
)

// Default is used when no algorithm is configured.
const Default = TypeGzip

// Types lists every supported codec.
func Types() []Type {
	return []Type{TypeNone, TypeGzip, TypeZstd, TypeLZ4}
}

// ParseType maps a configured name to a Type. Empty selects Default.
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case "":
		return Default, nil
	case TypeNone, TypeGzip, TypeZstd, TypeLZ4:
		return t, nil
	default:
		names := make([]string, 0, len(Types()))
		for _, t := range Types() {
			names = append(names, string(t))
		}
		return "", fmt.Errorf("unsupported compression %q (want one of %s)", s, strings.Join(names, ", "))
	}
}

// Compressor encodes an artifact. Implementations are stateless from the
// caller's point of view and safe for concurrent use.
type Compressor interface {
	// Suffix is the file extension appended to the artifact name ("" for none).
	Suffix() string
	// Compress returns the encoded form of data. data is never modified.
	Compress(data []byte) ([]byte, error)
}

// Error reports a codec failure.
type Error struct {
	Algorithm Type
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("compress (%s): %v", e.Algorithm, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns the compressor for t.
func New(t Type) (Compressor, error) {
	switch t {
	case TypeNone:
		return None{}, nil
	case TypeGzip:
		return Gzip{}, nil
	case TypeZstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, &Error{Algorithm: TypeZstd, Err: err}
		}
		return &Zstd{enc: enc}, nil
	case TypeLZ4:
		return LZ4{}, nil
	default:
		return nil, fmt.Errorf("unsupported compression %q", t)
	}
}

// None is the identity transform.
type None struct{}

func (None) Suffix() string { return "" }

func (None) Compress(data []byte) ([]byte, error) {
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Gzip writes a single gzip member at best compression.
type Gzip struct{}

func (Gzip) Suffix() string { return "gz" }

func (Gzip) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, &Error{Algorithm: TypeGzip, Err: err}
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, &Error{Algorithm: TypeGzip, Err: err}
	}
	if err := w.Close(); err != nil {
		return nil, &Error{Algorithm: TypeGzip, Err: err}
	}
	return buf.Bytes(), nil
}

// Zstd produces a single zstd frame. The encoder's EncodeAll is safe for
// concurrent use, so one instance serves every run.
type Zstd struct {
	enc *zstd.Encoder
}

func (*Zstd) Suffix() string { return "zst" }

func (z *Zstd) Compress(data []byte) ([]byte, error) {
	return z.enc.EncodeAll(data, make([]byte, 0, len(data)/2+64)), nil
}

// LZ4 writes the LZ4 frame format understood by the lz4 command line tool.
type LZ4 struct{}

func (LZ4) Suffix() string { return "lz4" }

func (LZ4) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if err := w.Apply(lz4.CompressionLevelOption(lz4.Level9)); err != nil {
		return nil, &Error{Algorithm: TypeLZ4, Err: err}
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, &Error{Algorithm: TypeLZ4, Err: err}
	}
	if err := w.Close(); err != nil {
		return nil, &Error{Algorithm: TypeLZ4, Err: err}
	}
	return buf.Bytes(), nil
}
