package compress

import (
	"compress/gzip"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

const (
	TypeNone = "none"
	TypeGzip = "gzip"
	TypeZstd = "zstd"
)

// DefaultLevel balances backup duration against artifact size. Maximal
// compression is deliberately not the default; pass an explicit level to
// override.
const DefaultLevel = 6

// Extension returns the artifact suffix for a compression kind.
func Extension(kind string) string {
	switch kind {
	case TypeGzip:
		return ".gz"
	case TypeZstd:
		return ".zst"
	default:
		return ""
	}
}

// WrapWriter wraps w with the requested compressor. Level 0 selects
// DefaultLevel.
func WrapWriter(kind string, w io.Writer, level int) (io.WriteCloser, error) {
	if level <= 0 {
		level = DefaultLevel
	}
	switch kind {
	case "", TypeNone:
		return nopWriteCloser{w}, nil
	case TypeGzip:
		if level > gzip.BestCompression {
			level = gzip.BestCompression
		}
		return gzip.NewWriterLevel(w, level)
	case TypeZstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstdLevel(level)))
	default:
		return nil, fmt.Errorf("unsupported compression: %s", kind)
	}
}

// WrapReader wraps r with the matching decompressor.
func WrapReader(kind string, r io.Reader) (io.ReadCloser, error) {
	switch kind {
	case "", TypeNone:
		return io.NopCloser(r), nil
	case TypeGzip:
		return gzip.NewReader(r)
	case TypeZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zstdReadCloser{Decoder: dec}, nil
	default:
		return nil, fmt.Errorf("unsupported compression: %s", kind)
	}
}

// zstdLevel maps a gzip-style 1..9 level onto zstd encoder levels.
func zstdLevel(level int) zstd.EncoderLevel {
	switch {
	case level <= 2:
		return zstd.SpeedFastest
	case level <= 6:
		return zstd.SpeedDefault
	case level <= 8:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

type nopWriteCloser struct{ io.Writer }

func (n nopWriteCloser) Close() error { return nil }

type zstdReadCloser struct{ *zstd.Decoder }

func (z zstdReadCloser) Close() error {
	z.Decoder.Close()
	return nil
}
