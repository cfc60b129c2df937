// Package codec holds the pure functions a reader applies to broker payloads:
// decompression, merged-message unpacking, packed-response decoding and schema
// lookup.
package codec

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/arloliu/mqread/types"
)

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

func zstdCodecs() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEncoder, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zstdErr != nil {
			return
		}
		zstdDecoder, zstdErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})

	return zstdEncoder, zstdDecoder, zstdErr
}

// Compress encodes data with the given codec. CompressNone returns data unchanged.
func Compress(ct types.CompressType, data []byte) ([]byte, error) {
	switch ct {
	case types.CompressNone:
		return data, nil
	case types.CompressZstd:
		enc, _, err := zstdCodecs()
		if err != nil {
			return nil, fmt.Errorf("zstd encoder: %w", err)
		}

		return enc.EncodeAll(data, nil), nil
	case types.CompressLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}

		return buf.Bytes(), nil
	case types.CompressSnappy:
		return snappy.Encode(nil, data), nil
	default:
		return nil, types.NewError(types.CodeInvalidParameters, "unknown compress type %d", ct)
	}
}

// Decompress reverses Compress. Failures carry CodeDecompressFailed.
func Decompress(ct types.CompressType, data []byte) ([]byte, error) {
	switch ct {
	case types.CompressNone:
		return data, nil
	case types.CompressZstd:
		_, dec, err := zstdCodecs()
		if err != nil {
			return nil, types.WrapError(types.CodeDecompressFailed, err)
		}
		out, err := dec.DecodeAll(data, nil)
		if err != nil {
			return nil, types.WrapError(types.CodeDecompressFailed, err)
		}

		return out, nil
	case types.CompressLZ4:
		out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
		if err != nil {
			return nil, types.WrapError(types.CodeDecompressFailed, err)
		}

		return out, nil
	case types.CompressSnappy:
		out, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, types.WrapError(types.CodeDecompressFailed, err)
		}

		return out, nil
	default:
		return nil, types.NewError(types.CodeDecompressFailed, "unknown compress type %d", ct)
	}
}
