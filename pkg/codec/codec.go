// Package codec frames persisted blobs: JSON, zstd compressed, with an
// xxhash64 checksum so a torn or bit-rotted baseline is detected on load.
//
// Layout:
//
//	magic[4] "ALG1" | xxhash64(payload)[8] big endian | payload (zstd)
package codec

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
)

// ErrCorrupt is returned when a blob fails framing or checksum validation.
var ErrCorrupt = errors.New("codec: corrupt blob")

var magic = []byte("ALG1")

const headerLen = 4 + 8

var (
	encoder = sync.OnceValues(func() (*zstd.Encoder, error) {
		return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	decoder = sync.OnceValues(func() (*zstd.Decoder, error) {
		return zstd.NewReader(nil)
	})
)

// Marshal encodes v as a framed blob.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec.Marshal: %w", err)
	}
	enc, err := encoder()
	if err != nil {
		return nil, fmt.Errorf("codec.Marshal: zstd: %w", err)
	}
	payload := enc.EncodeAll(raw, nil)

	out := make([]byte, headerLen, headerLen+len(payload))
	copy(out, magic)
	binary.BigEndian.PutUint64(out[4:headerLen], xxhash.Sum64(payload))
	return append(out, payload...), nil
}

// Unmarshal validates and decodes a blob produced by Marshal into v.
func Unmarshal(blob []byte, v any) error {
	if len(blob) < headerLen || !bytes.Equal(blob[:4], magic) {
		return fmt.Errorf("%w: bad header", ErrCorrupt)
	}
	payload := blob[headerLen:]
	if want := binary.BigEndian.Uint64(blob[4:headerLen]); xxhash.Sum64(payload) != want {
		return fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	dec, err := decoder()
	if err != nil {
		return fmt.Errorf("codec.Unmarshal: zstd: %w", err)
	}
	raw, err := dec.DecodeAll(payload, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("codec.Unmarshal: %w", err)
	}
	return nil
}
