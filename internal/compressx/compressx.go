// Package compressx contains the bundled payload compressor. It wraps the
// s2 block format, which is self-framing and fails loudly on a corrupt
// stream, matching the contract of [model.Compressor].
package compressx

import (
	"fmt"

	"github.com/klauspost/compress/s2"
	"github.com/renet-go/renet/internal/model"
)

// S2Compressor implements [model.Compressor] using the s2 block format.
// The zero value is ready to use.
type S2Compressor struct{}

var _ model.Compressor = S2Compressor{}

// Compress implements model.Compressor
func (S2Compressor) Compress(payload []byte) []byte {
	return s2.Encode(nil, payload)
}

// Decompress implements model.Compressor
func (S2Compressor) Decompress(payload []byte) ([]byte, error) {
	out, err := s2.Decode(nil, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", model.ErrCorruptPacket, err)
	}
	return out, nil
}
