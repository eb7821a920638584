package model

//
// Compressor
//

// Compressor is the optional payload codec attached to a host. Compression
// happens after the reliability framing on send and before it on receive;
// only data payloads go through the codec, never headers.
type Compressor interface {
	// Compress encodes the passed payload.
	Compress(payload []byte) []byte

	// Decompress decodes the passed payload. A malformed stream
	// yields an error and the caller discards the packet.
	Decompress(payload []byte) ([]byte, error)
}
