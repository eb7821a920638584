// Package bytesx provides functions operating on bytes.
//
// Specifically we implement these operations:
//
// 1. generating random bytes;
//
// 2. reading and writing big-endian integers on wire buffers.
package bytesx

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"io"
)

// GenRandomBytes returns an array of bytes with the given size using
// a CSRNG, on success, or an error, in case of failure.
func GenRandomBytes(size int) ([]byte, error) {
	b := make([]byte, size)
	_, err := rand.Read(b)
	return b, err
}

// GenRandomUint32 returns a random uint32 using a CSRNG.
func GenRandomUint32() (uint32, error) {
	b, err := GenRandomBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// ReadUint16 is a convenience function that reads a uint16 from a 2-byte
// buffer, returning an error if the operation failed.
func ReadUint16(buf *bytes.Buffer) (uint16, error) {
	var numBuf [2]byte
	_, err := io.ReadFull(buf, numBuf[:])
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(numBuf[:]), nil
}

// ReadUint32 is a convenience function that reads a uint32 from a 4-byte
// buffer, returning an error if the operation failed.
func ReadUint32(buf *bytes.Buffer) (uint32, error) {
	var numBuf [4]byte
	_, err := io.ReadFull(buf, numBuf[:])
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(numBuf[:]), nil
}

// WriteUint16 is a convenience function that appends to the given buffer
// 2 bytes containing the big-endian representation of the given value.
func WriteUint16(buf *bytes.Buffer, val uint16) {
	var numBuf [2]byte
	binary.BigEndian.PutUint16(numBuf[:], val)
	buf.Write(numBuf[:])
}

// WriteUint32 is a convenience function that appends to the given buffer
// 4 bytes containing the big-endian representation of the given value.
func WriteUint32(buf *bytes.Buffer, val uint32) {
	var numBuf [4]byte
	binary.BigEndian.PutUint32(numBuf[:], val)
	buf.Write(numBuf[:])
}
