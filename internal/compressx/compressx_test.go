package compressx

import (
	"bytes"
	"errors"
	"testing"

	"github.com/renet-go/renet/internal/model"
)

func Test_S2Compressor_roundTrip(t *testing.T) {
	c := S2Compressor{}
	payload := bytes.Repeat([]byte("reliable transport "), 64)
	encoded := c.Compress(payload)
	if len(encoded) >= len(payload) {
		t.Errorf("repetitive payload should shrink: %d >= %d", len(encoded), len(payload))
	}
	decoded, err := c.Decompress(encoded)
	if err != nil {
		t.Fatalf("Decompress() error = %v", err)
	}
	if !bytes.Equal(decoded, payload) {
		t.Error("Decompress() did not restore the payload")
	}
}

func Test_S2Compressor_corruptStream(t *testing.T) {
	c := S2Compressor{}
	_, err := c.Decompress([]byte{0xff, 0x00, 0xba, 0xad})
	if err == nil {
		t.Fatal("Decompress() on garbage should fail")
	}
	if !errors.Is(err, model.ErrCorruptPacket) {
		t.Errorf("Decompress() error = %v, want ErrCorruptPacket", err)
	}
}
