package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

// Encode converts a frame to the base64 little-endian PCM16 wire form.
// Encode and Decode are exact inverses for any frame of in-range samples.
func Encode(f Frame) string {
	buf := make([]byte, len(f.PCM)*2)
	for i, s := range f.PCM {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// Decode converts base64 PCM16 back into a wire-format frame
func Decode(encoded string) (Frame, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Frame{}, fmt.Errorf("invalid base64 audio: %w", err)
	}
	return DecodeBytes(raw)
}

// DecodeBytes converts raw little-endian PCM16 bytes into a wire frame
func DecodeBytes(raw []byte) (Frame, error) {
	if len(raw)%2 != 0 {
		return Frame{}, fmt.Errorf("pcm16 data has odd length %d", len(raw))
	}
	pcm := make([]int16, len(raw)/2)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return NewWireFrame(pcm), nil
}

// Bytes returns the frame's samples as little-endian PCM16 bytes
func Bytes(f Frame) []byte {
	buf := make([]byte, len(f.PCM)*2)
	for i, s := range f.PCM {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}
