// Package bundle implements the bit-exact transform between the game's
// on-disk assetbundle container and a plain Unity bundle.
//
// Game format:
//
//	offset 0: 4-byte magic (1 flags byte, 3 reserved zero bytes)
//	offset 4: obfuscation header of flags*8 bytes, generated from the magic
//	rest:     plain Unity bundle bytes
//
// The codec is a pure byte transform and never parses bundle contents.
package bundle

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/twintail/twintail/crypto"
)

var (
	ErrShortInput   = errors.New("input too short for a game-format bundle")
	ErrUnknownMagic = errors.New("unknown bundle magic")
)

// unitySignature is the leading signature of a plain Unity bundle.
var unitySignature = []byte("UnityFS")

// defaultFlags is the flags byte written by Encode.
// The header length is flags*8 bytes (128 for the current clients).
const defaultFlags = 0x10

// knownFlags are the flags bytes observed in live traffic.
var knownFlags = map[byte]bool{0x10: true, 0x20: true, 0x40: true}

// IsPlain reports whether data already starts with the Unity signature.
func IsPlain(data []byte) bool {
	return bytes.HasPrefix(data, unitySignature)
}

// Encode wraps data in the game container: magic, obfuscation header, data.
func Encode(data []byte) []byte {
	magic := [4]byte{defaultFlags, 0, 0, 0}
	header := obfuscationHeader(magic)
	out := make([]byte, 0, 4+len(header)+len(data))
	out = append(out, magic[:]...)
	out = append(out, header...)
	out = append(out, data...)
	return out
}

// Decode strips the game container from data.
// Input that already starts with the Unity signature passes through
// unchanged, so decoding is idempotent.
func Decode(data []byte) ([]byte, error) {
	if IsPlain(data) {
		return data, nil
	}
	if len(data) < 4 {
		return nil, ErrShortInput
	}
	var magic [4]byte
	copy(magic[:], data)
	if !knownFlags[magic[0]] || magic[1] != 0 || magic[2] != 0 || magic[3] != 0 {
		return nil, fmt.Errorf("%w: % x", ErrUnknownMagic, magic)
	}
	headerLen := headerLength(magic[0])
	if len(data) < 4+headerLen {
		return nil, ErrShortInput
	}
	return data[4+headerLen:], nil
}

func headerLength(flags byte) int {
	return int(flags) * 8
}

// obfuscationHeader generates the header keystream for a magic.
// The pattern is a fixed XOR-mask scheme: the decoder only needs the
// length, but the bytes must match what the game writes.
func obfuscationHeader(magic [4]byte) []byte {
	mask := crypto.AssetbundleMask()
	header := make([]byte, headerLength(magic[0]))
	for i := range header {
		header[i] = mask[i%4] ^ magic[i%4] ^ byte(i)
	}
	return header
}
