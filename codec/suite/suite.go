// Package suite implements the suitemaster container format:
// MessagePack-encoded gameplay data encrypted with AES-128-CBC under a
// per-region key, with a 16-byte IV prepended to the ciphertext.
//
// The codec takes and returns byte buffers; the filesystem-aware batch
// wrappers live in dir.go and compose it.
package suite

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/twintail/twintail/api"
	"github.com/twintail/twintail/crypto"
	"github.com/twintail/twintail/service/status"
)

const ivSize = 16

var (
	// ErrMissingKey is returned when a plaintext document has no
	// top-level "key" property naming the logical file.
	ErrMissingKey = errors.New(`document has no top-level "key" property`)
	// ErrShortInput is returned when a ciphertext is too short
	// to carry an IV.
	ErrShortInput = errors.New("ciphertext shorter than one IV")
)

// Encrypt converts a plaintext JSON document into the suitemaster
// container. It returns the document's logical key (the value of the
// top-level "key" property) and IV || AES-128-CBC(MessagePack(json)).
func Encrypt(jsonBytes []byte, region api.Region) (key string, blob []byte, err error) {
	doc, err := parseJSON(jsonBytes)
	if err != nil {
		return "", nil, status.WithKind(status.KindCodec, fmt.Errorf("parsing JSON: %w", err))
	}
	key, err = documentKey(doc)
	if err != nil {
		return "", nil, status.WithKind(status.KindCodec, err)
	}
	packed, err := encodeMsgpack(doc)
	if err != nil {
		return "", nil, status.WithKind(status.KindCodec, err)
	}
	iv, err := crypto.NewIV()
	if err != nil {
		return "", nil, status.WithKind(status.KindCrypto, err)
	}
	ciphertext, err := crypto.CBCEncrypt(crypto.SuiteKey(region), iv, packed)
	if err != nil {
		return "", nil, status.WithKind(status.KindCrypto, err)
	}
	blob = make([]byte, 0, ivSize+len(ciphertext))
	blob = append(blob, iv...)
	blob = append(blob, ciphertext...)
	return key, blob, nil
}

// Decrypt converts a suitemaster container back into a JSON document.
// It returns the document's logical key; the caller writes the result
// to "{key}.json".
func Decrypt(blob []byte, region api.Region) (key string, jsonBytes []byte, err error) {
	if len(blob) < ivSize {
		return "", nil, status.WithKind(status.KindCodec, ErrShortInput)
	}
	packed, err := crypto.CBCDecrypt(crypto.SuiteKey(region), blob[:ivSize], blob[ivSize:])
	if err != nil {
		return "", nil, status.WithKind(status.KindCrypto, err)
	}
	doc, err := parseMsgpack(packed)
	if err != nil {
		return "", nil, status.WithKind(status.KindCodec, fmt.Errorf("parsing MessagePack: %w", err))
	}
	key, err = documentKey(doc)
	if err != nil {
		return "", nil, status.WithKind(status.KindCodec, err)
	}
	jsonBytes, err = encodeJSON(doc)
	if err != nil {
		return "", nil, status.WithKind(status.KindCodec, err)
	}
	return key, jsonBytes, nil
}

// CiphertextName is the content-derived filename of an encrypted
// suitemaster file within a batch: the first 8 hex characters of the
// ciphertext's SHA-256, an underscore, and the batch counter.
func CiphertextName(blob []byte, counter int) string {
	sum := sha256.Sum256(blob)
	return fmt.Sprintf("%s_%d", hex.EncodeToString(sum[:])[:8], counter)
}

func documentKey(doc value) (string, error) {
	obj, ok := doc.(object)
	if !ok {
		return "", ErrMissingKey
	}
	raw, ok := obj.lookup("key")
	if !ok {
		return "", ErrMissingKey
	}
	key, ok := raw.(string)
	if !ok || key == "" {
		return "", ErrMissingKey
	}
	return key, nil
}
