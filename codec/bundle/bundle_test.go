package bundle_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twintail/twintail/codec/bundle"
)

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(1))
	data := make([]byte, n)
	_, err := rng.Read(data)
	require.NoError(t, err)
	return data
}

func TestDecodeIsIdentityOnPlainBundle(t *testing.T) {
	// A file that already starts with the Unity signature passes through.
	input := append([]byte("UnityFS"), randomBytes(t, 16)...)
	decoded, err := bundle.Decode(input)
	require.NoError(t, err)
	assert.Equal(t, input, decoded)

	// Decoding is idempotent.
	again, err := bundle.Decode(decoded)
	require.NoError(t, err)
	assert.Equal(t, input, again)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	input := append([]byte("UnityFS"), randomBytes(t, 64<<10)...)
	encoded := bundle.Encode(input)

	assert.False(t, bundle.IsPlain(encoded))
	assert.Greater(t, len(encoded), len(input))
	// the obfuscated prefix differs from the input
	assert.NotEqual(t, input[:16], encoded[:16])

	decoded, err := bundle.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, input, decoded)
}

func TestDecodeEncodeIsIdentityOnAnyBytes(t *testing.T) {
	for _, input := range [][]byte{
		{},
		{0x00},
		randomBytes(t, 1000),
		append([]byte("UnityFS"), 1, 2, 3),
	} {
		decoded, err := bundle.Decode(bundle.Encode(input))
		require.NoError(t, err)
		assert.Equal(t, input, decoded)
	}
}

func TestDecodeShortInput(t *testing.T) {
	_, err := bundle.Decode([]byte{0x10, 0x00})
	assert.ErrorIs(t, err, bundle.ErrShortInput)

	// valid magic but truncated obfuscation header
	_, err = bundle.Decode([]byte{0x10, 0x00, 0x00, 0x00, 0xaa, 0xbb})
	assert.ErrorIs(t, err, bundle.ErrShortInput)
}

func TestDecodeUnknownMagic(t *testing.T) {
	_, err := bundle.Decode([]byte{0xff, 0x00, 0x00, 0x00, 0x01, 0x02, 0x03, 0x04})
	assert.ErrorIs(t, err, bundle.ErrUnknownMagic)

	// reserved bytes must be zero
	_, err = bundle.Decode([]byte{0x10, 0x01, 0x00, 0x00, 0x01, 0x02, 0x03, 0x04})
	assert.ErrorIs(t, err, bundle.ErrUnknownMagic)
}
