package suite_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twintail/twintail/api"
	"github.com/twintail/twintail/crypto"
	"github.com/twintail/twintail/codec/suite"
	"github.com/twintail/twintail/service/status"
)

const sampleDocument = `{"key":"cards/001","value":42,"nested":{"a":[1,2,3]}}`

func TestEncryptDecryptRoundTrip(t *testing.T) {
	for _, region := range []api.Region{api.RegionJapan, api.RegionGlobal} {
		key, blob, err := suite.Encrypt([]byte(sampleDocument), region)
		require.NoError(t, err)
		assert.Equal(t, "cards/001", key)
		assert.Greater(t, len(blob), 16)

		decryptedKey, jsonBytes, err := suite.Decrypt(blob, region)
		require.NoError(t, err)
		assert.Equal(t, key, decryptedKey)
		assert.JSONEq(t, sampleDocument, string(jsonBytes))
	}
}

func TestRoundTripPreservesMemberOrder(t *testing.T) {
	document := `{"key":"zeta","b":1,"a":2,"c":{"z":true,"y":null}}`
	_, blob, err := suite.Encrypt([]byte(document), api.RegionJapan)
	require.NoError(t, err)
	_, jsonBytes, err := suite.Decrypt(blob, api.RegionJapan)
	require.NoError(t, err)
	assert.Equal(t, document, string(jsonBytes))
}

func TestRoundTripScalars(t *testing.T) {
	document := `{"key":"types","int":-7,"big":9007199254740993,"float":1.5,"bool":false,"null":null,"str":"x","empty":[],"emptyObj":{}}`
	_, blob, err := suite.Encrypt([]byte(document), api.RegionGlobal)
	require.NoError(t, err)
	_, jsonBytes, err := suite.Decrypt(blob, api.RegionGlobal)
	require.NoError(t, err)
	assert.JSONEq(t, document, string(jsonBytes))
}

func TestDecryptWrongRegion(t *testing.T) {
	_, blob, err := suite.Encrypt([]byte(sampleDocument), api.RegionJapan)
	require.NoError(t, err)

	_, _, err = suite.Decrypt(blob, api.RegionGlobal)
	require.Error(t, err)
	assert.Equal(t, status.KindCrypto, status.KindOf(err))
	assert.ErrorIs(t, err, crypto.ErrBadPadding)
}

func TestEncryptMissingKey(t *testing.T) {
	for _, document := range []string{
		`{"value":42}`,
		`{"key":7}`,
		`[1,2,3]`,
	} {
		_, _, err := suite.Encrypt([]byte(document), api.RegionJapan)
		assert.ErrorIs(t, err, suite.ErrMissingKey, "document %s", document)
	}
}

func TestEncryptMalformedJSON(t *testing.T) {
	_, _, err := suite.Encrypt([]byte(`{"key":`), api.RegionJapan)
	require.Error(t, err)
	assert.Equal(t, status.KindCodec, status.KindOf(err))
}

func TestDecryptShortInput(t *testing.T) {
	_, _, err := suite.Decrypt([]byte("tiny"), api.RegionJapan)
	assert.ErrorIs(t, err, suite.ErrShortInput)
}

func TestCiphertextName(t *testing.T) {
	name := suite.CiphertextName([]byte("payload"), 3)
	assert.Regexp(t, `^[0-9a-f]{8}_3$`, name)
	// content-derived: same payload, same prefix
	assert.Equal(t, name, suite.CiphertextName([]byte("payload"), 3))
	assert.NotEqual(t, name[:8], suite.CiphertextName([]byte("other"), 3)[:8])
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDirRoundTrip(t *testing.T) {
	inDir := t.TempDir()
	encDir := t.TempDir()
	outDir := t.TempDir()
	writeFile(t, filepath.Join(inDir, "cards.json"), `{"key":"cards/001","value":42}`)
	writeFile(t, filepath.Join(inDir, "events.json"), `{"key":"events","list":[1,2]}`)
	writeFile(t, filepath.Join(inDir, "notes.txt"), "not json, ignored")

	encResult, err := suite.EncryptDir(context.Background(), inDir, encDir, api.RegionJapan, 4)
	require.NoError(t, err)
	assert.Equal(t, 2, encResult.Written)
	assert.Empty(t, encResult.Failures)

	decResult, err := suite.DecryptDir(context.Background(), encDir, outDir, api.RegionJapan, 4)
	require.NoError(t, err)
	assert.Equal(t, 2, decResult.Written)
	assert.Empty(t, decResult.Failures)

	cards, err := os.ReadFile(filepath.Join(outDir, "cards", "001.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"cards/001","value":42}`, string(cards))

	events, err := os.ReadFile(filepath.Join(outDir, "events.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"events","list":[1,2]}`, string(events))
}

func TestDecryptDirWrongRegion(t *testing.T) {
	inDir := t.TempDir()
	encDir := t.TempDir()
	outDir := t.TempDir()
	writeFile(t, filepath.Join(inDir, "a.json"), `{"key":"a","v":1}`)
	writeFile(t, filepath.Join(inDir, "b.json"), `{"key":"b","v":2}`)

	_, err := suite.EncryptDir(context.Background(), inDir, encDir, api.RegionJapan, 2)
	require.NoError(t, err)

	result, err := suite.DecryptDir(context.Background(), encDir, outDir, api.RegionGlobal, 2)
	require.NoError(t, err)
	assert.Zero(t, result.Written)
	require.Len(t, result.Failures, 2)
	for _, failure := range result.Failures {
		assert.Equal(t, status.KindCrypto, failure.Kind)
		assert.ErrorIs(t, failure.Err, crypto.ErrBadPadding)
	}
}

func TestEncryptDirRejectsDuplicateKeys(t *testing.T) {
	inDir := t.TempDir()
	encDir := t.TempDir()
	writeFile(t, filepath.Join(inDir, "a.json"), `{"key":"same","v":1}`)
	writeFile(t, filepath.Join(inDir, "b.json"), `{"key":"same","v":2}`)

	result, err := suite.EncryptDir(context.Background(), inDir, encDir, api.RegionJapan, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Written)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, status.KindCodec, result.Failures[0].Kind)
}

func TestDecryptOutputIsValidJSON(t *testing.T) {
	_, blob, err := suite.Encrypt([]byte(sampleDocument), api.RegionJapan)
	require.NoError(t, err)
	_, jsonBytes, err := suite.Decrypt(blob, api.RegionJapan)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(jsonBytes, &doc))
	// UTF-8 without BOM
	assert.NotEqual(t, []byte{0xef, 0xbb, 0xbf}, jsonBytes[:3])
}
