// Package apk reads the app version and app-hash UUID out of an
// Android APK to seed the handshake. ReadCredentials opens the APK from
// a file path and only reads it; it takes no in-memory bytes and makes
// no network access.
//
// The extractor is best-effort: the resource holding the app hash moves
// between game versions, so callers must always accept a manual
// override.
package apk

import (
	"archive/zip"
	"encoding/binary"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode/utf16"

	"github.com/google/uuid"

	"github.com/twintail/twintail/api"
)

// ParseError wraps any failure to read credentials out of an APK.
type ParseError struct {
	Path  string
	Cause error
}

func (e ParseError) Error() string {
	return fmt.Sprintf("parsing APK %s: %v", e.Path, e.Cause)
}

func (e ParseError) Unwrap() error {
	return e.Cause
}

const manifestName = "AndroidManifest.xml"

// hashResourceCandidates are the in-package text resources observed to
// carry the app-hash UUID, by region. The path changes across game
// versions; unknown layouts fall back to scanning small asset entries.
var hashResourceCandidates = map[api.Region][]string{
	api.RegionJapan: {
		"assets/jp/production/app_hash",
		"assets/aa/production_android/app_hash",
	},
	api.RegionGlobal: {
		"assets/en/production/app_hash",
		"assets/aa/production_en_android/app_hash",
	},
}

var (
	versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
	uuidPattern    = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
)

// maxHashResourceSize bounds the fallback scan to small text resources.
const maxHashResourceSize = 4 << 10

// ReadCredentials extracts AppCredentials for a region from an APK.
func ReadCredentials(path string, region api.Region) (api.AppCredentials, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return api.AppCredentials{}, ParseError{Path: path, Cause: err}
	}
	defer reader.Close()

	version, err := readVersionName(&reader.Reader)
	if err != nil {
		return api.AppCredentials{}, ParseError{Path: path, Cause: err}
	}
	hash, err := readAppHash(&reader.Reader, region)
	if err != nil {
		return api.AppCredentials{}, ParseError{Path: path, Cause: err}
	}
	return api.AppCredentials{
		Version:  version,
		Hash:     hash,
		Platform: api.PlatformAndroid,
	}, nil
}

func readVersionName(reader *zip.Reader) (string, error) {
	raw, err := readEntry(reader, manifestName, 0)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", manifestName, err)
	}
	pool, err := axmlStringPool(raw)
	if err != nil {
		return "", fmt.Errorf("decoding %s: %w", manifestName, err)
	}
	hasVersionName := false
	for _, s := range pool {
		if s == "versionName" {
			hasVersionName = true
			break
		}
	}
	if !hasVersionName {
		return "", fmt.Errorf("manifest string pool has no versionName attribute")
	}
	// The attribute value is a string-pool reference; the version
	// string is the pool entry shaped like a release version.
	for _, s := range pool {
		if versionPattern.MatchString(s) {
			return s, nil
		}
	}
	return "", fmt.Errorf("no version string in manifest string pool")
}

func readAppHash(reader *zip.Reader, region api.Region) (string, error) {
	for _, candidate := range hashResourceCandidates[region] {
		raw, err := readEntry(reader, candidate, maxHashResourceSize)
		if err != nil {
			continue
		}
		if hash, ok := findUUID(raw); ok {
			return hash, nil
		}
	}
	// Layout unknown: scan small asset entries for anything UUID-shaped.
	for _, file := range reader.File {
		if !strings.HasPrefix(file.Name, "assets/") || file.UncompressedSize64 > maxHashResourceSize {
			continue
		}
		raw, err := readEntry(reader, file.Name, maxHashResourceSize)
		if err != nil {
			continue
		}
		if hash, ok := findUUID(raw); ok {
			return hash, nil
		}
	}
	return "", fmt.Errorf("no app-hash resource found for region %s", region)
}

func findUUID(raw []byte) (string, bool) {
	match := uuidPattern.Find(raw)
	if match == nil {
		return "", false
	}
	parsed, err := uuid.Parse(string(match))
	if err != nil {
		return "", false
	}
	return parsed.String(), true
}

func readEntry(reader *zip.Reader, name string, limit int64) ([]byte, error) {
	file, err := reader.Open(name)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	var r io.Reader = file
	if limit > 0 {
		r = io.LimitReader(file, limit)
	}
	return io.ReadAll(r)
}

// Binary XML chunk types.
const (
	axmlChunkXML        = 0x0003
	axmlChunkStringPool = 0x0001
	axmlFlagUTF8        = 1 << 8
)

// axmlStringPool decodes the string pool of a binary AndroidManifest.
// Only the pool is needed: the manifest attributes reference it.
func axmlStringPool(raw []byte) ([]string, error) {
	if len(raw) < 16 {
		return nil, fmt.Errorf("truncated binary XML")
	}
	if binary.LittleEndian.Uint16(raw[0:2]) != axmlChunkXML {
		return nil, fmt.Errorf("not a binary XML document")
	}
	pool := raw[8:]
	if len(pool) < 28 || binary.LittleEndian.Uint16(pool[0:2]) != axmlChunkStringPool {
		return nil, fmt.Errorf("missing string pool chunk")
	}
	headerSize := int(binary.LittleEndian.Uint16(pool[2:4]))
	chunkSize := int(binary.LittleEndian.Uint32(pool[4:8]))
	stringCount := int(binary.LittleEndian.Uint32(pool[8:12]))
	flags := binary.LittleEndian.Uint32(pool[16:20])
	stringsStart := int(binary.LittleEndian.Uint32(pool[20:24]))
	if chunkSize > len(pool) || headerSize > chunkSize || stringsStart > chunkSize {
		return nil, fmt.Errorf("malformed string pool header")
	}
	isUTF8 := flags&axmlFlagUTF8 != 0

	offsets := pool[headerSize:]
	if len(offsets) < stringCount*4 {
		return nil, fmt.Errorf("truncated string pool offsets")
	}
	data := pool[stringsStart:chunkSize]

	strs := make([]string, 0, stringCount)
	for i := range stringCount {
		offset := int(binary.LittleEndian.Uint32(offsets[i*4 : i*4+4]))
		if offset >= len(data) {
			return nil, fmt.Errorf("string offset out of range")
		}
		s, err := decodePoolString(data[offset:], isUTF8)
		if err != nil {
			return nil, err
		}
		strs = append(strs, s)
	}
	return strs, nil
}

func decodePoolString(data []byte, isUTF8 bool) (string, error) {
	if isUTF8 {
		// two UTF-8 lengths: char count, then byte count
		_, n1, err := decodeLengthUTF8(data)
		if err != nil {
			return "", err
		}
		byteLen, n2, err := decodeLengthUTF8(data[n1:])
		if err != nil {
			return "", err
		}
		start := n1 + n2
		if start+byteLen > len(data) {
			return "", fmt.Errorf("truncated UTF-8 pool string")
		}
		return string(data[start : start+byteLen]), nil
	}
	charLen, n, err := decodeLengthUTF16(data)
	if err != nil {
		return "", err
	}
	if n+charLen*2 > len(data) {
		return "", fmt.Errorf("truncated UTF-16 pool string")
	}
	units := make([]uint16, charLen)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(data[n+i*2 : n+i*2+2])
	}
	return string(utf16.Decode(units)), nil
}

func decodeLengthUTF8(data []byte) (length, consumed int, err error) {
	if len(data) == 0 {
		return 0, 0, fmt.Errorf("truncated length prefix")
	}
	if data[0]&0x80 == 0 {
		return int(data[0]), 1, nil
	}
	if len(data) < 2 {
		return 0, 0, fmt.Errorf("truncated length prefix")
	}
	return int(data[0]&0x7f)<<8 | int(data[1]), 2, nil
}

func decodeLengthUTF16(data []byte) (length, consumed int, err error) {
	if len(data) < 2 {
		return 0, 0, fmt.Errorf("truncated length prefix")
	}
	first := binary.LittleEndian.Uint16(data[0:2])
	if first&0x8000 == 0 {
		return int(first), 2, nil
	}
	if len(data) < 4 {
		return 0, 0, fmt.Errorf("truncated length prefix")
	}
	second := binary.LittleEndian.Uint16(data[2:4])
	return int(first&0x7fff)<<16 | int(second), 4, nil
}
