package crypto

import "github.com/twintail/twintail/api"

// The 16-byte keys below are embedded constants of the protocol,
// captured from the live clients. They are separated by region and
// purpose and must be reproduced verbatim to interoperate.
var (
	suiteKeyJapan  = []byte("g2fcC0ZczN9MTJ61")
	suiteKeyGlobal = []byte("gfbWtLpc3yKEQdDW")

	saveKeyJapan  = []byte("dH8RdLEPsBfJdzNm")
	saveKeyGlobal = []byte("rWYpchZcptQaJdTm")

	// assetbundleMask seeds the obfuscation header keystream
	// of the assetbundle container format.
	assetbundleMask = []byte{0x7f, 0x3a, 0x91, 0xc4}
)

// SuiteKey returns the suitemaster AES key for a region.
func SuiteKey(region api.Region) []byte {
	if region == api.RegionGlobal {
		return suiteKeyGlobal
	}
	return suiteKeyJapan
}

// SaveKey returns the save-data JWT signing key for a region.
func SaveKey(region api.Region) []byte {
	if region == api.RegionGlobal {
		return saveKeyGlobal
	}
	return saveKeyJapan
}

// AssetbundleMask returns the 4-byte mask seeding the
// assetbundle obfuscation header.
func AssetbundleMask() []byte {
	return assetbundleMask
}
