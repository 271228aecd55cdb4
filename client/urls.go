package client

import (
	"fmt"

	"github.com/twintail/twintail/api"
)

// osSegment is the platform path segment of the bundle CDN layout.
// Japan appends a generation suffix; Global does not.
func osSegment(region api.Region, platform api.Platform) string {
	segment := string(platform)
	if region == api.RegionJapan {
		segment += "1"
	}
	return segment
}

// AssetbundleURL is the CDN location of one bundle.
// The path template is region-dependent:
//
//	japan:  {host}/{assetVersion}/{assetHash}/{os}/{bundleName}
//	global: {host}/{assetVersion}/{os}/{bundleName}
func AssetbundleURL(sctx *api.SessionContext, bundleName string) string {
	segment := osSegment(sctx.Region, sctx.Platform)
	if sctx.Region == api.RegionJapan {
		return fmt.Sprintf("%s/%s/%s/%s/%s",
			sctx.AssetHost, sctx.System.AssetVersion, sctx.System.AssetHash, segment, bundleName)
	}
	return fmt.Sprintf("%s/%s/%s/%s",
		sctx.AssetHost, sctx.System.AssetVersion, segment, bundleName)
}

// AssetbundleInfoURL is the CDN location of the current manifest.
func AssetbundleInfoURL(sctx *api.SessionContext) string {
	return fmt.Sprintf("%s/api/version/%s/os/%s",
		sctx.AssetHost, sctx.System.AssetVersion, osSegment(sctx.Region, sctx.Platform))
}
