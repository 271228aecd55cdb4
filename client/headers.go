package client

import "github.com/twintail/twintail/api"

// Header names and per-region constants below are part of the wire
// protocol, captured from observed traffic. They are opaque: changing
// any of them breaks interoperability with the live servers.
const (
	headerContentType  = "Content-Type"
	headerAccept       = "Accept"
	headerUserAgent    = "User-Agent"
	headerSessionToken = "X-Session-Token"
	headerAppVersion   = "X-App-Version"
	headerAppHash      = "X-App-Hash"
	headerAssetVersion = "X-Asset-Version"
	headerDataVersion  = "X-Data-Version"
	headerPlatform     = "X-Platform"
	headerDeviceModel  = "X-Devicemodel"
	headerOSVersion    = "X-Operatingsystem"
	headerInstallID    = "X-Install-Id"
	headerUnityVersion = "X-Unity-Version"
	headerInheritToken = "X-Inherit-Id-Verify-Token"

	contentTypeMsgpack = "application/octet-stream"
)

type regionProfile struct {
	apiBase      string
	userAgent    string
	deviceModel  string
	osVersion    string
	unityVersion string
}

var regionProfiles = map[api.Region]regionProfile{
	api.RegionJapan: {
		apiBase:      "https://production-game-api.sekai.colorfulpalette.org",
		userAgent:    "UnityPlayer/2022.3.21f1 (UnityWebRequest/1.0, libcurl/8.5.0-DEV)",
		deviceModel:  "SM-G973C",
		osVersion:    "Android OS 12 / API-31",
		unityVersion: "2022.3.21f1",
	},
	api.RegionGlobal: {
		apiBase:      "https://n-production-game-api.sekai-en.com",
		userAgent:    "UnityPlayer/2022.3.21f1 (UnityWebRequest/1.0, libcurl/8.5.0-DEV)",
		deviceModel:  "SM-G973C",
		osVersion:    "Android OS 12 / API-31",
		unityVersion: "2022.3.21f1",
	},
}

// platformHeaderValue is the platform as the server expects it spelled.
func platformHeaderValue(platform api.Platform) string {
	if platform == api.PlatformIOS {
		return "iOS"
	}
	return "Android"
}
