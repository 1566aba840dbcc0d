// Package device classifies clicking clients by user agent.
package device

import (
	"strings"

	"edgelink/internal/models"
)

var botTokens = []string{
	"bot", "crawler", "spider", "slurp", "curl/", "wget/", "python-requests",
	"facebookexternalhit", "headlesschrome",
}

var tabletTokens = []string{"ipad", "tablet", "kindle", "silk/", "playbook"}

var mobileTokens = []string{
	"mobile", "iphone", "ipod", "android", "blackberry", "windows phone", "opera mini",
}

// Classify maps a raw User-Agent header to a device class. An empty or
// unrecognizable user agent classifies as unknown, which routing treats
// as a non-match for device rules.
func Classify(userAgent string) models.DeviceClass {
	if userAgent == "" {
		return models.DeviceUnknown
	}

	ua := strings.ToLower(userAgent)

	for _, token := range botTokens {
		if strings.Contains(ua, token) {
			return models.DeviceBot
		}
	}

	// Tablets before mobile: Android tablets carry "android" without
	// "mobile", iPads used to carry "mobile" in older Safari builds.
	for _, token := range tabletTokens {
		if strings.Contains(ua, token) {
			return models.DeviceTablet
		}
	}

	for _, token := range mobileTokens {
		if strings.Contains(ua, token) {
			return models.DeviceMobile
		}
	}

	if strings.Contains(ua, "mozilla") || strings.Contains(ua, "opera") {
		return models.DeviceDesktop
	}

	return models.DeviceUnknown
}
