package utils

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// NewTrackingPixelID issues a fresh opaque id for open tracking.
func NewTrackingPixelID() string {
	return uuid.NewString()
}

// TrackingPixelURL builds the public open-tracking URL for a pixel id.
func TrackingPixelURL(baseURL, pixelID string) string {
	return fmt.Sprintf("%s/track/open/%s", strings.TrimRight(baseURL, "/"), pixelID)
}

// ClickTrackURL wraps a destination link so clicks route through the
// redirect endpoint.
func ClickTrackURL(baseURL, pixelID, destination string) string {
	return fmt.Sprintf("%s/track/click/%s?url=%s",
		strings.TrimRight(baseURL, "/"), pixelID, url.QueryEscape(destination))
}

// UnsubscribeURL builds the one-click unsubscribe link for a campaign lead.
func UnsubscribeURL(baseURL, pixelID string) string {
	return fmt.Sprintf("%s/track/unsubscribe/%s", strings.TrimRight(baseURL, "/"), pixelID)
}

var hrefPattern = regexp.MustCompile(`href="(https?://[^"]+)"`)

// InjectTracking rewrites outbound HTML for engagement tracking: every
// absolute link is wrapped in the click redirect and an invisible pixel
// is appended before the closing body tag (or at the end of the
// document when there is none).
func InjectTracking(html, baseURL, pixelID string, trackOpens, trackClicks bool) string {
	out := html

	if trackClicks {
		out = hrefPattern.ReplaceAllStringFunc(out, func(match string) string {
			dest := hrefPattern.FindStringSubmatch(match)[1]
			if strings.Contains(dest, "/track/") {
				return match
			}
			return fmt.Sprintf(`href="%s"`, ClickTrackURL(baseURL, pixelID, dest))
		})
	}

	if trackOpens {
		pixel := fmt.Sprintf(`<img src="%s" width="1" height="1" alt="" style="display:none"/>`,
			TrackingPixelURL(baseURL, pixelID))
		if idx := strings.LastIndex(strings.ToLower(out), "</body>"); idx >= 0 {
			out = out[:idx] + pixel + out[idx:]
		} else {
			out += pixel
		}
	}

	return out
}
