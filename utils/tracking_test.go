package utils

import (
	"strings"
	"testing"
)

const trackBase = "https://track.example.com"

func TestInjectTrackingPixel(t *testing.T) {
	html := `<html><body><p>Hello</p></body></html>`
	out := InjectTracking(html, trackBase, "px-1", true, false)

	pixelURL := TrackingPixelURL(trackBase, "px-1")
	if !strings.Contains(out, pixelURL) {
		t.Fatalf("pixel url missing from %q", out)
	}
	if idx := strings.Index(out, pixelURL); idx > strings.Index(out, "</body>") {
		t.Error("pixel injected after closing body tag")
	}

	// No closing body tag: pixel goes at the end.
	out = InjectTracking("<p>Hi</p>", trackBase, "px-1", true, false)
	if !strings.HasSuffix(out, `style="display:none"/>`) {
		t.Errorf("pixel not appended: %q", out)
	}
}

func TestInjectTrackingLinks(t *testing.T) {
	html := `<a href="https://example.com/pricing">pricing</a>`
	out := InjectTracking(html, trackBase, "px-2", false, true)

	if strings.Contains(out, `href="https://example.com/pricing"`) {
		t.Error("original link not rewritten")
	}
	if !strings.Contains(out, "/track/click/px-2?url=") {
		t.Errorf("click redirect missing: %q", out)
	}
	if !strings.Contains(out, "https%3A%2F%2Fexample.com%2Fpricing") {
		t.Errorf("destination not query-escaped: %q", out)
	}

	// Already-wrapped links stay untouched.
	wrapped := InjectTracking(out, trackBase, "px-2", false, true)
	if wrapped != out {
		t.Error("tracking link was double-wrapped")
	}
}

func TestInjectTrackingDisabled(t *testing.T) {
	html := `<body><a href="https://example.com">x</a></body>`
	if out := InjectTracking(html, trackBase, "px-3", false, false); out != html {
		t.Errorf("html modified with tracking disabled: %q", out)
	}
}
