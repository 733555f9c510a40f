package useragent_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/gatekeeper/pkg/useragent"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		ua    string
		want  useragent.Info
		label string
	}{
		{
			name:  "chrome on macos",
			ua:    "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.6099.109 Safari/537.36",
			want:  useragent.Info{Device: useragent.DeviceDesktop, Browser: "Chrome", BrowserVersion: "120.0.6099.109", OS: "macOS"},
			label: "Chrome 120 on macOS",
		},
		{
			name:  "edge on windows",
			ua:    "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.2210.61",
			want:  useragent.Info{Device: useragent.DeviceDesktop, Browser: "Edge", BrowserVersion: "120.0.2210.61", OS: "Windows"},
			label: "Edge 120 on Windows",
		},
		{
			name:  "safari on iphone",
			ua:    "Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1",
			want:  useragent.Info{Device: useragent.DeviceMobile, Browser: "Safari", BrowserVersion: "17.1", OS: "iOS"},
			label: "Safari 17 on iOS",
		},
		{
			name: "firefox on linux",
			ua:   "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
			want: useragent.Info{Device: useragent.DeviceDesktop, Browser: "Firefox", BrowserVersion: "121.0", OS: "Linux"},
		},
		{
			name: "android tablet",
			ua:   "Mozilla/5.0 (Linux; Android 13; SM-X700) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
			want: useragent.Info{Device: useragent.DeviceTablet, Browser: "Chrome", BrowserVersion: "119.0.0.0", OS: "Android"},
		},
		{
			name: "android phone",
			ua:   "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36",
			want: useragent.Info{Device: useragent.DeviceMobile, Browser: "Chrome", BrowserVersion: "120.0.0.0", OS: "Android"},
		},
		{
			name:  "googlebot",
			ua:    "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)",
			want:  useragent.Info{Device: useragent.DeviceBot, Browser: "Unknown", OS: "Unknown", BotName: "Googlebot"},
			label: "Googlebot",
		},
		{
			name:  "generic crawler",
			ua:    "AcmeCrawler/1.0",
			want:  useragent.Info{Device: useragent.DeviceBot, Browser: "Unknown", OS: "Unknown", BotName: "Acmecrawler"},
			label: "Acmecrawler",
		},
		{
			name:  "empty",
			ua:    "",
			want:  useragent.Info{Device: useragent.DeviceUnknown, Browser: "Unknown", OS: "Unknown"},
			label: "Unknown device",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := useragent.Parse(tt.ua)
			assert.Equal(t, tt.want, got)
			if tt.label != "" {
				assert.Equal(t, tt.label, got.Label())
			}
		})
	}
}

func TestParseCapsLength(t *testing.T) {
	t.Parallel()
	ua := "Mozilla/5.0 (Windows NT 10.0) " + strings.Repeat("x", 2000) + " Firefox/121.0"
	got := useragent.Parse(ua)
	assert.Equal(t, "Windows", got.OS)
	assert.Equal(t, "Unknown", got.Browser, "the browser token lies past the cap")
}

func TestParserCaches(t *testing.T) {
	t.Parallel()
	p := useragent.NewParser(2, time.Minute)

	a := "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0"
	b := "Mozilla/5.0 (compatible; Googlebot/2.1)"
	c := "curl/8.4.0"

	assert.Equal(t, useragent.Parse(a), p.Parse(a))
	assert.Equal(t, useragent.Parse(a), p.Parse(a))
	assert.Equal(t, 1, p.Len())

	p.Parse(b)
	p.Parse(c)
	assert.Equal(t, 2, p.Len(), "least recently used entry is evicted")
	assert.Equal(t, "Curl", p.Parse(c).BotName)
}
