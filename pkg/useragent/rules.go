package useragent

import "regexp"

// Device types.
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceTV      = "tv"
	DeviceConsole = "console"
	DeviceBot     = "bot"
	DeviceUnknown = "unknown"
)

const unknown = "Unknown"

type rule struct {
	name     string
	keywords []string
	excludes []string
}

type browserRule struct {
	rule
	version *regexp.Regexp
}

// Rules are checked in order; the first match wins. Chromium derivatives
// come before Chrome and Chrome before Safari, since each embeds the next.
var browserRules = []browserRule{
	{rule{name: "Edge", keywords: []string{"edg/", "edge/", "edga/", "edgios/"}}, regexp.MustCompile(`(?i)edg(?:e|a|ios)?/([\d.]+)`)},
	{rule{name: "Opera", keywords: []string{"opr/", "opera"}}, regexp.MustCompile(`(?i)(?:opr|opera)[/ ]([\d.]+)`)},
	{rule{name: "Samsung Internet", keywords: []string{"samsungbrowser"}}, regexp.MustCompile(`(?i)samsungbrowser/([\d.]+)`)},
	{rule{name: "Yandex", keywords: []string{"yabrowser"}}, regexp.MustCompile(`(?i)yabrowser/([\d.]+)`)},
	{rule{name: "Vivaldi", keywords: []string{"vivaldi"}}, regexp.MustCompile(`(?i)vivaldi/([\d.]+)`)},
	{rule{name: "Firefox", keywords: []string{"firefox/", "fxios/"}}, regexp.MustCompile(`(?i)(?:firefox|fxios)/([\d.]+)`)},
	{rule{name: "Chrome", keywords: []string{"chrome/", "crios/"}, excludes: []string{"chromium"}}, regexp.MustCompile(`(?i)(?:chrome|crios)/([\d.]+)`)},
	{rule{name: "Chromium", keywords: []string{"chromium/"}}, regexp.MustCompile(`(?i)chromium/([\d.]+)`)},
	{rule{name: "Safari", keywords: []string{"safari/"}, excludes: []string{"android"}}, regexp.MustCompile(`(?i)version/([\d.]+)`)},
	{rule{name: "Internet Explorer", keywords: []string{"msie ", "trident/"}}, regexp.MustCompile(`(?i)(?:msie |rv:)([\d.]+)`)},
}

var osRules = []rule{
	{name: "Windows Phone", keywords: []string{"windows phone"}},
	{name: "Windows", keywords: []string{"windows"}},
	{name: "iOS", keywords: []string{"iphone", "ipad", "ipod"}},
	{name: "macOS", keywords: []string{"macintosh", "mac os x"}},
	{name: "HarmonyOS", keywords: []string{"harmonyos"}},
	{name: "Android", keywords: []string{"android"}},
	{name: "Fire OS", keywords: []string{"kindle", "silk/"}},
	{name: "ChromeOS", keywords: []string{"cros", "chromeos"}},
	{name: "Linux", keywords: []string{"linux", "ubuntu", "fedora", "x11"}},
}

var deviceRules = []rule{
	{name: DeviceBot, keywords: []string{"bot", "spider", "crawler", "slurp", "facebookexternalhit", "curl/", "wget/", "python-requests"}},
	{name: DeviceTV, keywords: []string{"smart-tv", "smarttv", "googletv", "appletv", "hbbtv", "roku", "webos", "tizen tv"}},
	{name: DeviceConsole, keywords: []string{"playstation", "xbox", "nintendo"}},
	{name: DeviceTablet, keywords: []string{"ipad", "tablet", "kindle", "silk/", "sm-t"}},
	{name: DeviceTablet, keywords: []string{"android"}, excludes: []string{"mobile"}},
	{name: DeviceMobile, keywords: []string{"mobile", "iphone", "ipod", "windows phone", "blackberry", "opera mini"}},
	{name: DeviceDesktop, keywords: []string{"windows", "macintosh", "x11", "linux", "cros"}},
}

var botNamePattern = regexp.MustCompile(`(?i)([a-z0-9_-]*(?:bot|spider|crawler))`)
