package useragent

import (
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// maxLength caps the header length considered; longer values are cut.
const maxLength = 512

// Info is the device summary derived from a User-Agent header.
type Info struct {
	Device         string `json:"device"`
	Browser        string `json:"browser"`
	BrowserVersion string `json:"browser_version,omitempty"`
	OS             string `json:"os"`
	BotName        string `json:"bot_name,omitempty"`
}

func (i Info) IsBot() bool { return i.Device == DeviceBot }

// Label is a short human-readable name for session listings, like
// "Chrome 120 on macOS" or "Googlebot".
func (i Info) Label() string {
	if i.IsBot() {
		return i.BotName
	}
	if i.Browser == unknown && i.OS == unknown {
		return "Unknown device"
	}
	b := i.Browser
	if major, _, _ := strings.Cut(i.BrowserVersion, "."); major != "" {
		b += " " + major
	}
	return b + " on " + i.OS
}

// Parse derives device information from ua without caching.
func Parse(ua string) Info {
	if len(ua) > maxLength {
		ua = ua[:maxLength]
	}
	lower := strings.ToLower(strings.TrimSpace(ua))
	if lower == "" {
		return Info{Device: DeviceUnknown, Browser: unknown, OS: unknown}
	}

	info := Info{
		Device:  DeviceUnknown,
		Browser: unknown,
		OS:      unknown,
	}
	for _, r := range deviceRules {
		if r.matches(lower) {
			info.Device = r.name
			break
		}
	}
	if info.Device == DeviceBot {
		info.BotName = botName(ua)
		return info
	}
	for _, r := range osRules {
		if r.matches(lower) {
			info.OS = r.name
			break
		}
	}
	for _, r := range browserRules {
		if r.matches(lower) {
			info.Browser = r.name
			if m := r.version.FindStringSubmatch(ua); len(m) > 1 {
				info.BrowserVersion = m[1]
			}
			break
		}
	}
	return info
}

// Parser memoizes Parse results. Session listings and logins see the same
// few headers over and over.
type Parser struct {
	cache *lru.LRU[string, Info]
}

// NewParser creates a parser caching up to size results for ttl each.
func NewParser(size int, ttl time.Duration) *Parser {
	return &Parser{cache: lru.NewLRU[string, Info](max(size, 1), nil, ttl)}
}

func (p *Parser) Parse(ua string) Info {
	if info, ok := p.cache.Get(ua); ok {
		return info
	}
	info := Parse(ua)
	p.cache.Add(ua, info)
	return info
}

// Len returns the number of cached entries.
func (p *Parser) Len() int { return p.cache.Len() }

func (r rule) matches(lower string) bool {
	hit := false
	for _, k := range r.keywords {
		if strings.Contains(lower, k) {
			hit = true
			break
		}
	}
	if !hit {
		return false
	}
	for _, x := range r.excludes {
		if strings.Contains(lower, x) {
			return false
		}
	}
	return true
}

func botName(ua string) string {
	lower := strings.ToLower(ua)
	switch {
	case strings.Contains(lower, "googlebot"):
		return "Googlebot"
	case strings.Contains(lower, "bingbot"):
		return "Bingbot"
	case strings.Contains(lower, "facebookexternalhit"):
		return "Facebook"
	}
	if m := botNamePattern.FindStringSubmatch(ua); len(m) > 1 && m[1] != "" {
		return cases.Title(language.English).String(strings.ToLower(m[1]))
	}
	if name, _, ok := strings.Cut(ua, "/"); ok && name != "" {
		return cases.Title(language.English).String(strings.ToLower(name))
	}
	return "Unknown Bot"
}
