// Package useragent derives the device, browser and operating system shown
// in session listings from a User-Agent header.
//
// Detection is keyword based and deliberately coarse:
//
//	info := useragent.Parse(r.UserAgent())
//	info.Device  // "desktop", "mobile", "tablet", "tv", "console", "bot" or "unknown"
//	info.Label() // "Chrome 120 on macOS"
//
// Parser wraps Parse with an expiring LRU cache.
package useragent
