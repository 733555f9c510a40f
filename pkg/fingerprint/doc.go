// Package fingerprint hashes issued tokens and identifies client devices.
//
// Token and TokenPair produce the SHA-256 hex digests stored on sessions in
// place of raw tokens; Equal compares them in constant time. Device derives
// a stable identifier for the requesting browser from its headers.
package fingerprint
