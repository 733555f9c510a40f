// Package config loads typed configuration from the process environment.
//
// It wraps github.com/joho/godotenv for .env files and
// github.com/caarlos0/env/v11 for struct parsing. Fields are described with
// env tags:
//
//	type Config struct {
//	    AccessSecret string        `env:"JWT_ACCESS_SECRET,required"`
//	    AccessTTL    time.Duration `env:"JWT_ACCESS_TTL" envDefault:"15m"`
//	}
//
// Load parses each configuration type once per process and serves later
// calls from an in-memory cache. Parse skips the cache, and ResetCache clears
// it; both are mostly useful in tests.
//
// Errors wrap ErrParsingConfig or ErrLoadingEnvFile and can be checked with
// errors.Is.
package config
