// Package requestid attaches a correlation identifier to every HTTP request
// and to background work.
//
// Middleware reuses a well-formed X-Request-ID header (at most 128 chars of
// [A-Za-z0-9_-]) or generates a time-ordered UUID, stores it in the request
// context and echoes it in the response. Ensure does the same for contexts
// that never passed through Middleware, such as sweeper runs. FromContext
// reads the id back; logger.WithRequestScope uses it to stamp request_id on
// every log line.
package requestid
