// Package httpserver runs an http.Handler with configured timeouts and a
// graceful, context-driven shutdown.
//
// Run binds the listener before returning control to the serve loop, so
// bind failures surface as ErrStart immediately and start hooks see the real
// address (useful with ":0"). Cancelling the context passed to Run shuts the
// server down within the configured shutdown timeout. Signal handling is left
// to the caller, typically via signal.NotifyContext.
//
//	srv := httpserver.NewFromConfig(cfg.HTTP, httpserver.WithLogger(log))
//	if err := srv.Run(ctx, router); err != nil {
//	    return err
//	}
//
// LivenessHandler and ReadinessHandler back the /livez and /readyz probes.
package httpserver
