// Package logger builds context-aware *slog.Logger instances from functional
// options or from an environment-driven Config.
//
// New picks a text or JSON handler and wraps it with LogHandlerDecorator,
// which runs every registered ContextExtractor on each record.
// WithRequestScope wires the request, user and session accessors so those
// identifiers land on every line logged with a request context:
//
//	log, err := logger.FromConfig(cfg.Log,
//	    logger.WithRequestScope(logger.RequestScope{
//	        RequestID: requestid.FromContext,
//	        UserID:    auth.UserIDFromContext,
//	        SessionID: auth.SessionIDFromContext,
//	    }),
//	)
//
// Helper constructors such as Error, UserID and SessionID keep attribute keys
// consistent. Error and Errors return an empty attribute for nil errors, so
//
//	log.Info("session revoked", logger.Error(err))
//
// needs no nil check.
package logger
