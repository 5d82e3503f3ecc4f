// Package logger provides a slog.Logger factory with per-environment
// defaults and context attribute injection.
//
// The context handler decorator pulls request-scoped values (request id,
// user id) into every record logged with a context, so call sites never
// repeat them:
//
//	log := logger.New(
//		logger.WithEnvironment(cfg.Env, "ancestorii-billing"),
//		logger.WithContextExtractors(requestid.LogExtractor()),
//	)
package logger
