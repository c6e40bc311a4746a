// Package logger builds slog loggers and provides attribute helpers.
//
//	log := logger.New(
//		logger.WithProduction("acmefront"),
//		logger.WithLevelString(cfg.LogLevel),
//		logger.WithContextExtractors(middleware.RequestIDExtractor),
//	)
//	log.InfoContext(ctx, "cert issued", logger.OrderID(order.ID), logger.Transition("approving", "active"))
//
// Development loggers write text at debug level; production loggers write JSON
// at info level. Extractors copy request-scoped values (request id, account)
// into every record logged with a context.
package logger
