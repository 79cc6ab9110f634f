// Package logging provides the structured logger used by mirroragent.
//
// Logger wraps zap with context-first methods. Every call prepends the
// correlation fields found in the context: the OpenTelemetry trace and span
// ids, the site id and the request id.
//
//	ctx = logging.WithSiteID(ctx, "acme_ro")
//	logger.Info(ctx, "route decided", zap.String("decision", "FAQ_RESPONSE"))
//
// Output goes to stdout (json or console) and, when a log provider is given,
// to OpenTelemetry through the otelzap bridge. Levels below error are
// sampled; sensitive keys and value patterns are redacted in the encoder.
//
// Library packages take a plain *zap.Logger; binaries build one here and pass
// Underlying() down.
package logging
