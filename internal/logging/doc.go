// Package logging provides structured logging with OpenTelemetry integration.
//
// Logging wraps Zap with:
//   - a custom Trace level (-2, below Debug)
//   - dual output (stdout and the OTEL log bridge)
//   - context field injection (trace_id, tab_id, popup_id, request_id)
//   - redaction of secrets, token patterns and URL query strings
//   - per-level sampling (errors never sampled)
//
// Components below cmd take a plain *zap.Logger; use Underlying to hand one
// out:
//
//	logger, err := logging.NewLogger(cfg, otelProvider)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//	eng, err := engine.New(engineCfg, engine.WithLogger(logger.Underlying()))
//
// Use TestLogger for assertions in tests:
//
//	tl := logging.NewTestLogger()
//	tl.Info(ctx, "detection handled", zap.String("tier", "high"))
//	tl.AssertField(t, "detection handled", "tier", "high")
package logging
