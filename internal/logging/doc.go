// Package logging provides structured logging with OpenTelemetry integration.
//
// # Overview
//
// The package wraps Zap with:
//   - a Trace level (-2, below Debug) for worker request/response bodies
//   - stdout, stderr and OpenTelemetry outputs
//   - context field injection (trace_id, pair.token, session.id, request.id, stage)
//   - field and pattern based secret redaction
//   - per-level sampling (errors are never sampled)
//
// # Usage
//
//	cfg, err := logging.FromAppConfig(appCfg.Logging)
//	if err != nil {
//	    return err
//	}
//	logger, err := logging.NewLogger(cfg, tel.LoggerProvider())
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithPairToken(ctx, "r1_r2")
//	logger.Info(ctx, "synthesis completed", zap.String("verdict", "support"))
//
// Packages that only need a plain logger take a *zap.Logger; pass
// logger.Underlying().
//
// # Testing
//
//	tl := logging.NewTestLogger()
//	tl.Info(ctx, "stage fallback", zap.String("kind", "timeout"))
//	tl.AssertLogged(t, zapcore.InfoLevel, "stage fallback")
//	tl.AssertField(t, "stage fallback", "kind", "timeout")
package logging
