// Package obslog builds the zap loggers the cmd entry points hand to
// dispatch and introspect (the builder does not log), the
// structured-logging counterpart to buildererr's human-facing
// formatter: obslog is for operators, buildererr is for the guest
// language's own developer.
package obslog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap.Logger appropriate for a CLI binary: human-readable
// console output at Info and above, or full Debug verbosity when
// debug is true.
func New(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	return cfg.Build()
}

// Fields commonly attached to a dispatch-loop log line.
func RootField(name string) zap.Field { return zap.String("root", name) }
func BciField(bci int) zap.Field      { return zap.Int("bci", bci) }
func TierField(tier string) zap.Field { return zap.String("tier", tier) }
