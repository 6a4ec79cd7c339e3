// internal/pkg/logger/logger.go
package logger

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// Init 配置全局 zerolog logger，所有组件都从这里派生自己的 logger
func Init(serviceName, level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zlog.Logger = zerolog.New(os.Stdout).With().Timestamp().Str("service", serviceName).Logger()
}

// Ctx 返回 context 中携带的 logger；没有时回退到全局 logger
func Ctx(ctx context.Context) *zerolog.Logger {
	if ctx == nil {
		return &zlog.Logger
	}
	l := zerolog.Ctx(ctx)
	if l.GetLevel() == zerolog.Disabled {
		return &zlog.Logger
	}
	return l
}

// WithTrace 把当前 span 的 trace_id 绑定到 logger 并存回 context
func WithTrace(ctx context.Context) context.Context {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return ctx
	}
	l := Ctx(ctx).With().Str("trace_id", spanCtx.TraceID().String()).Logger()
	return l.WithContext(ctx)
}
