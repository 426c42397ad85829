package hook

import (
	"context"
	"log/slog"
	"time"

	"github.com/armatrix/mcp-agent-go/internal/log"
)

// Logging logs every request and its outcome at debug level.
func Logging(logger *slog.Logger) Middleware {
	logger = log.WithComponent(log.OrDiscard(logger), "mcp.middleware")
	return func(ctx context.Context, req *Request, next Handler) (any, error) {
		attrs := []any{"request_id", req.ID, log.ServerKey, req.Server, "method", string(req.Method)}
		if req.Name != "" {
			attrs = append(attrs, "name", req.Name)
		}
		logger.DebugContext(ctx, "mcp request", attrs...)

		res, err := next(ctx, req)
		attrs = append(attrs, log.DurationKey, time.Since(req.Start).Milliseconds())
		if err != nil {
			logger.DebugContext(ctx, "mcp request failed", append(attrs, "error", err)...)
			return res, err
		}
		logger.DebugContext(ctx, "mcp response", attrs...)
		return res, nil
	}
}
