package web

import (
	"context"
	"net/http"

	"github.com/JonMunkholm/doorgraph/internal/core"
	mw "github.com/JonMunkholm/doorgraph/internal/web/middleware"
)

// WithRequestMetadata adds the client IP and User-Agent to ctx for run logs.
func WithRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	return core.ContextWithClient(ctx, mw.ClientIP(r), r.UserAgent())
}
