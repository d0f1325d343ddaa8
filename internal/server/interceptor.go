package server

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/joseph-ayodele/receipt-reconciler/internal/common"
)

const (
	// MetadataUserID carries the caller id set by the auth gateway.
	MetadataUserID    = "x-user-id"
	MetadataRequestID = "x-request-id"
)

// UnaryAuthInterceptor puts the caller's user id and a request id on the
// context and logs each call. Health checks pass without a user id.
func UnaryAuthInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if strings.HasPrefix(info.FullMethod, "/grpc.health.v1.Health/") {
			return handler(ctx, req)
		}
		md, _ := metadata.FromIncomingContext(ctx)
		userID := firstValue(md, MetadataUserID)
		if userID == "" {
			logger.Warn("request missing user id", "method", info.FullMethod)
			return nil, common.UnauthenticatedError(MetadataUserID + " metadata is required")
		}
		requestID := firstValue(md, MetadataRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx = common.WithUserID(common.WithRequestID(ctx, requestID), userID)

		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Info("grpc.request",
			"method", info.FullMethod,
			"request_id", requestID,
			"user_id", userID,
			"code", status.Code(err).String(),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return resp, err
	}
}

func firstValue(md metadata.MD, key string) string {
	for _, v := range md.Get(key) {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
