// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package server

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	// UserIDHeader is the gRPC metadata key for the user ID.
	UserIDHeader = "x-user-id"

	// DefaultUserID is used when no header is present and none is configured.
	DefaultUserID = "anonymous"

	// maxUserIDLength is the maximum allowed length of a user ID.
	maxUserIDLength = 256
)

type userIDKey struct{}

// ContextWithUserID returns ctx carrying userID.
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserIDFromContext returns the user ID set by the interceptor, or "".
func UserIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey{}).(string)
	return userID
}

// UserIDConfig controls the behavior of the user ID interceptor.
type UserIDConfig struct {
	// RequireUserID when true returns Unauthenticated if x-user-id is missing.
	RequireUserID bool

	// DefaultUserID is used when RequireUserID is false and no header is present.
	DefaultUserID string

	Logger *zap.Logger
}

// UserIDUnaryInterceptor extracts x-user-id from gRPC metadata and stores it in the
// context. The user ID labels the standing queries a caller submits.
func UserIDUnaryInterceptor(cfg UserIDConfig) grpc.UnaryServerInterceptor {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.DefaultUserID == "" {
		cfg.DefaultUserID = DefaultUserID
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := extractUserID(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

func extractUserID(ctx context.Context, cfg UserIDConfig) (context.Context, error) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(UserIDHeader); len(vals) > 0 && vals[0] != "" {
			if err := validateUserID(vals[0]); err != nil {
				return nil, status.Errorf(codes.InvalidArgument, "invalid user ID: %v", err)
			}
			return ContextWithUserID(ctx, vals[0]), nil
		}
	}

	if cfg.RequireUserID {
		return nil, status.Error(codes.Unauthenticated, "x-user-id header required")
	}
	cfg.Logger.Debug("No x-user-id header, using default", zap.String("default_user_id", cfg.DefaultUserID))
	return ContextWithUserID(ctx, cfg.DefaultUserID), nil
}

// validateUserID rejects empty, overlong and control-character IDs.
func validateUserID(id string) error {
	if id == "" {
		return fmt.Errorf("user ID must not be empty")
	}
	if len(id) > maxUserIDLength {
		return fmt.Errorf("user ID exceeds maximum length of %d characters (got %d)", maxUserIDLength, len(id))
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x20 {
			return fmt.Errorf("user ID contains control character at position %d (byte 0x%02x)", i, id[i])
		}
	}
	return nil
}

// LoggingUnaryInterceptor logs every call and converts handler panics to Internal.
func LoggingUnaryInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Panic in gRPC handler",
					zap.String("method", info.FullMethod),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()))
				resp, err = nil, status.Error(codes.Internal, "internal error")
			}

			fields := []zap.Field{
				zap.String("method", info.FullMethod),
				zap.String("user_id", UserIDFromContext(ctx)),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				code := status.Code(err)
				fields = append(fields, zap.Stringer("code", code), zap.Error(err))
				if code == codes.Internal || code == codes.Unknown {
					logger.Error("gRPC call failed", fields...)
					return
				}
				logger.Debug("gRPC call rejected", fields...)
				return
			}
			logger.Debug("gRPC call", fields...)
		}()
		return handler(ctx, req)
	}
}
