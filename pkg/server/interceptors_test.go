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
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/teradata-labs/sqgate/pkg/gateway"
	"github.com/teradata-labs/sqgate/pkg/handles"
)

func captureUserID(t *testing.T, interceptor grpc.UnaryServerInterceptor, ctx context.Context) string {
	t.Helper()
	var captured context.Context
	resp, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{}, func(ctx context.Context, req any) (any, error) {
		captured = ctx
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
	require.NotNil(t, captured, "handler must be called")
	return UserIDFromContext(captured)
}

func TestUserIDUnaryInterceptor_ValidHeader(t *testing.T) {
	interceptor := UserIDUnaryInterceptor(UserIDConfig{RequireUserID: true})
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(UserIDHeader, "alice"))

	assert.Equal(t, "alice", captureUserID(t, interceptor, ctx))
}

func TestUserIDUnaryInterceptor_Defaults(t *testing.T) {
	interceptor := UserIDUnaryInterceptor(UserIDConfig{DefaultUserID: "ops"})
	assert.Equal(t, "ops", captureUserID(t, interceptor, context.Background()))

	interceptor = UserIDUnaryInterceptor(UserIDConfig{})
	assert.Equal(t, DefaultUserID, captureUserID(t, interceptor, context.Background()))
}

func TestUserIDUnaryInterceptor_Rejections(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		code codes.Code
	}{
		{
			name: "missing header",
			ctx:  context.Background(),
			code: codes.Unauthenticated,
		},
		{
			name: "empty header",
			ctx:  metadata.NewIncomingContext(context.Background(), metadata.Pairs(UserIDHeader, "")),
			code: codes.Unauthenticated,
		},
		{
			name: "control character",
			ctx:  metadata.NewIncomingContext(context.Background(), metadata.Pairs(UserIDHeader, "bad\x01id")),
			code: codes.InvalidArgument,
		},
		{
			name: "too long",
			ctx:  metadata.NewIncomingContext(context.Background(), metadata.Pairs(UserIDHeader, strings.Repeat("u", maxUserIDLength+1))),
			code: codes.InvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			interceptor := UserIDUnaryInterceptor(UserIDConfig{RequireUserID: true})
			resp, err := interceptor(tt.ctx, nil, &grpc.UnaryServerInfo{}, func(ctx context.Context, req any) (any, error) {
				t.Fatal("handler should not be called")
				return nil, nil
			})
			require.Error(t, err)
			assert.Nil(t, resp)
			assert.Equal(t, tt.code, status.Code(err))
		})
	}
}

func TestLoggingUnaryInterceptor_RecoversPanics(t *testing.T) {
	interceptor := LoggingUnaryInterceptor(zaptest.NewLogger(t))
	info := &grpc.UnaryServerInfo{FullMethod: "/" + ServiceName + "/Drain"}

	resp, err := interceptor(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		panic("boom")
	})
	assert.Nil(t, resp)
	assert.Equal(t, codes.Internal, status.Code(err))

	resp, err = interceptor(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		err  error
		code codes.Code
	}{
		{wrapped(handles.ErrNotFound), codes.NotFound},
		{wrapped(handles.ErrKindMismatch), codes.FailedPrecondition},
		{wrapped(gateway.ErrInvalidQuery), codes.InvalidArgument},
		{badRequest("max is required"), codes.InvalidArgument},
		{wrapped(context.DeadlineExceeded), codes.DeadlineExceeded},
		{errors.New("disk on fire"), codes.Internal},
		{status.Error(codes.Unavailable, "down"), codes.Unavailable},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, status.Code(toStatus(tt.err)), tt.err.Error())
	}
	assert.NoError(t, toStatus(nil))
}

func wrapped(err error) error {
	return fmt.Errorf("lookup failed: %w", err)
}
