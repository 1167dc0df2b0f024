// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package server

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/teradata-labs/sqgate/pkg/federation"
	"github.com/teradata-labs/sqgate/pkg/gateway"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "sqgate.v1.Gateway"

// GatewayHandler is the gRPC surface of the gateway. Every method takes and returns a
// google.protobuf.Struct.
type GatewayHandler interface {
	SubmitStandingQuery(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SubmitQuery(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Complete(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Drain(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetHitCap(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Pause(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Resume(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RunNow(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ClearAll(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ClearOldestIntervals(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ClearOlderThan(context.Context, *structpb.Struct) (*structpb.Struct, error)
	IntervalCount(context.Context, *structpb.Struct) (*structpb.Struct, error)
	HitsInInterval(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Describe(context.Context, *structpb.Struct) (*structpb.Struct, error)
	History(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Subscribe(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Cancel(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ActiveRequests(context.Context, *structpb.Struct) (*structpb.Struct, error)
	QuerySources(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AddQuerySource(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RemoveQuerySource(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type structMethod func(GatewayHandler, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryMethod(name string, call structMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(GatewayHandler), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + name,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(GatewayHandler), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// GatewayServiceDesc describes sqgate.v1.Gateway for grpc.ServiceRegistrar.
var GatewayServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GatewayHandler)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("SubmitStandingQuery", GatewayHandler.SubmitStandingQuery),
		unaryMethod("SubmitQuery", GatewayHandler.SubmitQuery),
		unaryMethod("Complete", GatewayHandler.Complete),
		unaryMethod("Drain", GatewayHandler.Drain),
		unaryMethod("SetHitCap", GatewayHandler.SetHitCap),
		unaryMethod("Pause", GatewayHandler.Pause),
		unaryMethod("Resume", GatewayHandler.Resume),
		unaryMethod("RunNow", GatewayHandler.RunNow),
		unaryMethod("ClearAll", GatewayHandler.ClearAll),
		unaryMethod("ClearOldestIntervals", GatewayHandler.ClearOldestIntervals),
		unaryMethod("ClearOlderThan", GatewayHandler.ClearOlderThan),
		unaryMethod("IntervalCount", GatewayHandler.IntervalCount),
		unaryMethod("HitsInInterval", GatewayHandler.HitsInInterval),
		unaryMethod("GetStatus", GatewayHandler.GetStatus),
		unaryMethod("Describe", GatewayHandler.Describe),
		unaryMethod("History", GatewayHandler.History),
		unaryMethod("Subscribe", GatewayHandler.Subscribe),
		unaryMethod("Cancel", GatewayHandler.Cancel),
		unaryMethod("ActiveRequests", GatewayHandler.ActiveRequests),
		unaryMethod("QuerySources", GatewayHandler.QuerySources),
		unaryMethod("AddQuerySource", GatewayHandler.AddQuerySource),
		unaryMethod("RemoveQuerySource", GatewayHandler.RemoveQuerySource),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sqgate/v1/gateway",
}

// GatewayServer implements GatewayHandler over a gateway.Service.
type GatewayServer struct {
	svc    *gateway.Service
	events *Events
	logger *zap.Logger
}

var _ GatewayHandler = (*GatewayServer)(nil)

// NewGatewayServer creates the gRPC handler. events may be nil, which disables Subscribe.
func NewGatewayServer(svc *gateway.Service, events *Events, logger *zap.Logger) *GatewayServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GatewayServer{svc: svc, events: events, logger: logger}
}

// Register registers the service on s.
func (g *GatewayServer) Register(s grpc.ServiceRegistrar) {
	s.RegisterService(&GatewayServiceDesc, g)
}

func queryFrom(in *structpb.Struct) (*federation.Query, error) {
	view, err := optionalString(in, "view")
	if err != nil {
		return nil, err
	}
	expression, err := optionalString(in, "expression")
	if err != nil {
		return nil, err
	}
	if view == "" && expression == "" {
		return nil, nil
	}
	return &federation.Query{View: view, Expression: expression}, nil
}

func userFrom(ctx context.Context, in *structpb.Struct) (string, error) {
	user, err := optionalString(in, "user")
	if err != nil {
		return "", err
	}
	if user == "" {
		user = UserIDFromContext(ctx)
	}
	return user, nil
}
