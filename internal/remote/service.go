// Package remote serves registered environments over gRPC and provides
// Env and MultiAgentEnv implementations backed by such a server.
//
// Messages travel as google.protobuf.Struct so no generated stubs are
// needed; each RPC has a typed Go payload that is converted to and from
// the Struct through its JSON form.
package remote

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cartridge/rollout/internal/env"
	"github.com/cartridge/rollout/internal/space"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "rollout.env.v1.Environment"

const (
	methodOpen       = "Open"
	methodReset      = "Reset"
	methodStep       = "Step"
	methodRender     = "Render"
	methodStatistics = "Statistics"
	methodClose      = "Close"
)

func fullMethod(name string) string { return "/" + ServiceName + "/" + name }

// EnvironmentServer is the server side of the Environment service.
type EnvironmentServer interface {
	Open(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Reset(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Step(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Render(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Statistics(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CloseSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes the Environment service for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EnvironmentServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: methodOpen, Handler: unary(methodOpen, EnvironmentServer.Open)},
		{MethodName: methodReset, Handler: unary(methodReset, EnvironmentServer.Reset)},
		{MethodName: methodStep, Handler: unary(methodStep, EnvironmentServer.Step)},
		{MethodName: methodRender, Handler: unary(methodRender, EnvironmentServer.Render)},
		{MethodName: methodStatistics, Handler: unary(methodStatistics, EnvironmentServer.Statistics)},
		{MethodName: methodClose, Handler: unary(methodClose, EnvironmentServer.CloseSession)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rollout/env/v1/environment.proto",
}

// RegisterEnvironmentServer registers srv with s.
func RegisterEnvironmentServer(s grpc.ServiceRegistrar, srv EnvironmentServer) {
	s.RegisterService(&ServiceDesc, srv)
}

type call func(EnvironmentServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(method string, fn call) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return fn(srv.(EnvironmentServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod(method),
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return fn(srv.(EnvironmentServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Wire payloads

type openRequest struct {
	Name   string         `json:"name"`
	Config map[string]any `json:"config,omitempty"`
}

type openReply struct {
	Session      string                `json:"session"`
	MultiAgent   bool                  `json:"multiagent"`
	ActionSpace  *space.Spec           `json:"action_space,omitempty"`
	ActionSpaces map[string]space.Spec `json:"action_spaces,omitempty"`
	Renders      bool                  `json:"renders"`
	Statistics   bool                  `json:"statistics"`
}

type sessionRequest struct {
	Session string `json:"session"`
}

type resetReply struct {
	Obs      []float64            `json:"obs,omitempty"`
	MultiObs map[string][]float64 `json:"multi_obs,omitempty"`
}

type stepRequest struct {
	Session string                  `json:"session"`
	Action  space.Action            `json:"action,omitempty"`
	Actions map[string]space.Action `json:"actions,omitempty"`
}

type stepReply struct {
	Obs    []float64 `json:"obs,omitempty"`
	Reward float64   `json:"reward"`
	Done   bool      `json:"done"`
	Info   env.Info  `json:"info,omitempty"`

	MultiObs map[string][]float64 `json:"multi_obs,omitempty"`
	Rewards  map[string]float64   `json:"rewards,omitempty"`
	Dones    map[string]bool      `json:"dones,omitempty"`
	Infos    map[string]env.Info  `json:"infos,omitempty"`
}

type renderReply struct {
	Frame string `json:"frame"`
}

type statisticsReply struct {
	Statistics map[string]float64 `json:"statistics"`
}

// encode converts a payload to a Struct through its JSON form.
func encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %T: %w", v, err)
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to encode %T: %w", v, err)
	}
	return s, nil
}

// decode is the inverse of encode.
func decode(s *structpb.Struct, v any) error {
	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to decode %T: %w", v, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %T: %w", v, err)
	}
	return nil
}
