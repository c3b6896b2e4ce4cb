package api

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/endpointrules/internal/rules"
)

/*
 * gRPC surface.
 *
 * One unary method carrying google.protobuf.Struct both ways, so no generated
 * code is needed:
 *
 *   request   {"serviceId": "s3",
 *              "params":   {"Region": "us-east-1", "UseFIPS": true},
 *              "builtIns": {"AWS::Region": "us-east-1"}}          (optional)
 *   response  {"url": "...", "authSchemes": [...], "authParams": {...},
 *              "properties": {...}, "headers": {"name": ["v", ...]}}
 *
 * Empty collections are omitted from the response.
 */

// ResolveEndpointMethod is the full gRPC method name.
const ResolveEndpointMethod = "/endpointrules.v1.EndpointResolver/ResolveEndpoint"

// EndpointResolverServer is the server API of the resolver service.
type EndpointResolverServer interface {
	ResolveEndpoint(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ResolverServiceDesc registers an EndpointResolverServer with a grpc.Server.
var ResolverServiceDesc = grpc.ServiceDesc{
	ServiceName: "endpointrules.v1.EndpointResolver",
	HandlerType: (*EndpointResolverServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ResolveEndpoint",
			Handler:    resolveEndpointHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "endpointrules/v1/resolver.proto",
}

func resolveEndpointHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EndpointResolverServer).ResolveEndpoint(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: ResolveEndpointMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(EndpointResolverServer).ResolveEndpoint(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// ResolverClient calls a remote resolver.
type ResolverClient struct {
	cc grpc.ClientConnInterface
}

// NewResolverClient wraps a client connection.
func NewResolverClient(cc grpc.ClientConnInterface) *ResolverClient {
	return &ResolverClient{cc: cc}
}

// ResolveEndpoint invokes the remote method with a raw request struct.
func (c *ResolverClient) ResolveEndpoint(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ResolveEndpointMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Resolve builds the request from typed parameters and returns the decoded
// response as a plain map.
func (c *ResolverClient) Resolve(ctx context.Context, serviceID string, params rules.Params) (map[string]any, error) {
	fields := make(map[string]any, len(params))
	for name, v := range params {
		if v.IsSet() {
			fields[name] = v.Interface()
		}
	}
	in, err := structpb.NewStruct(map[string]any{"serviceId": serviceID, "params": fields})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	out, err := c.ResolveEndpoint(ctx, in)
	if err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// ResolveEndpoint implements EndpointResolverServer.
func (s *ResolverService) ResolveEndpoint(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	serviceID, params, builtins, err := decodeRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	ep, err := s.Resolve(ctx, serviceID, params, builtins)
	if err != nil {
		return nil, statusFromError(err)
	}

	out, err := encodeEndpoint(ep)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func decodeRequest(req *structpb.Struct) (string, rules.Params, map[string]rules.Value, error) {
	fields := req.GetFields()
	serviceID := fields["serviceId"].GetStringValue()
	if serviceID == "" {
		return "", nil, nil, fmt.Errorf("serviceId is required")
	}
	params, err := decodeValues(fields["params"], "params")
	if err != nil {
		return "", nil, nil, err
	}
	builtins, err := decodeValues(fields["builtIns"], "builtIns")
	if err != nil {
		return "", nil, nil, err
	}
	return serviceID, params, builtins, nil
}

// decodeValues converts an optional struct field into engine values. A JSON
// null leaves the name unset.
func decodeValues(v *structpb.Value, field string) (map[string]rules.Value, error) {
	if v == nil {
		return rules.Params{}, nil
	}
	s := v.GetStructValue()
	if s == nil {
		return nil, fmt.Errorf("%s must be an object", field)
	}
	out := make(map[string]rules.Value, len(s.GetFields()))
	for name, fv := range s.GetFields() {
		if _, isNull := fv.GetKind().(*structpb.Value_NullValue); isNull {
			continue
		}
		val, err := rules.ValueOf(fv.AsInterface())
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", field, name, err)
		}
		out[name] = val
	}
	return out, nil
}

func encodeEndpoint(ep rules.ResolvedEndpoint) (*structpb.Struct, error) {
	m := map[string]any{"url": ep.URL}
	if len(ep.AuthSchemes) > 0 {
		schemes := make([]any, len(ep.AuthSchemes))
		for i, s := range ep.AuthSchemes {
			schemes[i] = s
		}
		m["authSchemes"] = schemes
	}
	if len(ep.AuthParams) > 0 {
		ap := make(map[string]any, len(ep.AuthParams))
		for k, v := range ep.AuthParams {
			ap[k] = v
		}
		m["authParams"] = ap
	}
	if len(ep.Properties) > 0 {
		props := make(map[string]any, len(ep.Properties))
		for k, v := range ep.Properties {
			props[k] = v.Interface()
		}
		m["properties"] = props
	}
	if len(ep.Headers) > 0 {
		headers := make(map[string]any, len(ep.Headers))
		for k, vs := range ep.Headers {
			list := make([]any, len(vs))
			for i, v := range vs {
				list[i] = v
			}
			headers[k] = list
		}
		m["headers"] = headers
	}
	return structpb.NewStruct(m)
}
