package api

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/VanDung-dev/HieraChain-Consensus/consensus"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "hierachain.consensus.v1.ConsensusService"

// JSONCodecName is the content-subtype under which consensus messages are
// encoded.
const JSONCodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec marshals gRPC messages as JSON.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                               { return JSONCodecName }

// Empty is the request of parameterless methods.
type Empty struct{}

// NodeStatsResponse is the reply of GetNodeStats.
type NodeStatsResponse struct {
	Nodes    []consensus.EvaluatorNode `json:"nodes"`
	Dispatch consensus.DispatchStats   `json:"dispatch"`
	Version  string                    `json:"version"`
	Uptime   float64                   `json:"uptime_seconds"`
}

// HistoryResponse is the reply of GetHistory.
type HistoryResponse struct {
	Results map[string]consensus.ConsensusResult `json:"results"`
}

// ConsensusServiceServer is the server API for the consensus service.
type ConsensusServiceServer interface {
	RunConsensus(context.Context, *consensus.ConsensusRequest) (*consensus.ConsensusResult, error)
	GetNodeStats(context.Context, *Empty) (*NodeStatsResponse, error)
	GetHistory(context.Context, *Empty) (*HistoryResponse, error)
}

// RegisterConsensusServiceServer registers srv with s.
func RegisterConsensusServiceServer(s grpc.ServiceRegistrar, srv ConsensusServiceServer) {
	s.RegisterService(&consensusServiceDesc, srv)
}

var consensusServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ConsensusServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RunConsensus", Handler: runConsensusHandler},
		{MethodName: "GetNodeStats", Handler: getNodeStatsHandler},
		{MethodName: "GetHistory", Handler: getHistoryHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "hierachain/consensus/v1/consensus.proto",
}

func runConsensusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(consensus.ConsensusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ConsensusServiceServer).RunConsensus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/RunConsensus"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ConsensusServiceServer).RunConsensus(ctx, req.(*consensus.ConsensusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getNodeStatsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ConsensusServiceServer).GetNodeStats(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/GetNodeStats"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ConsensusServiceServer).GetNodeStats(ctx, req.(*Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func getHistoryHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ConsensusServiceServer).GetHistory(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/GetHistory"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ConsensusServiceServer).GetHistory(ctx, req.(*Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// Client calls a remote consensus service.
type Client struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
}

// Dial creates a plaintext client for target. Extra options are appended
// after the defaults.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	defaults := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	conn, err := grpc.NewClient(target, append(defaults, opts...)...)
	if err != nil {
		return nil, err
	}
	return NewClient(conn), nil
}

// NewClient wraps an existing connection.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn, health: healthpb.NewHealthClient(conn)}
}

// RunConsensus runs one round on the server.
func (c *Client) RunConsensus(ctx context.Context, req consensus.ConsensusRequest) (*consensus.ConsensusResult, error) {
	out := new(consensus.ConsensusResult)
	if err := c.invoke(ctx, "RunConsensus", &req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetNodeStats fetches the server's node snapshot.
func (c *Client) GetNodeStats(ctx context.Context) (*NodeStatsResponse, error) {
	out := new(NodeStatsResponse)
	if err := c.invoke(ctx, "GetNodeStats", &Empty{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetHistory fetches the server's result history.
func (c *Client) GetHistory(ctx context.Context) (*HistoryResponse, error) {
	out := new(HistoryResponse)
	if err := c.invoke(ctx, "GetHistory", &Empty{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Health reports the serving status of the consensus service.
func (c *Client) Health(ctx context.Context) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, in, out interface{}) error {
	return c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, grpc.CallContentSubtype(JSONCodecName))
}
