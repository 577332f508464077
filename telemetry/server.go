package telemetry

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service the observer server
// registers under.
const ServiceName = "raysim.telemetry.GraphObserver"

// Server exposes a Publisher's event stream as the WatchRuns server-side
// streaming RPC.
type Server struct {
	pub *Publisher
}

// NewServer wraps pub for gRPC registration.
func NewServer(pub *Publisher) *Server {
	return &Server{pub: pub}
}

// Register attaches the observer service to a grpc.Server.
func (s *Server) Register(g *grpc.Server) {
	g.RegisterService(&serviceDesc, s)
}

// WatchRuns streams every published event to the client until the client
// goes away. The request message selects an optional run_id filter;
// an empty filter streams everything.
func (s *Server) WatchRuns(req *structpb.Struct, stream grpc.ServerStream) error {
	filter := ""
	if v, ok := req.GetFields()["run_id"]; ok {
		filter = v.GetStringValue()
	}

	ch := s.pub.subscribe()
	defer s.pub.unsubscribe(ch)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return status.FromContextError(ctx.Err()).Err()
		case msg := <-ch:
			if filter != "" {
				if v, ok := msg.GetFields()["run_id"]; !ok || v.GetStringValue() != filter {
					continue
				}
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

func watchRunsHandler(srv any, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	s, ok := srv.(*Server)
	if !ok {
		return status.Errorf(codes.Internal, "telemetry: bad service registration: %T", srv)
	}
	return s.WatchRuns(req, stream)
}

// watchRunsServer is the handler interface serviceDesc registers;
// grpc checks that the registered implementation satisfies it.
type watchRunsServer interface {
	WatchRuns(req *structpb.Struct, stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*watchRunsServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchRuns",
			Handler:       watchRunsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "telemetry/server.go",
}

// WatchRuns opens the event stream from the client side, returning a
// channel closed when the stream ends. runID may be empty to watch every
// run.
func WatchRuns(ctx context.Context, conn *grpc.ClientConn, runID string) (<-chan *structpb.Struct, error) {
	req, err := structpb.NewStruct(map[string]any{"run_id": runID})
	if err != nil {
		return nil, err
	}
	stream, err := conn.NewStream(ctx, &serviceDesc.Streams[0], "/"+ServiceName+"/WatchRuns")
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}

	out := make(chan *structpb.Struct)
	go func() {
		defer close(out)
		for {
			msg := new(structpb.Struct)
			if err := stream.RecvMsg(msg); err != nil {
				return
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
