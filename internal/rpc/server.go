// Package rpc exposes conversation creation to the booking service over gRPC.
package rpc

import (
	"context"
	"errors"
	"runtime/debug"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/repositories"
)

const (
	ServiceName              = "messaging.v1.ConversationService"
	CreateConversationMethod = "/" + ServiceName + "/CreateConversation"
)

type CreateConversationRequest struct {
	ParticipantA string `json:"participantA"`
	ParticipantB string `json:"participantB"`
}

type CreateConversationResponse struct {
	ConversationID string `json:"conversationId"`
	ParticipantA   string `json:"participantA"`
	ParticipantB   string `json:"participantB"`
	IsActive       bool   `json:"isActive"`
}

// ConversationServer is the server API for messaging.v1.ConversationService.
type ConversationServer interface {
	CreateConversation(ctx context.Context, req *CreateConversationRequest) (*CreateConversationResponse, error)
}

var conversationServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ConversationServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateConversation", Handler: createConversationHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "messaging/v1/conversation.proto",
}

func createConversationHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CreateConversationRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ConversationServer).CreateConversation(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: CreateConversationMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ConversationServer).CreateConversation(ctx, req.(*CreateConversationRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ConversationCreator is the messaging operation the booking service drives.
type ConversationCreator interface {
	CreateConversation(ctx context.Context, participantA, participantB string) (models.Conversation, error)
}

// Server implements ConversationServer on top of the messaging service.
type Server struct {
	creator ConversationCreator
	logger  *zap.Logger
}

func NewServer(creator ConversationCreator, logger *zap.Logger) *Server {
	return &Server{creator: creator, logger: logger}
}

func (s *Server) CreateConversation(ctx context.Context, req *CreateConversationRequest) (*CreateConversationResponse, error) {
	if req.ParticipantA == "" || req.ParticipantB == "" {
		return nil, status.Error(codes.InvalidArgument, "participantA and participantB are required")
	}

	conv, err := s.creator.CreateConversation(ctx, req.ParticipantA, req.ParticipantB)
	if err != nil {
		if errors.Is(err, repositories.ErrSelfConversation) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		s.logger.Error("create conversation", zap.String("participant_a", req.ParticipantA), zap.String("participant_b", req.ParticipantB), zap.Error(err))
		return nil, status.Error(codes.Internal, "could not create conversation")
	}

	return &CreateConversationResponse{
		ConversationID: conv.ID,
		ParticipantA:   conv.ParticipantA,
		ParticipantB:   conv.ParticipantB,
		IsActive:       conv.IsActive,
	}, nil
}

// NewGRPCServer builds a gRPC server carrying the conversation and health services.
func NewGRPCServer(srv *Server, logger *zap.Logger) *grpc.Server {
	g := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			observability.GRPCServerMetricsUnaryInterceptor(),
			recoveryInterceptor(logger),
		),
	)
	g.RegisterService(&conversationServiceDesc, srv)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(g, healthServer)
	return g
}

func recoveryInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("grpc handler panic", zap.String("method", info.FullMethod), zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}

// Client calls ConversationService with the JSON codec.
type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func (c *Client) CreateConversation(ctx context.Context, req *CreateConversationRequest, opts ...grpc.CallOption) (*CreateConversationResponse, error) {
	out := new(CreateConversationResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(jsonCodecName)}, opts...)
	if err := c.conn.Invoke(ctx, CreateConversationMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
