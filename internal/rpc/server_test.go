package rpc

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
)

type creatorMock struct {
	mock.Mock
}

func (m *creatorMock) CreateConversation(ctx context.Context, a, b string) (models.Conversation, error) {
	args := m.Called(ctx, a, b)
	return args.Get(0).(models.Conversation), args.Error(1)
}

func dial(t *testing.T, creator ConversationCreator) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewGRPCServer(NewServer(creator, zap.NewNop()), zap.NewNop())
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestCreateConversation(t *testing.T) {
	creator := new(creatorMock)
	creator.On("CreateConversation", mock.Anything, "patient", "dietitian").
		Return(models.Conversation{ID: "c1", ParticipantA: "dietitian", ParticipantB: "patient", IsActive: true}, nil).Once()

	client := NewClient(dial(t, creator))
	resp, err := client.CreateConversation(context.Background(), &CreateConversationRequest{ParticipantA: "patient", ParticipantB: "dietitian"})
	require.NoError(t, err)
	assert.Equal(t, "c1", resp.ConversationID)
	assert.True(t, resp.IsActive)
	creator.AssertExpectations(t)
}

func TestCreateConversationErrors(t *testing.T) {
	creator := new(creatorMock)
	creator.On("CreateConversation", mock.Anything, "a", "a").Return(models.Conversation{}, repositories.ErrSelfConversation).Once()
	creator.On("CreateConversation", mock.Anything, "a", "b").Return(models.Conversation{}, assert.AnError).Once()
	client := NewClient(dial(t, creator))

	_, err := client.CreateConversation(context.Background(), &CreateConversationRequest{ParticipantA: "a"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.CreateConversation(context.Background(), &CreateConversationRequest{ParticipantA: "a", ParticipantB: "a"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.CreateConversation(context.Background(), &CreateConversationRequest{ParticipantA: "a", ParticipantB: "b"})
	assert.Equal(t, codes.Internal, status.Code(err))
	creator.AssertExpectations(t)
}

func TestHealthService(t *testing.T) {
	conn := dial(t, new(creatorMock))
	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestRecoveryInterceptor(t *testing.T) {
	interceptor := recoveryInterceptor(zap.NewNop())
	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: CreateConversationMethod}, func(context.Context, interface{}) (interface{}, error) {
		panic("boom")
	})
	assert.Equal(t, codes.Internal, status.Code(err))
}
