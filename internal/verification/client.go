package verification

import (
	"context"
	"errors"
	"fmt"

	"intake/internal/models"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// VerifyMethod is the full gRPC method name of the verification service.
const VerifyMethod = "/intake.verification.v1.VerificationService/Verify"

const (
	statusApproved = "approved"
	statusRejected = "rejected"
)

// Client calls the secondary verification service. Verify never returns an
// error; failures are folded into a transport_error result.
type Client interface {
	Verify(ctx context.Context, correlationID string, payload map[string]any) models.VerificationResult
}

// GRPCClient speaks to the verification service with structpb messages.
type GRPCClient struct {
	conn grpc.ClientConnInterface
}

// Dial creates a client for address. Extra options replace the default
// insecure transport credentials when given.
func Dial(address string, opts ...grpc.DialOption) (*GRPCClient, *grpc.ClientConn, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(address, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("dial verification service: %w", err)
	}
	return NewGRPCClient(conn), conn, nil
}

func NewGRPCClient(conn grpc.ClientConnInterface) *GRPCClient {
	return &GRPCClient{conn: conn}
}

func (c *GRPCClient) Verify(ctx context.Context, correlationID string, payload map[string]any) models.VerificationResult {
	fields := map[string]any{"correlation_id": correlationID}
	if payload != nil {
		fields["payload"] = payload
	}
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return transportError("encode", err)
	}

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, VerifyMethod, req, resp); err != nil {
		code := status.Code(err)
		if errors.Is(err, context.DeadlineExceeded) || code == codes.DeadlineExceeded {
			return models.VerificationResult{Kind: models.VerificationKindTransportError, Code: "timeout", Message: err.Error()}
		}
		return models.VerificationResult{Kind: models.VerificationKindTransportError, Code: code.String(), Message: status.Convert(err).Message()}
	}

	m := resp.AsMap()
	code, _ := m["code"].(string)
	message, _ := m["message"].(string)
	switch s, _ := m["status"].(string); s {
	case statusApproved:
		return models.VerificationResult{Kind: models.VerificationKindSuccess, Code: code, Message: message}
	case statusRejected:
		return models.VerificationResult{Kind: models.VerificationKindBusinessError, Code: code, Message: message}
	default:
		return models.VerificationResult{
			Kind:    models.VerificationKindTransportError,
			Code:    "bad_response",
			Message: fmt.Sprintf("unexpected status %q", s),
		}
	}
}

func transportError(stage string, err error) models.VerificationResult {
	return models.VerificationResult{
		Kind:    models.VerificationKindTransportError,
		Code:    stage,
		Message: err.Error(),
	}
}
