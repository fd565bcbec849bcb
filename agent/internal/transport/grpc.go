package transport

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/obsidianstack/eventhub/agent/internal/config"
	"github.com/obsidianstack/eventhub/pkg/ingest"
	"github.com/obsidianstack/eventhub/pkg/types"
)

// GRPCTransport calls IngestService.Ingest once per attempt.
type GRPCTransport struct {
	conn   *grpc.ClientConn
	client ingest.IngestClient
	device string
	cred   credential
}

// NewGRPC creates a client for the IngestService at cfg.Endpoint. The
// connection is established lazily on the first Send.
func NewGRPC(cfg config.TransportConfig, device string) (*GRPCTransport, error) {
	opts, err := dialOptions(cfg)
	if err != nil {
		return nil, err
	}
	conn, err := grpc.NewClient(cfg.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc transport: dial %q: %w", cfg.Endpoint, err)
	}
	return &GRPCTransport{
		conn:   conn,
		client: ingest.NewIngestClient(conn),
		device: device,
		cred:   newCredential(cfg.Auth, device),
	}, nil
}

// Send succeeds when the server returns OK.
func (t *GRPCTransport) Send(ctx context.Context, batchID string, payload []byte) error {
	md := []string{
		strings.ToLower(types.HeaderBatchID), batchID,
		strings.ToLower(types.HeaderDevice), t.device,
	}
	name, value, err := t.cred.header(ingest.ServiceName)
	if err != nil {
		return fmt.Errorf("grpc transport: %w", err)
	}
	if name != "" {
		md = append(md, strings.ToLower(name), value)
	}
	ctx = metadata.AppendToOutgoingContext(ctx, md...)

	if _, err := t.client.Ingest(ctx, wrapperspb.String(string(payload))); err != nil {
		return fmt.Errorf("grpc transport: ingest: %w", err)
	}
	return nil
}

// Close tears down the connection.
func (t *GRPCTransport) Close() error {
	return t.conn.Close()
}

// dialOptions builds the grpc.DialOption slice for cfg's TLS and auth settings.
func dialOptions(cfg config.TransportConfig) ([]grpc.DialOption, error) {
	if !cfg.TLS.Enabled && cfg.Auth.Mode != "mtls" {
		return []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, nil
	}
	tlsCfg, err := buildTLSConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("grpc transport: %w", err)
	}
	return []grpc.DialOption{grpc.WithTransportCredentials(credentials.NewTLS(tlsCfg))}, nil
}
