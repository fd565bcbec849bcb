package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/obsidianstack/eventhub/agent/internal/config"
	"github.com/obsidianstack/eventhub/pkg/types"
)

// StatusError is returned when the endpoint answers with anything but the
// accept status.
type StatusError struct {
	Code int
	Want int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d, want %d", e.Code, e.Want)
}

// HTTPTransport POSTs each batch to a fixed URL.
type HTTPTransport struct {
	url      string
	resource string
	device   string
	accept   int
	gzip     bool
	cred     credential
	client   *http.Client
}

// NewHTTP creates a transport posting to endpoint.
func NewHTTP(endpoint, device string, cfg config.TransportConfig) (*HTTPTransport, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("http transport: invalid endpoint %q", endpoint)
	}
	tlsCfg, err := buildTLSConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("http transport: %w", err)
	}

	accept := cfg.AcceptStatus
	if accept == 0 {
		accept = http.StatusCreated
	}

	// The signed resource is the endpoint without query or fragment.
	resource := (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: u.Path}).String()

	return &HTTPTransport{
		url:      endpoint,
		resource: resource,
		device:   device,
		accept:   accept,
		gzip:     cfg.Compression == "gzip",
		cred:     newCredential(cfg.Auth, device),
		client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig:     tlsCfg,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

// Send posts payload and succeeds only on the accept status (201 by default).
func (t *HTTPTransport) Send(ctx context.Context, batchID string, payload []byte) error {
	body := payload
	if t.gzip {
		var err error
		if body, err = gzipBytes(payload); err != nil {
			return fmt.Errorf("http transport: compress: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("http transport: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(types.HeaderBatchID, batchID)
	req.Header.Set(types.HeaderDevice, t.device)
	if t.gzip {
		req.Header.Set("Content-Encoding", "gzip")
	}

	name, value, err := t.cred.header(t.resource)
	if err != nil {
		return fmt.Errorf("http transport: %w", err)
	}
	if name != "" {
		req.Header.Set(name, value)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("http transport: post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode != t.accept {
		return &StatusError{Code: resp.StatusCode, Want: t.accept}
	}
	return nil
}

// Close drops idle connections.
func (t *HTTPTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

func gzipBytes(p []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(p); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
