package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/obsidianstack/eventhub/pkg/sas"
)

// ErrUnauthenticated is wrapped by every credential failure.
var ErrUnauthenticated = errors.New("unauthenticated")

// Verifier checks agent credentials for one auth mode.
type Verifier struct {
	mode    string
	header  string
	keyName string
	key     string
	now     func() time.Time // injectable for deterministic tests
}

// New returns a Verifier. header names the API key header (apikey mode);
// keyName is the accepted sas policy name.
func New(mode, header, keyName, key string) *Verifier {
	return &Verifier{
		mode:    mode,
		header:  header,
		keyName: keyName,
		key:     key,
		now:     time.Now,
	}
}

// Mode returns the configured auth mode.
func (v *Verifier) Mode() string { return v.mode }

// Check authenticates a request for resource whose credential headers are
// looked up with get. resource is what a sas token must be signed for: host
// and path for HTTP, the full method for gRPC. It returns nil or an error
// wrapping ErrUnauthenticated.
func (v *Verifier) Check(get func(name string) string, resource string) error {
	if v.key == "" {
		return nil
	}
	switch v.mode {
	case "apikey":
		got := get(v.header)
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(v.key)) != 1 {
			return fmt.Errorf("%w: invalid api key", ErrUnauthenticated)
		}
		return nil

	case "sas":
		if _, err := sas.Verify(get("authorization"), resource, v.keyName, v.key, v.now()); err != nil {
			return fmt.Errorf("%w: %v", ErrUnauthenticated, err)
		}
		return nil

	case "jwt":
		raw, ok := strings.CutPrefix(get("authorization"), "Bearer ")
		if !ok || raw == "" {
			return fmt.Errorf("%w: missing bearer token", ErrUnauthenticated)
		}
		_, err := jwt.Parse(raw, func(*jwt.Token) (any, error) {
			return []byte(v.key), nil
		}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(v.now), jwt.WithExpirationRequired())
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnauthenticated, err)
		}
		return nil

	default:
		return nil
	}
}
