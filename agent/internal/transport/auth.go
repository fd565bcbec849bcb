package transport

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/obsidianstack/eventhub/agent/internal/config"
	"github.com/obsidianstack/eventhub/pkg/sas"
)

// JWTIssuer is the iss claim of tokens minted in jwt auth mode.
const JWTIssuer = "eventhub-agent"

// credential builds the authentication header for one request.
// An empty name means the mode needs no header (none, mtls).
type credential struct {
	auth   config.AuthConfig
	device string
	now    func() time.Time
}

func newCredential(auth config.AuthConfig, device string) credential {
	return credential{auth: auth, device: device, now: time.Now}
}

// header returns the header name and value to attach for resource.
func (c credential) header(resource string) (name, value string, err error) {
	switch c.auth.Mode {
	case "sas":
		tok := sas.Token(resource, c.auth.KeyName, c.auth.Key(), c.now().Add(c.ttl()))
		return "Authorization", tok, nil
	case "apikey":
		return c.auth.EffectiveHeader(), c.auth.Key(), nil
	case "bearer":
		return "Authorization", "Bearer " + c.auth.Token(), nil
	case "jwt":
		tok, err := c.mintJWT()
		if err != nil {
			return "", "", err
		}
		return "Authorization", "Bearer " + tok, nil
	default:
		return "", "", nil
	}
}

func (c credential) mintJWT() (string, error) {
	now := c.now()
	claims := jwt.RegisteredClaims{
		Issuer:    JWTIssuer,
		Subject:   c.device,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl())),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.auth.Key()))
	if err != nil {
		return "", fmt.Errorf("transport: sign jwt: %w", err)
	}
	return tok, nil
}

func (c credential) ttl() time.Duration {
	if c.auth.TokenTTL > 0 {
		return c.auth.TokenTTL
	}
	return config.DefaultTokenTTL
}
