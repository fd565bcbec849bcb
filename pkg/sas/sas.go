// Package sas builds and verifies Azure Service Bus style shared access
// signatures:
//
//	SharedAccessSignature sr=<uri>&sig=<hmac>&se=<expiry>&skn=<key name>
//
// The signature is base64(HMAC-SHA256(key, urlencode(uri) + "\n" + expiry)).
package sas

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const prefix = "SharedAccessSignature "

var (
	ErrMalformed = errors.New("sas: malformed token")
	ErrKeyName   = errors.New("sas: unknown key name")
	ErrSignature = errors.New("sas: signature mismatch")
	ErrExpired   = errors.New("sas: token expired")
	ErrResource  = errors.New("sas: token not valid for resource")
)

// Token returns a signature for resourceURI valid until expiry.
func Token(resourceURI, keyName, key string, expiry time.Time) string {
	sr := url.QueryEscape(resourceURI)
	se := strconv.FormatInt(expiry.Unix(), 10)
	return fmt.Sprintf("%ssr=%s&sig=%s&se=%s&skn=%s",
		prefix, sr, url.QueryEscape(sign(key, sr, se)), se, url.QueryEscape(keyName))
}

// Claims is the decoded content of a token.
type Claims struct {
	Resource string
	KeyName  string
	Expiry   time.Time
}

// Verify checks token against keyName/key at now and returns its claims.
// The token's sr must cover resource (see Covers).
func Verify(token, resource, keyName, key string, now time.Time) (*Claims, error) {
	if !strings.HasPrefix(token, prefix) {
		return nil, ErrMalformed
	}
	q, err := url.ParseQuery(strings.TrimPrefix(token, prefix))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	sr, sig, se, skn := q.Get("sr"), q.Get("sig"), q.Get("se"), q.Get("skn")
	if sr == "" || sig == "" || se == "" || skn == "" {
		return nil, ErrMalformed
	}
	if skn != keyName {
		return nil, ErrKeyName
	}
	unix, err := strconv.ParseInt(se, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: expiry %q", ErrMalformed, se)
	}

	// ParseQuery unescaped sr once; the signature covers the escaped form.
	want := sign(key, url.QueryEscape(sr), se)
	if !hmac.Equal([]byte(sig), []byte(want)) {
		return nil, ErrSignature
	}
	expiry := time.Unix(unix, 0)
	if !now.Before(expiry) {
		return nil, ErrExpired
	}
	if !Covers(sr, resource) {
		return nil, fmt.Errorf("%w: signed %q, requested %q", ErrResource, sr, resource)
	}
	return &Claims{Resource: sr, KeyName: skn, Expiry: expiry}, nil
}

// Covers reports whether a token signed for signed grants access to
// resource: the same path or one below it. Scheme, case and surrounding
// slashes are ignored. An empty signed resource covers nothing.
func Covers(signed, resource string) bool {
	signed, resource = normalize(signed), normalize(resource)
	if signed == "" {
		return false
	}
	return resource == signed || strings.HasPrefix(resource, signed+"/")
}

func normalize(uri string) string {
	if i := strings.Index(uri, "://"); i >= 0 {
		uri = uri[i+3:]
	}
	return strings.Trim(strings.ToLower(uri), "/")
}

func sign(key, escapedURI, expiry string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(escapedURI + "\n" + expiry))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
