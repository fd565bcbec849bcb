// Package auth authenticates agents on both ingestion paths.
//
// A Verifier is built from the server auth settings and checks one request's
// credentials:
//
//   - apikey: the configured header must equal the key
//   - sas:    Authorization carries a shared access signature signed with the
//     policy key; key name and expiry are checked
//   - jwt:    Authorization carries "Bearer <HS256 token>" signed with the key
//   - none:   everything passes
//
// When the key is empty all calls pass through, which keeps local development
// with auth disabled simple.
//
// Interceptor(v) adapts a Verifier to a gRPC UnaryServerInterceptor that
// answers codes.Unauthenticated; Middleware(v, next) wraps an http.Handler
// and answers 401.
package auth
