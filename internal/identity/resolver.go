package identity

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"arcana/internal/types"
)

// AnonHeader carries the client's durable anonymous token. The client
// persists it in local storage and replays it on every request; when the
// server mints a fresh token it echoes it back in the same response header
// for the client to store.
const AnonHeader = "X-Anon-Id"

// TokenVerifier resolves a bearer token to an account Actor.
type TokenVerifier interface {
	ResolveToken(token string) (*types.Actor, error)
}

// Resolver maps an incoming request to the Identity usage is tracked under.
//
// Resolution order: a valid bearer token always wins and yields the account
// identity. Without one, the anonymous token from AnonHeader is used if it
// parses as a UUID; otherwise a fresh token is minted. Minting server-side
// keeps token shape under the server's control, but the scheme remains a
// soft limit: a client that discards its token starts over with a fresh
// identity. It cannot, however, reset an existing identity's counter.
type Resolver struct {
	verifier TokenVerifier
}

// NewResolver creates a Resolver using the given bearer-token verifier.
func NewResolver(verifier TokenVerifier) *Resolver {
	return &Resolver{verifier: verifier}
}

// Resolved is the outcome of identity resolution for one request.
type Resolved struct {
	Identity types.Identity
	// Actor is set only for account identities.
	Actor *types.Actor
	// MintedToken is non-empty when a fresh anonymous token was created for
	// this request; the caller must surface it to the client.
	MintedToken string
}

// Resolve determines the request's identity. A present-but-invalid bearer
// token is an error (the caller returns 401); the anonymous path never
// fails.
func (r *Resolver) Resolve(req *http.Request) (Resolved, error) {
	if token := bearerToken(req.Header.Get("Authorization")); token != "" {
		actor, err := r.verifier.ResolveToken(token)
		if err != nil {
			return Resolved{}, err
		}
		return Resolved{
			Identity: types.AccountIdentity(actor.ID),
			Actor:    actor,
		}, nil
	}

	if anon := req.Header.Get(AnonHeader); anon != "" {
		if _, err := uuid.Parse(anon); err == nil {
			return Resolved{Identity: types.AnonymousIdentity(anon)}, nil
		}
	}

	minted := uuid.NewString()
	return Resolved{
		Identity:    types.AnonymousIdentity(minted),
		MintedToken: minted,
	}, nil
}

// bearerToken parses an Authorization header value and returns the token.
// The "Bearer " scheme prefix is matched case-insensitively per RFC 7235.
func bearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) < len(prefix) {
		return ""
	}
	if !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(prefix):])
}
