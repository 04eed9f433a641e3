// Package authority models host-minted capability tokens: minting,
// strictly narrowing delegation, revocation, and fail-closed validation
// at policy boundaries. Tokens are never synthesizable by executed code;
// the guest only ever sees opaque references.
package authority

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// IssuerTrust classifies who is asking to mint.
type IssuerTrust string

const (
	HostTrusted IssuerTrust = "host_trusted"
	Untrusted   IssuerTrust = "untrusted"
)

// Token is a host-minted capability with lineage and lifecycle bounds.
// Timestamps are unix seconds in the host clock domain; expiry is
// inclusive (a token expires the second its bound is reached).
type Token struct {
	ID         string   `json:"id"`
	Issuer     string   `json:"issuer"`
	Subject    string   `json:"subject"`
	Capability string   `json:"capability"`
	Scope      []string `json:"scope"`
	IssuedAt   int64    `json:"issued_at"`
	ExpiresAt  int64    `json:"expires_at"`
	Parent     string   `json:"parent,omitempty"`
}

// NewTokenID mints a fresh opaque token identifier.
func NewTokenID() string {
	return "tok-" + uuid.NewString()
}

// MintRequest carries the fields for minting a root token.
type MintRequest struct {
	ID          string
	Issuer      string
	IssuerTrust IssuerTrust
	Subject     string
	Capability  string
	Scope       []string
	IssuedAt    int64
	ExpiresAt   int64
}

// Mint creates a root token. Untrusted issuers are rejected fail-closed.
func Mint(req MintRequest) (*Token, error) {
	if err := validateLifetime(req.IssuedAt, req.ExpiresAt); err != nil {
		return nil, err
	}
	if req.IssuerTrust != HostTrusted {
		return nil, fmt.Errorf("authority: issuer %q is not host-trusted", req.Issuer)
	}
	if req.ID == "" || req.Subject == "" || req.Capability == "" {
		return nil, fmt.Errorf("authority: mint request with empty id, subject, or capability")
	}
	return &Token{
		ID:         req.ID,
		Issuer:     req.Issuer,
		Subject:    req.Subject,
		Capability: req.Capability,
		Scope:      sortedScope(req.Scope),
		IssuedAt:   req.IssuedAt,
		ExpiresAt:  req.ExpiresAt,
	}, nil
}

// DelegationRequest carries the fields for deriving a child token.
type DelegationRequest struct {
	ID          string
	DelegatedBy string
	Subject     string
	Scope       []string
	DelegatedAt int64
	ExpiresAt   int64
}

// Delegate derives a child token from a parent with strict narrowing:
// the child's scope must be a strict subset and its lifetime strictly
// shorter. Revoked or expired parents are rejected before anything else,
// so a bad parent fails closed regardless of the request's shape.
func Delegate(parent *Token, req DelegationRequest, revoked *RevocationIndex) (*Token, error) {
	if revoked.IsRevoked(parent.ID) {
		return nil, fmt.Errorf("authority: parent token %q is revoked", parent.ID)
	}
	if parent.ExpiredAt(req.DelegatedAt) {
		return nil, fmt.Errorf("authority: parent token %q expired before delegation", parent.ID)
	}
	if req.DelegatedAt < parent.IssuedAt {
		return nil, fmt.Errorf("authority: delegation at %d precedes parent issuance at %d", req.DelegatedAt, parent.IssuedAt)
	}
	if err := validateLifetime(req.DelegatedAt, req.ExpiresAt); err != nil {
		return nil, err
	}
	if !strictSubset(req.Scope, parent.Scope) {
		return nil, fmt.Errorf("authority: delegated scope is not a strict subset of parent scope")
	}
	if req.ExpiresAt >= parent.ExpiresAt {
		return nil, fmt.Errorf("authority: delegated lifetime %d does not end before parent's %d", req.ExpiresAt, parent.ExpiresAt)
	}
	if req.ID == "" || req.Subject == "" {
		return nil, fmt.Errorf("authority: delegation request with empty id or subject")
	}
	return &Token{
		ID:         req.ID,
		Issuer:     req.DelegatedBy,
		Subject:    req.Subject,
		Capability: parent.Capability,
		Scope:      sortedScope(req.Scope),
		IssuedAt:   req.DelegatedAt,
		ExpiresAt:  req.ExpiresAt,
		Parent:     parent.ID,
	}, nil
}

// Grants reports whether the token authorizes capability on resource for
// subject. All three must match.
func (t *Token) Grants(subject, capability, resource string) bool {
	if t.Subject != subject || t.Capability != capability {
		return false
	}
	for _, r := range t.Scope {
		if r == resource {
			return true
		}
	}
	return false
}

// ExpiredAt reports whether the token has expired at the given time.
// The boundary is inclusive.
func (t *Token) ExpiredAt(now int64) bool {
	return now >= t.ExpiresAt
}

// PreIssuanceAt reports whether the evaluation time precedes issuance.
func (t *Token) PreIssuanceAt(now int64) bool {
	return now < t.IssuedAt
}

// RevocationIndex tracks revoked token ids. Revoked tokens are stripped
// at boundaries and rejected as delegation parents.
type RevocationIndex struct {
	revoked map[string]bool
}

// NewRevocationIndex returns an empty index.
func NewRevocationIndex() *RevocationIndex {
	return &RevocationIndex{revoked: make(map[string]bool)}
}

// Revoke marks a token id as revoked.
func (r *RevocationIndex) Revoke(id string) {
	r.revoked[id] = true
}

// IsRevoked reports whether id has been revoked. A nil index revokes
// nothing.
func (r *RevocationIndex) IsRevoked(id string) bool {
	return r != nil && r.revoked[id]
}

// Revoked returns all revoked ids, sorted.
func (r *RevocationIndex) Revoked() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.revoked))
	for id := range r.revoked {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func validateLifetime(issuedAt, expiresAt int64) error {
	if expiresAt <= issuedAt {
		return fmt.Errorf("authority: lifetime [%d, %d) is empty", issuedAt, expiresAt)
	}
	return nil
}

func sortedScope(scope []string) []string {
	out := append([]string(nil), scope...)
	sort.Strings(out)
	return out
}

// strictSubset reports whether child ⊂ parent (subset and not equal).
func strictSubset(child, parent []string) bool {
	if len(child) >= len(parent) {
		return false
	}
	in := make(map[string]bool, len(parent))
	for _, r := range parent {
		in[r] = true
	}
	for _, r := range child {
		if !in[r] {
			return false
		}
	}
	return true
}
