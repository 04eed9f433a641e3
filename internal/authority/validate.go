package authority

// InvalidReason classifies why a token was stripped at a boundary.
type InvalidReason string

const (
	ReasonRevoked     InvalidReason = "revoked"
	ReasonExpired     InvalidReason = "expired"
	ReasonPreIssuance InvalidReason = "pre_issuance"
)

// InvalidToken records one stripped token and why.
type InvalidToken struct {
	ID     string        `json:"id"`
	Reason InvalidReason `json:"reason"`
}

// BoundaryValidation is the outcome of validating a token set at a
// policy-evaluation boundary: the effective authority available to the
// check, plus the stripped tokens for audit.
type BoundaryValidation struct {
	Effective []*Token
	Invalid   []InvalidToken
}

// ValidateAtBoundary strips revoked, expired, and pre-issuance tokens
// from the set. The surviving tokens are the authority available to
// downstream policy checks.
func ValidateAtBoundary(tokens []*Token, revoked *RevocationIndex, now int64) BoundaryValidation {
	var v BoundaryValidation
	for _, t := range tokens {
		switch {
		case revoked.IsRevoked(t.ID):
			v.Invalid = append(v.Invalid, InvalidToken{ID: t.ID, Reason: ReasonRevoked})
		case t.ExpiredAt(now):
			v.Invalid = append(v.Invalid, InvalidToken{ID: t.ID, Reason: ReasonExpired})
		case t.PreIssuanceAt(now):
			v.Invalid = append(v.Invalid, InvalidToken{ID: t.ID, Reason: ReasonPreIssuance})
		default:
			v.Effective = append(v.Effective, t)
		}
	}
	return v
}

// RevalidateOnRestore re-runs boundary validation after a snapshot is
// loaded. Tokens that expired or were revoked while the execution was
// suspended must not survive the resume.
func RevalidateOnRestore(tokens []*Token, revoked *RevocationIndex, now int64) BoundaryValidation {
	return ValidateAtBoundary(tokens, revoked, now)
}

// HasAuthority reports whether any effective token grants capability on
// resource for subject. This is the checker the policy engine consults.
func (v BoundaryValidation) HasAuthority(subject, capability, resource string) bool {
	for _, t := range v.Effective {
		if t.Grants(subject, capability, resource) {
			return true
		}
	}
	return false
}
