// Package label defines the three independent label axes tracked per value:
// integrity (how much the origin is trusted), confidentiality (which
// sensitivity tags the value carries), and authority (which host-minted
// capability tokens travel with it). The axes never substitute for each
// other; each merges under its own rule.
package label

import "sort"

// Trust is the integrity ordering. Lower is less trusted.
type Trust int

const (
	Untrusted Trust = iota
	Trusted
	Verified
)

// String returns the wire name for a trust level.
func (t Trust) String() string {
	switch t {
	case Untrusted:
		return "untrusted"
	case Trusted:
		return "trusted"
	case Verified:
		return "verified"
	default:
		return "untrusted"
	}
}

// ParseTrust maps a string to a Trust level. Fail-closed: unknown → Untrusted.
func ParseTrust(s string) Trust {
	switch s {
	case "trusted":
		return Trusted
	case "verified":
		return Verified
	default:
		return Untrusted
	}
}

// VerificationKind qualifies a Verified integrity label. Closed set.
type VerificationKind string

const (
	KindHost      VerificationKind = "host"
	KindSignature VerificationKind = "signature"
	KindReview    VerificationKind = "review"
)

// KnownVerificationKind reports whether k is one of the supported kinds.
func KnownVerificationKind(k VerificationKind) bool {
	switch k {
	case KindHost, KindSignature, KindReview:
		return true
	default:
		return false
	}
}

// Integrity is the integrity axis of a label.
type Integrity struct {
	Trust Trust            `json:"trust"`
	Kind  VerificationKind `json:"kind,omitempty"`
}

// MinIntegrity merges two integrity labels: the lower trust wins. Two
// Verified labels with different kinds degrade to Trusted, since the
// combined value no longer carries a single verification lineage.
func MinIntegrity(a, b Integrity) Integrity {
	if a.Trust < b.Trust {
		return a
	}
	if b.Trust < a.Trust {
		return b
	}
	if a.Trust == Verified && a.Kind != b.Kind {
		return Integrity{Trust: Trusted}
	}
	return a
}

// ConfSet is a sorted, deduplicated set of confidentiality tags.
// The slice form keeps json.Marshal deterministic for hashing.
type ConfSet []string

// NewConfSet builds a ConfSet from tags, sorting and deduplicating.
func NewConfSet(tags ...string) ConfSet {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil
	}
	return out
}

// Union returns the set union of c and other.
func (c ConfSet) Union(other ConfSet) ConfSet {
	if len(other) == 0 {
		return c
	}
	if len(c) == 0 {
		return other
	}
	return NewConfSet(append(append([]string{}, c...), other...)...)
}

// Contains reports whether tag is in the set.
func (c ConfSet) Contains(tag string) bool {
	for _, t := range c {
		if t == tag {
			return true
		}
	}
	return false
}

// ContainsAny reports whether any of tags is in the set.
func (c ConfSet) ContainsAny(tags []string) (string, bool) {
	for _, t := range tags {
		if c.Contains(t) {
			return t, true
		}
	}
	return "", false
}

// Without returns a copy of the set with tag removed.
func (c ConfSet) Without(tag string) ConfSet {
	out := make([]string, 0, len(c))
	for _, t := range c {
		if t != tag {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Equal reports element-wise equality.
func (c ConfSet) Equal(other ConfSet) bool {
	if len(c) != len(other) {
		return false
	}
	for i := range c {
		if c[i] != other[i] {
			return false
		}
	}
	return true
}

// AuthSet is the authority axis: references to host-minted tokens carried
// by a value. The zero value is unbounded (no authority constraint), which
// is the identity for intersection; derivation can only narrow authority.
type AuthSet struct {
	Bounded bool     `json:"bounded,omitempty"`
	Refs    []string `json:"refs,omitempty"`
}

// NewAuthSet builds a bounded authority set from token references.
func NewAuthSet(refs ...string) AuthSet {
	out := make([]string, 0, len(refs))
	seen := make(map[string]bool, len(refs))
	for _, r := range refs {
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	sort.Strings(out)
	return AuthSet{Bounded: true, Refs: out}
}

// Intersect merges two authority sets. Authority never grows under
// derivation: the result holds only references present in both bounded
// sets; an unbounded side imposes no constraint.
func (a AuthSet) Intersect(b AuthSet) AuthSet {
	if !a.Bounded {
		return b
	}
	if !b.Bounded {
		return a
	}
	var out []string
	for _, r := range a.Refs {
		for _, s := range b.Refs {
			if r == s {
				out = append(out, r)
				break
			}
		}
	}
	return AuthSet{Bounded: true, Refs: out}
}

// Labels is the full label triple attached to a value at creation.
type Labels struct {
	Integrity       Integrity `json:"integrity"`
	Confidentiality ConfSet   `json:"confidentiality,omitempty"`
	Authority       AuthSet   `json:"authority,omitempty"`
}

// Merge combines two label triples under each axis's rule: integrity takes
// the minimum, confidentiality the union, authority the intersection.
// Confidentiality is monotone: merging never drops a tag.
func Merge(a, b Labels) Labels {
	return Labels{
		Integrity:       MinIntegrity(a.Integrity, b.Integrity),
		Confidentiality: a.Confidentiality.Union(b.Confidentiality),
		Authority:       a.Authority.Intersect(b.Authority),
	}
}

// HostTrusted returns the label for host-created constants and structure.
func HostTrusted() Labels {
	return Labels{Integrity: Integrity{Trust: Trusted}}
}

// UntrustedExternal returns the label for data arriving from an external
// tool result, carrying the given confidentiality tags.
func UntrustedExternal(tags ...string) Labels {
	return Labels{
		Integrity:       Integrity{Trust: Untrusted},
		Confidentiality: NewConfSet(tags...),
	}
}
