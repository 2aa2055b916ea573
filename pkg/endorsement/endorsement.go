// Package endorsement models verified metadata about a person — KYC
// attributes, a verified email, or a verified website — referenced from
// proofs so a reader can see who stands behind a signature beyond the
// bare address.
package endorsement

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"

	"github.com/bitcertify/certify/pkg/cerr"
)

// Kind is the type of evidence an endorsement attests to.
type Kind string

const (
	KindKYC             Kind = "kyc"
	KindVerifiedEmail   Kind = "verified_email"
	KindVerifiedWebsite Kind = "verified_website"
)

// Record is one piece of verified evidence about a person. Evidence is
// free-form (a name, an email address, a URL) depending on Kind;
// EvidenceHash is what actually gets folded into a bulletin's payload,
// per spec.md's "endorsement evidence hashes" in the content-hash set.
type Record struct {
	ID       int64
	PersonID int64
	Kind     Kind
	Evidence string
}

// EvidenceHash returns the lower-case hex SHA-256 of r.Evidence, the form
// that participates in a bulletin's OP_RETURN payload.
func (r Record) EvidenceHash() string {
	sum := sha256.Sum256([]byte(r.Evidence))
	return hex.EncodeToString(sum[:])
}

// Validate enforces spec.md's endorsement evidence rules: a verified
// website must be an HTTPS URL.
func Validate(kind Kind, evidence string) error {
	if strings.TrimSpace(evidence) == "" {
		return cerr.NewValidation("endorsement", "missing_evidence")
	}
	if kind == KindVerifiedWebsite {
		u, err := url.Parse(evidence)
		if err != nil || u.Scheme != "https" || u.Host == "" {
			return cerr.NewValidation("endorsement", "non_https_url")
		}
	}
	return nil
}

// HasKYC reports whether any record in records attests KindKYC.
func HasKYC(records []Record) bool {
	for _, r := range records {
		if r.Kind == KindKYC {
			return true
		}
	}
	return false
}

// Repository persists endorsements.
type Repository interface {
	ForPerson(ctx context.Context, personID int64) ([]Record, error)
}
