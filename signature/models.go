package signature

import "time"

// Status enumerates the per-record signing states. requested is the only
// non-terminal state; signed, rejected, and cancelled accept no further
// transition.
type Status string

const (
	StatusRequested Status = "requested"
	StatusSigned    Status = "signed"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status accepts no further transition.
func (s Status) Terminal() bool {
	return s == StatusSigned || s == StatusRejected || s == StatusCancelled
}

// SignerRole names which party to the agreement the signer represents. It is
// independent of the platform-wide user roles.
type SignerRole string

const (
	SignerUniversity SignerRole = "university"
	SignerSite       SignerRole = "site"
)

// Valid reports whether the signer role is a known party.
func (r SignerRole) Valid() bool {
	return r == SignerUniversity || r == SignerSite
}

// Record is one invited signer's state, attached to exactly one agreement.
// A rejected or cancelled record is never reused; a fresh request creates a
// new record.
type Record struct {
	ID          string
	AgreementID string
	SignerName  string
	SignerEmail string
	SignerRole  SignerRole
	// SignerID is resolved lazily: the record may be created before the
	// signer has an account, and is matched at sign-time by email or by the
	// authenticated identity.
	SignerID        *string
	Status          Status
	SignatureData   []byte
	SignedAt        *time.Time
	RejectedAt      *time.Time
	RejectionReason *string
	Message         *string
	// Delivered records the outcome of the last notification dispatch. It is
	// bookkeeping only and never gates a state transition.
	Delivered *bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
