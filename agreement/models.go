package agreement

import "time"

// Status enumerates the agreement lifecycle states.
type Status string

const (
	StatusDraft         Status = "draft"
	StatusPendingReview Status = "pending_review"
	StatusActive        Status = "active"
	StatusExpired       Status = "expired"
	StatusTerminated    Status = "terminated"
)

// SignatureStatus is the agreement-level projection derived from the statuses
// of all attached signature records. It is recomputed on every signature
// write and never set directly.
type SignatureStatus string

const (
	SignatureNone            SignatureStatus = "none"
	SignaturePending         SignatureStatus = "pending"
	SignaturePartiallySigned SignatureStatus = "partially_signed"
	SignatureFullySigned     SignatureStatus = "fully_signed"
	// SignatureDeclined reports that every invitation terminated without a
	// single signature: all records rejected or cancelled, none outstanding.
	SignatureDeclined SignatureStatus = "declined"
)

// DocumentMeta describes the uploaded agreement file. The bytes themselves
// live in the document store; the agreement carries metadata only.
type DocumentMeta struct {
	FileName   string
	FileSize   int64
	StorageRef string
}

// Agreement mirrors the agreements table columns touched by the services.
type Agreement struct {
	ID              string
	UniversityID    string
	SiteID          string
	Status          Status
	SignatureStatus SignatureStatus
	StartDate       *time.Time
	EndDate         *time.Time
	Notes           *string
	Document        *DocumentMeta
	CreatedBy       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TimelineEvent captures an immutable business event for an agreement.
type TimelineEvent struct {
	ID          int64
	AgreementID string
	Seq         int
	Type        string
	ActorID     *string
	CreatedAt   time.Time
	Payload     []byte
}

// OutboxMessage represents a transactional outbox entry.
type OutboxMessage struct {
	ID        string
	Topic     string
	Payload   []byte
	Status    string
	Attempts  int
	CreatedAt time.Time
}
