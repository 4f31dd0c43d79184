package signature

import (
	"github.com/michelevens/ClinicLink-sub000/agreement"
)

// Aggregate derives the agreement-level signature status from the multiset of
// record statuses. It is a pure function; the services persist its result in
// the same transaction as every record write, under the agreement row lock.
//
// An agreement whose every invitation ended rejected or cancelled, with none
// signed and none outstanding, reports declined rather than none: the failed
// round stays visible until someone requests fresh signatures.
func Aggregate(statuses []Status) agreement.SignatureStatus {
	if len(statuses) == 0 {
		return agreement.SignatureNone
	}

	var signed, requested int
	for _, s := range statuses {
		switch s {
		case StatusSigned:
			signed++
		case StatusRequested:
			requested++
		}
	}

	switch {
	case signed == len(statuses):
		return agreement.SignatureFullySigned
	case signed > 0:
		return agreement.SignaturePartiallySigned
	case requested > 0:
		return agreement.SignaturePending
	default:
		return agreement.SignatureDeclined
	}
}
