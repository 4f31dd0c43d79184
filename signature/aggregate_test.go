package signature

import (
	"testing"

	"github.com/michelevens/ClinicLink-sub000/agreement"
)

func TestAggregate(t *testing.T) {
	cases := []struct {
		name     string
		statuses []Status
		want     agreement.SignatureStatus
	}{
		{"no records", nil, agreement.SignatureNone},
		{"single requested", []Status{StatusRequested}, agreement.SignaturePending},
		{"two requested", []Status{StatusRequested, StatusRequested}, agreement.SignaturePending},
		{"one signed one requested", []Status{StatusSigned, StatusRequested}, agreement.SignaturePartiallySigned},
		{"one signed one rejected", []Status{StatusSigned, StatusRejected}, agreement.SignaturePartiallySigned},
		{"one signed one cancelled", []Status{StatusSigned, StatusCancelled}, agreement.SignaturePartiallySigned},
		{"single signed", []Status{StatusSigned}, agreement.SignatureFullySigned},
		{"all signed", []Status{StatusSigned, StatusSigned, StatusSigned}, agreement.SignatureFullySigned},
		{"rejected with outstanding", []Status{StatusRejected, StatusRequested}, agreement.SignaturePending},
		{"cancelled with outstanding", []Status{StatusCancelled, StatusRequested}, agreement.SignaturePending},
		{"all rejected", []Status{StatusRejected, StatusRejected}, agreement.SignatureDeclined},
		{"all cancelled", []Status{StatusCancelled}, agreement.SignatureDeclined},
		{"rejected and cancelled", []Status{StatusRejected, StatusCancelled}, agreement.SignatureDeclined},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Aggregate(tc.statuses); got != tc.want {
				t.Fatalf("Aggregate(%v) = %s, want %s", tc.statuses, got, tc.want)
			}
		})
	}
}

// The declined projection must never collapse into none: a failed round of
// invitations stays visible until fresh requests are made.
func TestAggregate_DeclinedNeverNone(t *testing.T) {
	terminalNotSigned := []Status{StatusRejected, StatusCancelled}
	for _, a := range terminalNotSigned {
		for _, b := range terminalNotSigned {
			if got := Aggregate([]Status{a, b}); got == agreement.SignatureNone {
				t.Fatalf("Aggregate([%s %s]) collapsed into none", a, b)
			}
		}
	}
}
