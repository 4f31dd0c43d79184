package agreement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/michelevens/ClinicLink-sub000/authz"
)

func TestSweepRequiresManagementRights(t *testing.T) {
	sweeper := NewExpirySweeper(nil).WithClock(func() time.Time {
		return time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	})

	for _, role := range []authz.Role{authz.RoleCoordinator, authz.RoleStudent} {
		_, err := sweeper.Sweep(context.Background(), authz.Identity{Role: role})
		if !errors.Is(err, authz.ErrPermissionDenied) {
			t.Errorf("role %s: expected ErrPermissionDenied, got %v", role, err)
		}
	}
}
