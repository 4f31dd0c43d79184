package agreement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/michelevens/ClinicLink-sub000/authz"
)

// ExpirySweeper moves lapsed agreements from active to expired in an
// idempotent batch. Each agreement goes through the regular transition path
// under its own row lock, so the sweep never bypasses the lifecycle rules and
// a concurrent terminate wins cleanly.
type ExpirySweeper struct {
	pool    *pgxpool.Pool
	status  *StatusService
	now     func() time.Time
	workers int
}

func NewExpirySweeper(pool *pgxpool.Pool) *ExpirySweeper {
	return &ExpirySweeper{
		pool:    pool,
		status:  NewStatusService(pool),
		now:     time.Now,
		workers: 4,
	}
}

func (s *ExpirySweeper) WithClock(now func() time.Time) *ExpirySweeper {
	s.now = now
	return s
}

// Sweep expires every active agreement whose end date has passed, acting as
// the given system identity (which must hold management rights). It returns
// the number of agreements expired.
func (s *ExpirySweeper) Sweep(ctx context.Context, actor authz.Identity) (int, error) {
	if !authz.CanManage(actor.Role) {
		return 0, authz.ErrPermissionDenied
	}

	rows, err := s.pool.Query(ctx, `
SELECT id FROM agreements
WHERE status = 'active'
  AND end_date IS NOT NULL
  AND end_date < $1
`, s.now())
	if err != nil {
		return 0, fmt.Errorf("agreement: query lapsed: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return 0, fmt.Errorf("agreement: scan lapsed id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("agreement: iterate lapsed: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	expired := make(chan struct{}, len(ids))
	for _, id := range ids {
		g.Go(func() error {
			_, err := s.status.Transition(ctx, TransitionParams{
				AgreementID: id,
				Actor:       actor,
				NextStatus:  StatusExpired,
			})
			switch {
			case err == nil:
				expired <- struct{}{}
				return nil
			case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrNotFound):
				// another writer got there first; the sweep stays idempotent
				return nil
			default:
				return err
			}
		})
	}
	if err := g.Wait(); err != nil {
		return len(expired), err
	}
	return len(expired), nil
}
