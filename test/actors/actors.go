// Package actors holds the concurrent workloads for the stress harness. Each
// actor loops until stop closes, driving one side of the signature workflow
// through the real services so row-lock ordering is exercised end to end.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/michelevens/ClinicLink-sub000/agreement"
	"github.com/michelevens/ClinicLink-sub000/authz"
	"github.com/michelevens/ClinicLink-sub000/signature"
)

// tolerable reports whether err is an expected outcome under contention.
func tolerable(err error) bool {
	return errors.Is(err, signature.ErrInvalidTransition) ||
		errors.Is(err, signature.ErrNotFound) ||
		errors.Is(err, agreement.ErrInvalidTransition) ||
		errors.Is(err, agreement.ErrNotFound) ||
		errors.Is(err, authz.ErrPermissionDenied)
}

// Requester keeps inviting new signers on the same agreement.
func Requester(ctx context.Context, svc *signature.Service, actor authz.Identity, agreementID string, stop <-chan struct{}) error {
	roles := []signature.SignerRole{signature.SignerUniversity, signature.SignerSite}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		n := rand.Int63()
		_, err := svc.Request(ctx, actor, signature.RequestParams{
			AgreementID: agreementID,
			SignerName:  fmt.Sprintf("Signer %d", n),
			SignerEmail: fmt.Sprintf("signer%d@stress.example", n),
			SignerRole:  roles[rand.Intn(len(roles))],
		})
		if err != nil && !tolerable(err) {
			return fmt.Errorf("requester: %w", err)
		}
		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
}

// Signer races to sign any outstanding request as its invited identity.
func Signer(ctx context.Context, pool *pgxpool.Pool, svc *signature.Service, agreementID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		id, email, err := pickRequested(ctx, pool, agreementID)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("signer pick: %w", err)
		}
		if id != "" {
			identity := authz.Identity{Email: email, Role: authz.RoleStudent}
			if _, err := svc.Sign(ctx, identity, id, []byte("stress-artifact")); err != nil && !tolerable(err) {
				return fmt.Errorf("signer sign: %w", err)
			}
		}
		time.Sleep(time.Duration(15+rand.Intn(35)) * time.Millisecond)
	}
}

// Rejecter declines outstanding requests, racing the signers for the same rows.
func Rejecter(ctx context.Context, pool *pgxpool.Pool, svc *signature.Service, agreementID string, stop <-chan struct{}) error {
	reason := "stress rejection"
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		id, email, err := pickRequested(ctx, pool, agreementID)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("rejecter pick: %w", err)
		}
		if id != "" {
			identity := authz.Identity{Email: email, Role: authz.RoleStudent}
			if _, err := svc.Reject(ctx, identity, id, &reason); err != nil && !tolerable(err) {
				return fmt.Errorf("rejecter reject: %w", err)
			}
		}
		time.Sleep(time.Duration(25+rand.Intn(50)) * time.Millisecond)
	}
}

// Resender re-dispatches outstanding invites, racing the locked state
// changes for the same agreement's timeline.
func Resender(ctx context.Context, pool *pgxpool.Pool, svc *signature.Service, actor authz.Identity, agreementID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		id, _, err := pickRequested(ctx, pool, agreementID)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("resender pick: %w", err)
		}
		if id != "" {
			if _, err := svc.Resend(ctx, actor, id); err != nil && !tolerable(err) {
				return fmt.Errorf("resender resend: %w", err)
			}
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Canceller retires pending requests from the requester side.
func Canceller(ctx context.Context, pool *pgxpool.Pool, svc *signature.Service, actor authz.Identity, agreementID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		id, _, err := pickRequested(ctx, pool, agreementID)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("canceller pick: %w", err)
		}
		if id != "" {
			if _, err := svc.Cancel(ctx, actor, id); err != nil && !tolerable(err) {
				return fmt.Errorf("canceller cancel: %w", err)
			}
		}
		time.Sleep(time.Duration(40+rand.Intn(60)) * time.Millisecond)
	}
}

// LifecycleDriver walks the agreement lifecycle along random edges, relying on
// the service to refuse the invalid ones.
func LifecycleDriver(ctx context.Context, transitions *agreement.StatusService, actor authz.Identity, agreementID string, stop <-chan struct{}) error {
	statuses := []agreement.Status{
		agreement.StatusDraft,
		agreement.StatusPendingReview,
		agreement.StatusActive,
		agreement.StatusExpired,
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := transitions.Transition(ctx, agreement.TransitionParams{
			AgreementID: agreementID,
			Actor:       actor,
			NextStatus:  statuses[rand.Intn(len(statuses))],
		})
		if err != nil && !tolerable(err) {
			return fmt.Errorf("lifecycle: %w", err)
		}
		time.Sleep(time.Duration(50+rand.Intn(80)) * time.Millisecond)
	}
}

// OutboxWorker consumes pending outbox messages with SKIP LOCKED, marking them
// processed or bumping attempts on simulated failure.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		rows, err := tx.Query(ctx, `SELECT id FROM outbox WHERE status='pending' ORDER BY created_at FOR UPDATE SKIP LOCKED LIMIT 10`)
		if err != nil {
			_ = tx.Rollback(ctx)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		ids := make([]string, 0, 10)
		for rows.Next() {
			var id string
			_ = rows.Scan(&id)
			ids = append(ids, id)
		}
		rows.Close()
		for _, id := range ids {
			if rand.Intn(10) == 0 {
				_, _ = tx.Exec(ctx, `UPDATE outbox SET attempts=attempts+1 WHERE id=$1`, id)
				continue
			}
			_, _ = tx.Exec(ctx, `UPDATE outbox SET status='processed', attempts=attempts+1 WHERE id=$1`, id)
		}
		_ = tx.Commit(ctx)
		time.Sleep(100 * time.Millisecond)
	}
}

// pickRequested returns one outstanding request without locking it, so the
// service's own lock ordering decides the race.
func pickRequested(ctx context.Context, pool *pgxpool.Pool, agreementID string) (string, string, error) {
	var id, email string
	err := pool.QueryRow(ctx,
		`SELECT id, signer_email FROM signatures WHERE agreement_id=$1 AND status='requested' ORDER BY random() LIMIT 1`,
		agreementID).Scan(&id, &email)
	if err != nil {
		return "", "", err
	}
	return id, email, nil
}
