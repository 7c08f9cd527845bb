// Package lifecycle owns the state machine for a food listing:
// available -> claimed -> completed, with time-driven expiry and claim
// cancellation reopening the listing. The engine is the sole writer of
// listing status and claim status; all transitions are conditional
// writes so concurrent writers settle by compare-and-swap, never by
// blind overwrite.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/nikeshsapkota32/save-more/internal/store"
	"github.com/nikeshsapkota32/save-more/pkg/models"
)

// TokenService is the slice of the verification-token service the
// engine needs: read-only validation, invalidation on cancel, and the
// one-time spend during pickup verification.
type TokenService interface {
	Validate(ctx context.Context, encoded string) (*models.VerificationToken, error)
	Spend(ctx context.Context, encoded, spenderID string) (*models.VerificationToken, error)
	Invalidate(ctx context.Context, listingID string) error
}

// Engine validates and applies listing transitions.
type Engine struct {
	store  store.Store
	tokens TokenService
	now    func() time.Time
}

// NewEngine creates an engine over the given store and token service.
func NewEngine(st store.Store, tokens TokenService) *Engine {
	return &Engine{store: st, tokens: tokens, now: time.Now}
}

// CreateAttrs are the donor-supplied fields of a new listing.
type CreateAttrs struct {
	Name           string
	Category       models.FoodCategory
	Quantity       string
	Description    string
	ImageURL       string
	PickupLocation string
	DonorName      string
	ExpiresAt      time.Time
}

// ClaimInfo is the rescuer-supplied payload of a claim attempt.
type ClaimInfo struct {
	ClaimerName    string
	Contact        string
	ArrivalMinutes int
	Note           string
}

// Get returns the listing by id.
func (e *Engine) Get(ctx context.Context, id string) (*models.Listing, error) {
	return e.store.GetListing(ctx, id)
}

// ListAvailable returns all listings currently in the available state.
func (e *Engine) ListAvailable(ctx context.Context) ([]models.Listing, error) {
	return e.store.ListAvailable(ctx)
}

// ListByDonor returns a donor's listings in any state.
func (e *Engine) ListByDonor(ctx context.Context, donorID string) ([]models.Listing, error) {
	return e.store.ListByDonor(ctx, donorID)
}

// Create validates attrs and stores a new listing in the available
// state.
func (e *Engine) Create(ctx context.Context, donorID string, attrs CreateAttrs) (*models.Listing, error) {
	now := e.now()
	switch {
	case donorID == "":
		return nil, fmt.Errorf("%w: donor id is required", models.ErrValidation)
	case attrs.Name == "":
		return nil, fmt.Errorf("%w: name is required", models.ErrValidation)
	case attrs.Quantity == "":
		return nil, fmt.Errorf("%w: quantity is required", models.ErrValidation)
	case !attrs.ExpiresAt.After(now):
		return nil, fmt.Errorf("%w: expiry must be in the future", models.ErrValidation)
	}

	category := attrs.Category
	if category == "" {
		category = models.CategoryOther
	}

	l := &models.Listing{
		ID:             uuid.New().String(),
		Name:           attrs.Name,
		Category:       category,
		Quantity:       attrs.Quantity,
		Description:    attrs.Description,
		ImageURL:       attrs.ImageURL,
		PickupLocation: attrs.PickupLocation,
		DonorID:        donorID,
		DonorName:      attrs.DonorName,
		Status:         models.ListingAvailable,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      attrs.ExpiresAt,
	}
	if err := e.store.CreateListing(ctx, l); err != nil {
		return nil, fmt.Errorf("create listing: %w", err)
	}
	return l, nil
}

// Claim attempts the available -> claimed transition for claimerID.
// The status change and the claim mirror fields land in one conditional
// write, so of N concurrent claimers exactly one wins; the rest get
// ErrAlreadyClaimed. Expiry is re-checked immediately before the write:
// a listing whose expiry has passed must never be claimable even if the
// sweeper has not run yet.
func (e *Engine) Claim(ctx context.Context, listingID, claimerID string, info ClaimInfo) (*models.Claim, error) {
	if claimerID == "" {
		return nil, fmt.Errorf("%w: claimer id is required", models.ErrValidation)
	}
	if info.Contact == "" {
		return nil, fmt.Errorf("%w: contact is required", models.ErrValidation)
	}

	l, err := e.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if err := claimableErr(l); err != nil {
		return nil, err
	}
	now := e.now()
	if !l.ExpiresAt.After(now) {
		return nil, models.ErrExpired
	}

	// The claim record is written first; it is inert until the listing's
	// conditional write points at it. The store has no cross-document
	// transactions, so a losing racer leaves a record that we remove
	// best-effort below.
	c := &models.Claim{
		ID:             uuid.New().String(),
		ListingID:      listingID,
		ClaimerID:      claimerID,
		ClaimerName:    info.ClaimerName,
		ClaimerContact: info.Contact,
		ArrivalMinutes: info.ArrivalMinutes,
		Note:           info.Note,
		Status:         models.ClaimPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.store.CreateClaim(ctx, c); err != nil {
		return nil, fmt.Errorf("create claim: %w", err)
	}

	l.Status = models.ListingClaimed
	l.ClaimID = c.ID
	l.ClaimerID = claimerID
	l.ClaimerContact = info.Contact
	claimedAt := now
	l.ClaimedAt = &claimedAt
	l.UpdatedAt = now

	switch err := e.store.UpdateListing(ctx, l); {
	case err == nil:
		return c, nil
	case errors.Is(err, store.ErrVersionMismatch):
		if derr := e.store.DeleteClaim(ctx, c.ID); derr != nil {
			log.Printf("lifecycle: orphan claim %s not removed: %v", c.ID, derr)
		}
		// Someone else moved the listing first. Re-read to report the
		// accurate race outcome.
		fresh, gerr := e.store.GetListing(ctx, listingID)
		if gerr == nil && fresh.Status == models.ListingExpired {
			return nil, models.ErrExpired
		}
		return nil, models.ErrAlreadyClaimed
	default:
		if derr := e.store.DeleteClaim(ctx, c.ID); derr != nil {
			log.Printf("lifecycle: orphan claim %s not removed: %v", c.ID, derr)
		}
		return nil, fmt.Errorf("claim listing: %w", err)
	}
}

// CancelClaim reopens a claimed listing, clearing the claim mirror
// fields and invalidating any live token. Cancelling an
// already-cancelled claim is a no-op.
func (e *Engine) CancelClaim(ctx context.Context, listingID, claimID, reason string) error {
	l, err := e.store.GetListing(ctx, listingID)
	if err != nil {
		return err
	}

	if l.Status != models.ListingClaimed {
		// Idempotent path: the claim was already cancelled and the
		// listing reopened (or moved on). Anything else is a real
		// state error.
		c, cerr := e.store.GetClaim(ctx, claimID)
		if cerr == nil && c.Status == models.ClaimCancelled {
			return nil
		}
		if errors.Is(cerr, store.ErrNotFound) && l.Status == models.ListingAvailable {
			return nil
		}
		return fmt.Errorf("%w: listing is %s", models.ErrWrongState, l.Status)
	}
	if l.ClaimID != claimID {
		// A different claim holds the listing; the named claim may
		// already be cancelled.
		c, cerr := e.store.GetClaim(ctx, claimID)
		if cerr == nil && c.Status == models.ClaimCancelled {
			return nil
		}
		return fmt.Errorf("%w: claim %s does not hold listing %s", models.ErrConflict, claimID, listingID)
	}

	// Invalidate the token first so a pickup scan cannot land between
	// the reopen and the invalidation.
	if err := e.tokens.Invalidate(ctx, listingID); err != nil {
		return fmt.Errorf("invalidate token: %w", err)
	}

	now := e.now()
	c, err := e.store.GetClaim(ctx, claimID)
	if err != nil {
		return fmt.Errorf("get claim: %w", err)
	}
	if c.Status != models.ClaimCancelled {
		c.Status = models.ClaimCancelled
		if reason != "" {
			c.Note = reason
		}
		c.UpdatedAt = now
		if err := e.store.UpdateClaim(ctx, c); err != nil && !errors.Is(err, store.ErrVersionMismatch) {
			return fmt.Errorf("cancel claim: %w", err)
		}
	}

	l.Status = models.ListingAvailable
	l.ClearClaim()
	l.UpdatedAt = now
	if err := e.store.UpdateListing(ctx, l); err != nil {
		if errors.Is(err, store.ErrVersionMismatch) {
			// Concurrent cancel won; converged on the same end state.
			fresh, gerr := e.store.GetListing(ctx, listingID)
			if gerr == nil && fresh.Status == models.ListingAvailable {
				return nil
			}
			return fmt.Errorf("%w: listing changed during cancel", models.ErrWrongState)
		}
		return fmt.Errorf("reopen listing: %w", err)
	}
	return nil
}

// VerifyAndComplete redeems the pickup token and moves the listing
// claimed -> completed and its claim pending -> fulfilled. Token
// validation and spending are delegated to the token service; the spend
// itself is the at-most-once step.
func (e *Engine) VerifyAndComplete(ctx context.Context, listingID, encoded, verifierID string) (*models.Listing, error) {
	tok, err := e.tokens.Validate(ctx, encoded)
	if err != nil {
		return nil, err
	}
	if tok.ListingID != listingID {
		return nil, fmt.Errorf("%w: token bound to another listing", models.ErrInvalidToken)
	}

	l, err := e.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if l.Status != models.ListingClaimed {
		return nil, fmt.Errorf("%w: listing is %s", models.ErrWrongState, l.Status)
	}
	if l.ClaimID != tok.ClaimID {
		return nil, fmt.Errorf("%w: token bound to a superseded claim", models.ErrInvalidToken)
	}

	spent, err := e.tokens.Spend(ctx, encoded, verifierID)
	if err != nil {
		return nil, err
	}

	// The spend is irreversible; the completion writes below must
	// follow it. Retry the conditional writes a few times before
	// giving up on an unrelated concurrent writer.
	now := e.now()
	c, err := e.store.GetClaim(ctx, tok.ClaimID)
	if err != nil {
		return nil, fmt.Errorf("get claim: %w", err)
	}
	c.Status = models.ClaimFulfilled
	c.UpdatedAt = now
	if err := e.casRetry(ctx, func() error { return e.store.UpdateClaim(ctx, c) }, func() error {
		fresh, gerr := e.store.GetClaim(ctx, tok.ClaimID)
		if gerr != nil {
			return gerr
		}
		*c = *fresh
		c.Status = models.ClaimFulfilled
		c.UpdatedAt = now
		return nil
	}); err != nil {
		return nil, fmt.Errorf("fulfil claim: %w", err)
	}

	complete := func(target *models.Listing) {
		target.Status = models.ListingCompleted
		target.TokenSpent = true
		target.TokenSpentAt = spent.SpentAt
		target.TokenSpentBy = spent.SpentBy
		target.UpdatedAt = now
	}
	complete(l)
	if err := e.casRetry(ctx, func() error { return e.store.UpdateListing(ctx, l) }, func() error {
		fresh, gerr := e.store.GetListing(ctx, listingID)
		if gerr != nil {
			return gerr
		}
		if fresh.Status != models.ListingClaimed {
			return fmt.Errorf("%w: listing is %s", models.ErrWrongState, fresh.Status)
		}
		*l = *fresh
		complete(l)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("complete listing: %w", err)
	}
	return l, nil
}

// Expire applies the time-driven available -> expired transition.
// Expiring an already-expired listing is a no-op.
func (e *Engine) Expire(ctx context.Context, listingID string) error {
	l, err := e.store.GetListing(ctx, listingID)
	if err != nil {
		return err
	}
	if l.Status == models.ListingExpired {
		return nil
	}
	if l.Status != models.ListingAvailable {
		return fmt.Errorf("%w: listing is %s", models.ErrWrongState, l.Status)
	}

	l.Status = models.ListingExpired
	l.UpdatedAt = e.now()
	if err := e.store.UpdateListing(ctx, l); err != nil {
		if errors.Is(err, store.ErrVersionMismatch) {
			fresh, gerr := e.store.GetListing(ctx, listingID)
			if gerr == nil && fresh.Status == models.ListingExpired {
				return nil
			}
			// A claim slipped in before the sweep; leave it alone.
			return fmt.Errorf("%w: listing changed during expiry", models.ErrWrongState)
		}
		return fmt.Errorf("expire listing: %w", err)
	}
	return nil
}

// ExpireOverdue sweeps available listings whose expiry has passed.
// Returns the number of listings expired.
func (e *Engine) ExpireOverdue(ctx context.Context) (int, error) {
	listings, err := e.store.ListAvailable(ctx)
	if err != nil {
		return 0, fmt.Errorf("list available: %w", err)
	}

	now := e.now()
	expired := 0
	for _, l := range listings {
		if l.ExpiresAt.After(now) {
			continue
		}
		if err := e.Expire(ctx, l.ID); err != nil {
			log.Printf("lifecycle: expire %s: %v", l.ID, err)
			continue
		}
		expired++
	}
	return expired, nil
}

// Delete removes a listing. Only the owning donor may delete, and only
// while no live claim holds the listing.
func (e *Engine) Delete(ctx context.Context, listingID, requesterID string) error {
	l, err := e.store.GetListing(ctx, listingID)
	if err != nil {
		return err
	}
	if l.DonorID != requesterID {
		return fmt.Errorf("%w: only the owning donor may delete", models.ErrUnauthorized)
	}
	if l.Status == models.ListingClaimed {
		return fmt.Errorf("%w: cancel the live claim first", models.ErrConflict)
	}
	return e.store.DeleteListing(ctx, listingID)
}

// AttachToken records the verification mirror fields on the listing
// after a token has been issued. The engine writes them because it is
// the sole listing writer; the token record itself stays authoritative.
func (e *Engine) AttachToken(ctx context.Context, listingID string, tok *models.VerificationToken) error {
	attach := func(l *models.Listing) error {
		if l.Status != models.ListingClaimed {
			return fmt.Errorf("%w: listing is %s", models.ErrWrongState, l.Status)
		}
		if l.ClaimID != tok.ClaimID {
			return fmt.Errorf("%w: token bound to a superseded claim", models.ErrConflict)
		}
		issuedAt := tok.IssuedAt
		l.TokenID = tok.ID
		l.TokenIssuedAt = &issuedAt
		l.TokenSpent = false
		l.TokenSpentAt = nil
		l.TokenSpentBy = ""
		l.UpdatedAt = e.now()
		return nil
	}

	l, err := e.store.GetListing(ctx, listingID)
	if err != nil {
		return err
	}
	if err := attach(l); err != nil {
		return err
	}
	return e.casRetry(ctx, func() error { return e.store.UpdateListing(ctx, l) }, func() error {
		fresh, gerr := e.store.GetListing(ctx, listingID)
		if gerr != nil {
			return gerr
		}
		*l = *fresh
		return attach(l)
	})
}

// casRetry runs a conditional write, refreshing and revalidating via
// reload on version conflicts. Used only where the operation must
// converge after an earlier irreversible step.
func (e *Engine) casRetry(ctx context.Context, write func() error, reload func() error) error {
	const attempts = 3
	var err error
	for i := 0; i < attempts; i++ {
		err = write()
		if err == nil || !errors.Is(err, store.ErrVersionMismatch) {
			return err
		}
		if rerr := reload(); rerr != nil {
			return rerr
		}
	}
	return err
}

// claimableErr translates a non-available status into the error the
// losing caller should see.
func claimableErr(l *models.Listing) error {
	switch l.Status {
	case models.ListingAvailable:
		return nil
	case models.ListingExpired:
		return models.ErrExpired
	default:
		return models.ErrAlreadyClaimed
	}
}
