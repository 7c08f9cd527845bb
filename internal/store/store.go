// Package store defines durable keyed storage for listings, claims, and
// verification tokens with per-record conditional writes and an
// available-listings change feed.
//
// Every Update* method is a compare-and-swap keyed on the record's
// Version field: the write applies only if the stored version still
// matches the version the caller read, and increments it on success.
// This is the single concurrency primitive the protocol rests on; a
// backend that only offers last-write-wins overwrites must wrap them
// the way the Firestore implementation does.
package store

import (
	"context"
	"errors"
	"sync"

	"github.com/nikeshsapkota32/save-more/pkg/models"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrExists          = errors.New("record already exists")
	ErrVersionMismatch = errors.New("version mismatch")
)

// Store is the record store the protocol runs against.
type Store interface {
	GetListing(ctx context.Context, id string) (*models.Listing, error)
	CreateListing(ctx context.Context, l *models.Listing) error
	// UpdateListing applies l conditioned on l.Version matching the
	// stored version. On success the stored record and l carry the
	// incremented version.
	UpdateListing(ctx context.Context, l *models.Listing) error
	DeleteListing(ctx context.Context, id string) error
	ListAvailable(ctx context.Context) ([]models.Listing, error)
	ListByDonor(ctx context.Context, donorID string) ([]models.Listing, error)
	// SubscribeAvailable opens a change feed over the available-filtered
	// listing set. The subscription delivers full snapshots, starting
	// with the current state, and coalesces bursts (latest snapshot
	// wins if the consumer lags).
	SubscribeAvailable(ctx context.Context) (*Subscription, error)

	GetClaim(ctx context.Context, id string) (*models.Claim, error)
	CreateClaim(ctx context.Context, c *models.Claim) error
	UpdateClaim(ctx context.Context, c *models.Claim) error
	DeleteClaim(ctx context.Context, id string) error

	GetToken(ctx context.Context, id string) (*models.VerificationToken, error)
	// GetLiveToken returns the currently-live token for a listing, or
	// ErrNotFound if none is live.
	GetLiveToken(ctx context.Context, listingID string) (*models.VerificationToken, error)
	CreateToken(ctx context.Context, t *models.VerificationToken) error
	UpdateToken(ctx context.Context, t *models.VerificationToken) error
}

// Subscription is a cancellable feed of available-listing snapshots.
// Close unregisters the underlying listener; the Updates channel is
// closed afterwards.
type Subscription struct {
	updates chan []models.Listing
	stop    func()
	once    sync.Once
}

// Updates returns the snapshot channel.
func (s *Subscription) Updates() <-chan []models.Listing {
	return s.updates
}

// Close cancels the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(s.stop)
}

// push delivers snap with latest-wins semantics: if the single-slot
// buffer is occupied by an unconsumed snapshot, that snapshot is
// replaced. Callers must guarantee mutual exclusion between pushes.
func (s *Subscription) push(snap []models.Listing) {
	select {
	case s.updates <- snap:
	default:
		select {
		case <-s.updates:
		default:
		}
		s.updates <- snap
	}
}
