package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nikeshsapkota32/save-more/pkg/models"
)

func newListing(id, donor string, status models.ListingStatus) *models.Listing {
	now := time.Now()
	return &models.Listing{
		ID:        id,
		Name:      "bread",
		Category:  models.CategoryGrains,
		Quantity:  "2 loaves",
		DonorID:   donor,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(2 * time.Hour),
	}
}

func TestListingCRUD(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, err := m.GetListing(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetListing(missing) = %v, want ErrNotFound", err)
	}

	l := newListing("l1", "donor-1", models.ListingAvailable)
	if err := m.CreateListing(ctx, l); err != nil {
		t.Fatalf("CreateListing() = %v", err)
	}
	if l.Version != 1 {
		t.Fatalf("Version after create = %d, want 1", l.Version)
	}
	if err := m.CreateListing(ctx, l); !errors.Is(err, ErrExists) {
		t.Fatalf("duplicate CreateListing() = %v, want ErrExists", err)
	}

	got, err := m.GetListing(ctx, "l1")
	if err != nil {
		t.Fatalf("GetListing() = %v", err)
	}
	if got.Name != "bread" {
		t.Errorf("Name = %q, want %q", got.Name, "bread")
	}

	if err := m.DeleteListing(ctx, "l1"); err != nil {
		t.Fatalf("DeleteListing() = %v", err)
	}
	if _, err := m.GetListing(ctx, "l1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetListing after delete = %v, want ErrNotFound", err)
	}
}

func TestUpdateListingVersionMismatch(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	l := newListing("l1", "donor-1", models.ListingAvailable)
	if err := m.CreateListing(ctx, l); err != nil {
		t.Fatalf("CreateListing() = %v", err)
	}

	// Two readers hold the same version; only one write applies.
	a, _ := m.GetListing(ctx, "l1")
	b, _ := m.GetListing(ctx, "l1")

	a.Status = models.ListingClaimed
	if err := m.UpdateListing(ctx, a); err != nil {
		t.Fatalf("first UpdateListing() = %v", err)
	}
	if a.Version != 2 {
		t.Errorf("winner version = %d, want 2", a.Version)
	}

	b.Status = models.ListingExpired
	if err := m.UpdateListing(ctx, b); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("stale UpdateListing() = %v, want ErrVersionMismatch", err)
	}

	got, _ := m.GetListing(ctx, "l1")
	if got.Status != models.ListingClaimed {
		t.Errorf("Status = %q, want %q", got.Status, models.ListingClaimed)
	}
}

func TestListAvailableFiltersAndSorts(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	older := newListing("l1", "donor-1", models.ListingAvailable)
	older.CreatedAt = time.Now().Add(-time.Hour)
	newer := newListing("l2", "donor-1", models.ListingAvailable)
	claimed := newListing("l3", "donor-2", models.ListingClaimed)

	for _, l := range []*models.Listing{older, newer, claimed} {
		if err := m.CreateListing(ctx, l); err != nil {
			t.Fatalf("CreateListing(%s) = %v", l.ID, err)
		}
	}

	got, err := m.ListAvailable(ctx)
	if err != nil {
		t.Fatalf("ListAvailable() = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(available) = %d, want 2", len(got))
	}
	if got[0].ID != "l2" || got[1].ID != "l1" {
		t.Errorf("order = [%s %s], want [l2 l1]", got[0].ID, got[1].ID)
	}
}

func TestSubscribeAvailableInitialSnapshot(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.CreateListing(ctx, newListing("l1", "donor-1", models.ListingAvailable)); err != nil {
		t.Fatalf("CreateListing() = %v", err)
	}

	sub, err := m.SubscribeAvailable(ctx)
	if err != nil {
		t.Fatalf("SubscribeAvailable() = %v", err)
	}
	defer sub.Close()

	select {
	case snap := <-sub.Updates():
		if len(snap) != 1 {
			t.Fatalf("initial snapshot len = %d, want 1", len(snap))
		}
	case <-time.After(time.Second):
		t.Fatal("no initial snapshot delivered")
	}
}

func TestSubscriptionCoalescesBursts(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	sub, err := m.SubscribeAvailable(ctx)
	if err != nil {
		t.Fatalf("SubscribeAvailable() = %v", err)
	}
	defer sub.Close()

	// Burst of creates with no consumer; only the latest snapshot must
	// remain in the buffer.
	for i, id := range []string{"l1", "l2", "l3"} {
		l := newListing(id, "donor-1", models.ListingAvailable)
		l.CreatedAt = time.Now().Add(time.Duration(i) * time.Minute)
		if err := m.CreateListing(ctx, l); err != nil {
			t.Fatalf("CreateListing(%s) = %v", id, err)
		}
	}

	select {
	case snap := <-sub.Updates():
		if len(snap) != 3 {
			t.Fatalf("coalesced snapshot len = %d, want 3", len(snap))
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
	}

	select {
	case snap := <-sub.Updates():
		t.Fatalf("unexpected extra snapshot of len %d", len(snap))
	default:
	}
}

func TestSubscriptionCloseIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	sub, err := m.SubscribeAvailable(ctx)
	if err != nil {
		t.Fatalf("SubscribeAvailable() = %v", err)
	}
	sub.Close()
	sub.Close()

	// Writes after close must not panic on the closed channel.
	if err := m.CreateListing(ctx, newListing("l1", "donor-1", models.ListingAvailable)); err != nil {
		t.Fatalf("CreateListing after close = %v", err)
	}
}

func TestGetLiveToken(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, err := m.GetLiveToken(ctx, "l1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetLiveToken(none) = %v, want ErrNotFound", err)
	}

	dead := &models.VerificationToken{ID: "t1", ListingID: "l1", ClaimID: "c1", Live: false}
	live := &models.VerificationToken{ID: "t2", ListingID: "l1", ClaimID: "c1", Live: true}
	for _, tok := range []*models.VerificationToken{dead, live} {
		if err := m.CreateToken(ctx, tok); err != nil {
			t.Fatalf("CreateToken(%s) = %v", tok.ID, err)
		}
	}

	got, err := m.GetLiveToken(ctx, "l1")
	if err != nil {
		t.Fatalf("GetLiveToken() = %v", err)
	}
	if got.ID != "t2" {
		t.Errorf("live token = %s, want t2", got.ID)
	}
}

func TestUpdateTokenVersionMismatch(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	tok := &models.VerificationToken{ID: "t1", ListingID: "l1", ClaimID: "c1", Live: true}
	if err := m.CreateToken(ctx, tok); err != nil {
		t.Fatalf("CreateToken() = %v", err)
	}

	a, _ := m.GetToken(ctx, "t1")
	b, _ := m.GetToken(ctx, "t1")

	a.Spent = true
	if err := m.UpdateToken(ctx, a); err != nil {
		t.Fatalf("first UpdateToken() = %v", err)
	}
	b.Spent = true
	if err := m.UpdateToken(ctx, b); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("stale UpdateToken() = %v, want ErrVersionMismatch", err)
	}
}
