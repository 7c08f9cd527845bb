package claim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nikeshsapkota32/save-more/internal/lifecycle"
	"github.com/nikeshsapkota32/save-more/internal/store"
	"github.com/nikeshsapkota32/save-more/internal/token"
	"github.com/nikeshsapkota32/save-more/pkg/models"
)

// flakyIssuer fails a set number of calls before delegating to the real
// token service.
type flakyIssuer struct {
	inner    *token.Service
	failures int
	calls    int
}

func (f *flakyIssuer) Issue(ctx context.Context, listingID, claimID string) (*models.VerificationToken, string, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, "", errors.New("token backend unavailable")
	}
	return f.inner.Issue(ctx, listingID, claimID)
}

func setup(t *testing.T, failures int) (*Coordinator, *lifecycle.Engine, *flakyIssuer) {
	t.Helper()
	m := store.NewMemory()
	tokens := token.New(m, "test-signing-key", "save-more-test")
	engine := lifecycle.NewEngine(m, tokens)
	issuer := &flakyIssuer{inner: tokens, failures: failures}
	return New(engine, issuer, 3, time.Millisecond), engine, issuer
}

func createListing(t *testing.T, engine *lifecycle.Engine) *models.Listing {
	t.Helper()
	l, err := engine.Create(context.Background(), "donor-1", lifecycle.CreateAttrs{
		Name:      "crates of apples",
		Quantity:  "3 crates",
		ExpiresAt: time.Now().Add(2 * time.Hour),
	})
	if err != nil {
		t.Fatalf("Create() = %v", err)
	}
	return l
}

func claimInfo() lifecycle.ClaimInfo {
	return lifecycle.ClaimInfo{ClaimerName: "Sam", Contact: "sam@example.com"}
}

func TestClaimReturnsTokenAndMirrors(t *testing.T) {
	ctx := context.Background()
	c, engine, _ := setup(t, 0)
	l := createListing(t, engine)

	res, err := c.Claim(ctx, l.ID, "rescuer-1", claimInfo())
	if err != nil {
		t.Fatalf("Claim() = %v", err)
	}
	if res.Claim == nil || res.Token == nil || res.EncodedToken == "" {
		t.Fatalf("Result = %+v, want claim, token and encoding", res)
	}
	if res.Token.ListingID != l.ID || res.Token.ClaimID != res.Claim.ID {
		t.Errorf("token binding = %s/%s", res.Token.ListingID, res.Token.ClaimID)
	}

	got, err := engine.Get(ctx, l.ID)
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	if got.Status != models.ListingClaimed {
		t.Errorf("status = %q, want %q", got.Status, models.ListingClaimed)
	}
	if got.TokenID != res.Token.ID {
		t.Errorf("listing token mirror = %q, want %q", got.TokenID, res.Token.ID)
	}
}

func TestClaimRetriesTransientIssueFailure(t *testing.T) {
	ctx := context.Background()
	c, engine, issuer := setup(t, 2)
	l := createListing(t, engine)

	res, err := c.Claim(ctx, l.ID, "rescuer-1", claimInfo())
	if err != nil {
		t.Fatalf("Claim() = %v", err)
	}
	if res.EncodedToken == "" {
		t.Fatal("no token after retries")
	}
	if issuer.calls != 3 {
		t.Errorf("issue calls = %d, want 3", issuer.calls)
	}
}

func TestClaimRollsBackWhenIssuanceFails(t *testing.T) {
	ctx := context.Background()
	c, engine, _ := setup(t, 100)
	l := createListing(t, engine)

	_, err := c.Claim(ctx, l.ID, "rescuer-1", claimInfo())
	if !errors.Is(err, models.ErrTransient) {
		t.Fatalf("Claim() = %v, want ErrTransient", err)
	}

	// The listing must be claimable again after the rollback.
	got, err := engine.Get(ctx, l.ID)
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	if got.Status != models.ListingAvailable {
		t.Fatalf("status after rollback = %q, want %q", got.Status, models.ListingAvailable)
	}
	if got.ClaimID != "" {
		t.Errorf("claim mirror not cleared: %q", got.ClaimID)
	}

	if _, err := c.Claim(ctx, l.ID, "rescuer-2", claimInfo()); err == nil {
		t.Log("listing reclaimed after rollback")
	} else if !errors.Is(err, models.ErrTransient) {
		t.Fatalf("reclaim = %v", err)
	}
}

func TestClaimRaceErrorsPassThrough(t *testing.T) {
	ctx := context.Background()
	c, engine, _ := setup(t, 0)
	l := createListing(t, engine)

	if _, err := c.Claim(ctx, l.ID, "rescuer-1", claimInfo()); err != nil {
		t.Fatalf("first Claim() = %v", err)
	}
	if _, err := c.Claim(ctx, l.ID, "rescuer-2", claimInfo()); !errors.Is(err, models.ErrAlreadyClaimed) {
		t.Fatalf("losing Claim() = %v, want ErrAlreadyClaimed", err)
	}
}

func TestRegenerateToken(t *testing.T) {
	ctx := context.Background()
	c, engine, _ := setup(t, 0)
	l := createListing(t, engine)

	res, err := c.Claim(ctx, l.ID, "rescuer-1", claimInfo())
	if err != nil {
		t.Fatalf("Claim() = %v", err)
	}

	tok, encoded, err := c.RegenerateToken(ctx, l.ID, "donor-1")
	if err != nil {
		t.Fatalf("RegenerateToken() = %v", err)
	}
	if tok.ID == res.Token.ID {
		t.Fatal("regenerated token reuses the old id")
	}
	if encoded == res.EncodedToken {
		t.Fatal("regenerated encoding equals the old one")
	}

	got, _ := engine.Get(ctx, l.ID)
	if got.TokenID != tok.ID {
		t.Errorf("listing token mirror = %q, want %q", got.TokenID, tok.ID)
	}
}

func TestRegenerateTokenAuthorization(t *testing.T) {
	ctx := context.Background()
	c, engine, _ := setup(t, 0)
	l := createListing(t, engine)

	if _, _, err := c.RegenerateToken(ctx, l.ID, "donor-1"); !errors.Is(err, models.ErrWrongState) {
		t.Fatalf("RegenerateToken(unclaimed) = %v, want ErrWrongState", err)
	}

	if _, err := c.Claim(ctx, l.ID, "rescuer-1", claimInfo()); err != nil {
		t.Fatalf("Claim() = %v", err)
	}
	if _, _, err := c.RegenerateToken(ctx, l.ID, "stranger"); !errors.Is(err, models.ErrUnauthorized) {
		t.Fatalf("RegenerateToken(stranger) = %v, want ErrUnauthorized", err)
	}
}
