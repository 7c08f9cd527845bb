// Package claim sequences a rescuer's claim request: the conditional
// claim transition, token issuance, and the compensating rollback when
// issuance fails after the claim already landed. This is the only
// multi-step operation in the protocol, so the retry budget and the
// rollback contract live here and nowhere else.
package claim

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nikeshsapkota32/save-more/internal/lifecycle"
	"github.com/nikeshsapkota32/save-more/pkg/models"
)

// TokenIssuer is the slice of the token service the coordinator needs.
type TokenIssuer interface {
	Issue(ctx context.Context, listingID, claimID string) (*models.VerificationToken, string, error)
}

// Result is the combined outcome of a successful claim.
type Result struct {
	Claim        *models.Claim             `json:"claim"`
	Token        *models.VerificationToken `json:"token"`
	EncodedToken string                    `json:"encoded_token"`
}

// Coordinator is the externally callable entry point for claims.
type Coordinator struct {
	engine   *lifecycle.Engine
	issuer   TokenIssuer
	attempts int
	backoff  time.Duration
}

// New creates a coordinator. attempts bounds token-issuance retries;
// backoff is the base delay between them.
func New(engine *lifecycle.Engine, issuer TokenIssuer, attempts int, backoff time.Duration) *Coordinator {
	if attempts < 1 {
		attempts = 1
	}
	return &Coordinator{engine: engine, issuer: issuer, attempts: attempts, backoff: backoff}
}

// Claim runs the full claim sequence. Race losses (ErrAlreadyClaimed,
// ErrExpired) pass through untouched; only issuance failure after a
// won claim triggers the compensating rollback, surfacing ErrTransient.
func (c *Coordinator) Claim(ctx context.Context, listingID, claimerID string, info lifecycle.ClaimInfo) (*Result, error) {
	cl, err := c.engine.Claim(ctx, listingID, claimerID, info)
	if err != nil {
		return nil, err
	}

	tok, encoded, err := c.issueWithRetry(ctx, listingID, cl.ID)
	if err != nil {
		// The listing must not stay claimed with no token. Roll back
		// to available and report the failure as retryable.
		if cerr := c.engine.CancelClaim(ctx, listingID, cl.ID, "token issuance failed"); cerr != nil {
			log.Printf("claim: rollback of %s failed, listing may need manual reopen: %v", listingID, cerr)
		}
		return nil, fmt.Errorf("%w: token issuance: %v", models.ErrTransient, err)
	}

	if err := c.engine.AttachToken(ctx, listingID, tok); err != nil {
		return nil, err
	}

	return &Result{Claim: cl, Token: tok, EncodedToken: encoded}, nil
}

// RegenerateToken lets the owning donor supersede the live token with a
// fresh one (a new QR code) while the claim stands.
func (c *Coordinator) RegenerateToken(ctx context.Context, listingID, requesterID string) (*models.VerificationToken, string, error) {
	l, err := c.engine.Get(ctx, listingID)
	if err != nil {
		return nil, "", err
	}
	if l.DonorID != requesterID {
		return nil, "", fmt.Errorf("%w: only the owning donor may regenerate", models.ErrUnauthorized)
	}
	if l.Status != models.ListingClaimed {
		return nil, "", fmt.Errorf("%w: listing is %s", models.ErrWrongState, l.Status)
	}

	tok, encoded, err := c.issuer.Issue(ctx, listingID, l.ClaimID)
	if err != nil {
		return nil, "", fmt.Errorf("%w: token issuance: %v", models.ErrTransient, err)
	}
	if err := c.engine.AttachToken(ctx, listingID, tok); err != nil {
		return nil, "", err
	}
	return tok, encoded, nil
}

func (c *Coordinator) issueWithRetry(ctx context.Context, listingID, claimID string) (*models.VerificationToken, string, error) {
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		tok, encoded, err := c.issuer.Issue(ctx, listingID, claimID)
		if err == nil {
			return tok, encoded, nil
		}
		lastErr = err
		log.Printf("claim: issue attempt %d/%d for listing %s failed: %v", attempt, c.attempts, listingID, err)

		if attempt < c.attempts {
			select {
			case <-time.After(time.Duration(attempt) * c.backoff):
			case <-ctx.Done():
				return nil, "", ctx.Err()
			}
		}
	}
	return nil, "", lastErr
}
