// Package token issues and redeems single-use pickup-verification
// tokens. A token's wire form (the QR payload) is a signed JWT carrying
// the token id and its listing/claim binding so a scanner can show
// listing details before hitting the network, but the payload is
// advisory: the stored token record decides every validate and spend.
package token

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/nikeshsapkota32/save-more/internal/store"
	"github.com/nikeshsapkota32/save-more/pkg/models"
)

// Service manages verification tokens. It is the sole writer of the
// token spent flag.
type Service struct {
	store      store.Store
	signingKey []byte
	issuer     string
	now        func() time.Time
}

// Claims is the QR payload. ID doubles as the JWT ID (jti).
type Claims struct {
	ListingID string `json:"listing_id"`
	ClaimID   string `json:"claim_id"`
	jwt.RegisteredClaims
}

// New creates a token service signing payloads with signingKey.
func New(st store.Store, signingKey, issuer string) *Service {
	return &Service{
		store:      st,
		signingKey: []byte(signingKey),
		issuer:     issuer,
		now:        time.Now,
	}
}

// GenerateSigningKey generates a secure random signing key.
func GenerateSigningKey() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate signing key: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// Issue creates a live token bound to the listing/claim pair and
// returns the record together with its encoded QR payload. Any prior
// live token for the listing is superseded first: it keeps spent ==
// false but drops out of live lookup, so it can no longer validate.
// This models the donor regenerating the QR code before pickup.
func (s *Service) Issue(ctx context.Context, listingID, claimID string) (*models.VerificationToken, string, error) {
	if listingID == "" || claimID == "" {
		return nil, "", fmt.Errorf("%w: listing id and claim id are required", models.ErrValidation)
	}

	if err := s.Invalidate(ctx, listingID); err != nil {
		return nil, "", fmt.Errorf("supersede live token: %w", err)
	}

	tok := &models.VerificationToken{
		ID:        generateTokenID(),
		ListingID: listingID,
		ClaimID:   claimID,
		IssuedAt:  s.now(),
		Live:      true,
	}
	if err := s.store.CreateToken(ctx, tok); err != nil {
		return nil, "", fmt.Errorf("store token: %w", err)
	}

	encoded, err := s.encode(tok)
	if err != nil {
		return nil, "", err
	}
	return tok, encoded, nil
}

// Validate checks an encoded token without mutating state, so a
// verifier can preview validity before committing to the spend.
func (s *Service) Validate(ctx context.Context, encoded string) (*models.VerificationToken, error) {
	claims, err := s.decode(encoded)
	if err != nil {
		return nil, err
	}

	tok, err := s.store.GetToken(ctx, claims.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown token", models.ErrInvalidToken)
	}
	if err != nil {
		return nil, err
	}

	// The payload binding is advisory; a mismatch against the stored
	// record means tampering or a stale code.
	if tok.ListingID != claims.ListingID || tok.ClaimID != claims.ClaimID {
		return nil, fmt.Errorf("%w: binding mismatch", models.ErrInvalidToken)
	}
	if tok.Spent {
		return nil, models.ErrTokenAlreadySpent
	}
	if !tok.Live {
		return nil, fmt.Errorf("%w: token superseded", models.ErrInvalidToken)
	}
	return tok, nil
}

// Spend atomically transitions the token from unspent to spent. Of two
// concurrent scans of the same code exactly one succeeds; the loser
// gets ErrTokenAlreadySpent.
func (s *Service) Spend(ctx context.Context, encoded, spenderID string) (*models.VerificationToken, error) {
	tok, err := s.Validate(ctx, encoded)
	if err != nil {
		return nil, err
	}

	spentAt := s.now()
	tok.Spent = true
	tok.SpentAt = &spentAt
	tok.SpentBy = spenderID
	if err := s.store.UpdateToken(ctx, tok); err != nil {
		if errors.Is(err, store.ErrVersionMismatch) {
			return nil, models.ErrTokenAlreadySpent
		}
		return nil, fmt.Errorf("spend token: %w", err)
	}
	return tok, nil
}

// Invalidate removes the listing's live token from live lookup, if any.
// The token's spent flag is left untouched. No-op when no live token
// exists.
func (s *Service) Invalidate(ctx context.Context, listingID string) error {
	live, err := s.store.GetLiveToken(ctx, listingID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	live.Live = false
	if err := s.store.UpdateToken(ctx, live); err != nil {
		if errors.Is(err, store.ErrVersionMismatch) {
			// A concurrent invalidate or spend got there first; the
			// token is no longer live either way.
			fresh, gerr := s.store.GetToken(ctx, live.ID)
			if gerr == nil && !fresh.Live {
				return nil
			}
		}
		return fmt.Errorf("invalidate token %s: %w", live.ID, err)
	}
	return nil
}

// encode signs the QR payload.
func (s *Service) encode(tok *models.VerificationToken) (string, error) {
	claims := Claims{
		ListingID: tok.ListingID,
		ClaimID:   tok.ClaimID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       tok.ID,
			Issuer:   s.issuer,
			IssuedAt: jwt.NewNumericDate(tok.IssuedAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// decode verifies the signature and returns the payload claims.
func (s *Service) decode(encoded string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(encoded, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.ID == "" {
		return nil, fmt.Errorf("%w: malformed payload", models.ErrInvalidToken)
	}
	return claims, nil
}

// generateTokenID returns a 128-bit unpredictable token id.
func generateTokenID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand never fails on supported platforms.
		panic(fmt.Sprintf("token id entropy unavailable: %v", err))
	}
	return hex.EncodeToString(b)
}
