package models

import "time"

// VerificationToken is a single-use credential proving a claim is ready
// for physical handoff. It is the payload behind the pickup QR code.
//
// The spent flag is owned by the token service and transitions exactly
// once, from false to true. Live distinguishes the current token for a
// listing from superseded or invalidated ones; a superseded token keeps
// Spent == false but can no longer validate.
type VerificationToken struct {
	ID        string     `json:"id" firestore:"id"`
	ListingID string     `json:"listing_id" firestore:"listing_id"`
	ClaimID   string     `json:"claim_id" firestore:"claim_id"`
	IssuedAt  time.Time  `json:"issued_at" firestore:"issued_at"`
	Live      bool       `json:"live" firestore:"live"`
	Spent     bool       `json:"spent" firestore:"spent"`
	SpentAt   *time.Time `json:"spent_at,omitempty" firestore:"spent_at"`
	SpentBy   string     `json:"spent_by,omitempty" firestore:"spent_by"`

	Version int64 `json:"-" firestore:"version"`
}
