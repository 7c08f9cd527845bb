package models

import "time"

// ClaimStatus represents the lifecycle state of a claim.
type ClaimStatus string

const (
	ClaimPending   ClaimStatus = "pending"
	ClaimFulfilled ClaimStatus = "fulfilled"
	ClaimCancelled ClaimStatus = "cancelled"
)

// Live reports whether the claim still binds its listing. At most one
// live claim may exist per listing at any time.
func (s ClaimStatus) Live() bool {
	return s == ClaimPending || s == ClaimFulfilled
}

// Claim records one rescuer's commitment to collect one listing.
type Claim struct {
	ID             string      `json:"id" firestore:"id"`
	ListingID      string      `json:"listing_id" firestore:"listing_id"`
	ClaimerID      string      `json:"claimer_id" firestore:"claimer_id"`
	ClaimerName    string      `json:"claimer_name" firestore:"claimer_name"`
	ClaimerContact string      `json:"claimer_contact" firestore:"claimer_contact"`
	ArrivalMinutes int         `json:"arrival_minutes" firestore:"arrival_minutes"`
	Note           string      `json:"note" firestore:"note"`
	Status         ClaimStatus `json:"status" firestore:"status"`
	CreatedAt      time.Time   `json:"created_at" firestore:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at" firestore:"updated_at"`

	Version int64 `json:"-" firestore:"version"`
}
