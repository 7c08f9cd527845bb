package models

import "time"

// ListingStatus represents the lifecycle state of a food listing.
type ListingStatus string

const (
	ListingAvailable ListingStatus = "available"
	ListingClaimed   ListingStatus = "claimed"
	ListingCompleted ListingStatus = "completed"
	ListingExpired   ListingStatus = "expired"
)

// Terminal reports whether the status admits no further transitions.
func (s ListingStatus) Terminal() bool {
	return s == ListingCompleted || s == ListingExpired
}

// FoodCategory classifies a donated food unit.
type FoodCategory string

const (
	CategoryVegetables FoodCategory = "vegetables"
	CategoryFruits     FoodCategory = "fruits"
	CategoryDairy      FoodCategory = "dairy"
	CategoryMeat       FoodCategory = "meat"
	CategoryGrains     FoodCategory = "grains"
	CategoryPrepared   FoodCategory = "prepared"
	CategoryBeverages  FoodCategory = "beverages"
	CategoryOther      FoodCategory = "other"
)

// Listing is one donated food unit offered for pickup.
//
// Status is owned by the lifecycle engine; no other component writes it.
// Claim and verification fields mirror the live claim/token and are set
// if and only if the corresponding record exists (claim fields while
// claimed or completed, verification fields once a token is issued).
type Listing struct {
	ID             string        `json:"id" firestore:"id"`
	Name           string        `json:"name" firestore:"name"`
	Category       FoodCategory  `json:"category" firestore:"category"`
	Quantity       string        `json:"quantity" firestore:"quantity"`
	Description    string        `json:"description" firestore:"description"`
	ImageURL       string        `json:"image_url" firestore:"image_url"`
	PickupLocation string        `json:"pickup_location" firestore:"pickup_location"`
	DonorID        string        `json:"donor_id" firestore:"donor_id"`
	DonorName      string        `json:"donor_name" firestore:"donor_name"`
	Status         ListingStatus `json:"status" firestore:"status"`
	CreatedAt      time.Time     `json:"created_at" firestore:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at" firestore:"updated_at"`
	ExpiresAt      time.Time     `json:"expires_at" firestore:"expires_at"`

	// Claim mirror fields.
	ClaimID        string     `json:"claim_id,omitempty" firestore:"claim_id"`
	ClaimerID      string     `json:"claimer_id,omitempty" firestore:"claimer_id"`
	ClaimerContact string     `json:"claimer_contact,omitempty" firestore:"claimer_contact"`
	ClaimedAt      *time.Time `json:"claimed_at,omitempty" firestore:"claimed_at"`

	// Verification token mirror fields.
	TokenID       string     `json:"token_id,omitempty" firestore:"token_id"`
	TokenIssuedAt *time.Time `json:"token_issued_at,omitempty" firestore:"token_issued_at"`
	TokenSpent    bool       `json:"token_spent,omitempty" firestore:"token_spent"`
	TokenSpentAt  *time.Time `json:"token_spent_at,omitempty" firestore:"token_spent_at"`
	TokenSpentBy  string     `json:"token_spent_by,omitempty" firestore:"token_spent_by"`

	// Version backs the store's conditional writes. Every successful
	// update increments it; a write against a stale version is rejected.
	Version int64 `json:"-" firestore:"version"`
}

// ClearClaim removes the claim and verification mirror fields, used when
// a claim is cancelled and the listing reopens.
func (l *Listing) ClearClaim() {
	l.ClaimID = ""
	l.ClaimerID = ""
	l.ClaimerContact = ""
	l.ClaimedAt = nil
	l.TokenID = ""
	l.TokenIssuedAt = nil
	l.TokenSpent = false
	l.TokenSpentAt = nil
	l.TokenSpentBy = ""
}
