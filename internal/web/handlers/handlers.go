// Package handlers exposes the listing lifecycle over HTTP. Handlers
// decode, authenticate, and map errors; every decision about state
// lives in the lifecycle engine and claim coordinator.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nikeshsapkota32/save-more/internal/claim"
	"github.com/nikeshsapkota32/save-more/internal/lifecycle"
	"github.com/nikeshsapkota32/save-more/internal/notify"
	"github.com/nikeshsapkota32/save-more/internal/store"
	"github.com/nikeshsapkota32/save-more/pkg/models"
)

// TokenValidator previews an encoded pickup token without spending it.
type TokenValidator interface {
	Validate(ctx context.Context, encoded string) (*models.VerificationToken, error)
}

// Handler holds the service collaborators for all routes.
type Handler struct {
	engine      *lifecycle.Engine
	coordinator *claim.Coordinator
	tokens      TokenValidator
	hub         *notify.Hub
}

// New creates a handler.
func New(engine *lifecycle.Engine, coordinator *claim.Coordinator, tokens TokenValidator, hub *notify.Hub) *Handler {
	return &Handler{engine: engine, coordinator: coordinator, tokens: tokens, hub: hub}
}

// Routes mounts all API routes on r. The caller wires auth middleware
// around the router.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api/listings", func(r chi.Router) {
		r.Get("/", h.ListAvailable)
		r.Post("/", h.CreateListing)
		r.Get("/mine", h.ListMine)
		r.Route("/{listingID}", func(r chi.Router) {
			r.Get("/", h.GetListing)
			r.Delete("/", h.DeleteListing)
			r.Post("/claim", h.ClaimListing)
			r.Post("/claim/cancel", h.CancelClaim)
			r.Post("/verify", h.VerifyPickup)
			r.Post("/token", h.RegenerateToken)
		})
	})
	r.Post("/api/tokens/validate", h.ValidateToken)
	r.Post("/api/notifications/subscribe", h.Subscribe)
	r.Post("/api/notifications/unsubscribe", h.Unsubscribe)
}

type createListingRequest struct {
	Name           string `json:"name"`
	Category       string `json:"category"`
	Quantity       string `json:"quantity"`
	Description    string `json:"description"`
	ImageURL       string `json:"image_url"`
	PickupLocation string `json:"pickup_location"`
	DonorName      string `json:"donor_name"`
	ExpiresAt      string `json:"expires_at"`
}

// CreateListing posts a new donation in the available state.
func (h *Handler) CreateListing(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		jsonError(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	var req createListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	expiresAt, err := time.Parse(time.RFC3339, req.ExpiresAt)
	if err != nil {
		jsonError(w, "expires_at must be RFC 3339", http.StatusBadRequest)
		return
	}

	l, err := h.engine.Create(r.Context(), caller, lifecycle.CreateAttrs{
		Name:           req.Name,
		Category:       models.FoodCategory(req.Category),
		Quantity:       req.Quantity,
		Description:    req.Description,
		ImageURL:       req.ImageURL,
		PickupLocation: req.PickupLocation,
		DonorName:      req.DonorName,
		ExpiresAt:      expiresAt,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	jsonOK(w, http.StatusCreated, l)
}

// ListAvailable returns all currently available listings.
func (h *Handler) ListAvailable(w http.ResponseWriter, r *http.Request) {
	listings, err := h.engine.ListAvailable(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	jsonOK(w, http.StatusOK, map[string]interface{}{"listings": listings, "count": len(listings)})
}

// ListMine returns the caller's own listings in any state.
func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		jsonError(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	listings, err := h.engine.ListByDonor(r.Context(), caller)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	jsonOK(w, http.StatusOK, map[string]interface{}{"listings": listings, "count": len(listings)})
}

// GetListing returns one listing by id.
func (h *Handler) GetListing(w http.ResponseWriter, r *http.Request) {
	l, err := h.engine.Get(r.Context(), chi.URLParam(r, "listingID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	jsonOK(w, http.StatusOK, l)
}

// DeleteListing removes a listing. Donor-only; refused while claimed.
func (h *Handler) DeleteListing(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		jsonError(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	if err := h.engine.Delete(r.Context(), chi.URLParam(r, "listingID"), caller); err != nil {
		writeDomainError(w, err)
		return
	}
	jsonOK(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type claimRequest struct {
	ClaimerName    string `json:"claimer_name"`
	Contact        string `json:"contact"`
	ArrivalMinutes int    `json:"arrival_minutes"`
	Note           string `json:"note"`
}

// ClaimListing runs the full claim sequence and returns the claim plus
// the encoded pickup token.
func (h *Handler) ClaimListing(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		jsonError(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	res, err := h.coordinator.Claim(r.Context(), chi.URLParam(r, "listingID"), caller, lifecycle.ClaimInfo{
		ClaimerName:    req.ClaimerName,
		Contact:        req.Contact,
		ArrivalMinutes: req.ArrivalMinutes,
		Note:           req.Note,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	jsonOK(w, http.StatusCreated, res)
}

type cancelClaimRequest struct {
	ClaimID string `json:"claim_id"`
	Reason  string `json:"reason"`
}

// CancelClaim reopens a claimed listing.
func (h *Handler) CancelClaim(w http.ResponseWriter, r *http.Request) {
	if _, ok := CallerFromContext(r.Context()); !ok {
		jsonError(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	var req cancelClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ClaimID == "" {
		jsonError(w, "claim_id is required", http.StatusBadRequest)
		return
	}

	if err := h.engine.CancelClaim(r.Context(), chi.URLParam(r, "listingID"), req.ClaimID, req.Reason); err != nil {
		writeDomainError(w, err)
		return
	}
	jsonOK(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

type verifyRequest struct {
	Token string `json:"token"`
}

// VerifyPickup redeems the pickup token and completes the listing.
func (h *Handler) VerifyPickup(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		jsonError(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Token == "" {
		jsonError(w, "token is required", http.StatusBadRequest)
		return
	}

	l, err := h.engine.VerifyAndComplete(r.Context(), chi.URLParam(r, "listingID"), req.Token, caller)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	jsonOK(w, http.StatusOK, l)
}

// RegenerateToken issues a fresh pickup token for a claimed listing,
// superseding the previous one.
func (h *Handler) RegenerateToken(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		jsonError(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	tok, encoded, err := h.coordinator.RegenerateToken(r.Context(), chi.URLParam(r, "listingID"), caller)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	jsonOK(w, http.StatusOK, map[string]interface{}{"token": tok, "encoded_token": encoded})
}

// ValidateToken previews an encoded token without spending it, so a
// scanner can show the pickup details before committing.
func (h *Handler) ValidateToken(w http.ResponseWriter, r *http.Request) {
	if _, ok := CallerFromContext(r.Context()); !ok {
		jsonError(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	tok, err := h.tokens.Validate(r.Context(), req.Token)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	jsonOK(w, http.StatusOK, map[string]interface{}{
		"valid":      true,
		"listing_id": tok.ListingID,
		"claim_id":   tok.ClaimID,
		"issued_at":  tok.IssuedAt,
	})
}

// Subscribe enrolls the caller for new-listing notifications.
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		jsonError(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	h.hub.Register(caller)
	jsonOK(w, http.StatusOK, map[string]string{"status": "subscribed"})
}

// Unsubscribe removes the caller from notification fan-out.
func (h *Handler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		jsonError(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	h.hub.Unregister(caller)
	jsonOK(w, http.StatusOK, map[string]string{"status": "unsubscribed"})
}

// writeDomainError maps domain errors to HTTP statuses. Conflict-family
// errors (already claimed, wrong state, already spent) all map to 409
// with distinct codes so clients can branch without parsing messages.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrValidation):
		jsonErrorCode(w, err.Error(), "validation", http.StatusBadRequest)
	case errors.Is(err, store.ErrNotFound):
		jsonErrorCode(w, "not found", "not_found", http.StatusNotFound)
	case errors.Is(err, models.ErrAlreadyClaimed):
		jsonErrorCode(w, "listing already claimed", "already_claimed", http.StatusConflict)
	case errors.Is(err, models.ErrExpired):
		jsonErrorCode(w, "listing expired", "expired", http.StatusGone)
	case errors.Is(err, models.ErrWrongState):
		jsonErrorCode(w, err.Error(), "wrong_state", http.StatusConflict)
	case errors.Is(err, models.ErrTokenAlreadySpent):
		jsonErrorCode(w, "token already spent", "token_spent", http.StatusConflict)
	case errors.Is(err, models.ErrInvalidToken):
		jsonErrorCode(w, "invalid token", "invalid_token", http.StatusBadRequest)
	case errors.Is(err, models.ErrConflict):
		jsonErrorCode(w, err.Error(), "conflict", http.StatusConflict)
	case errors.Is(err, models.ErrUnauthorized):
		jsonErrorCode(w, err.Error(), "forbidden", http.StatusForbidden)
	case errors.Is(err, models.ErrTransient):
		jsonErrorCode(w, "temporarily unavailable, retry", "transient", http.StatusServiceUnavailable)
	default:
		log.Printf("handlers: internal error: %v", err)
		jsonErrorCode(w, "internal error", "internal", http.StatusInternalServerError)
	}
}

func jsonOK(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("handlers: encode response: %v", err)
	}
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	jsonOK(w, status, map[string]string{"error": msg})
}

func jsonErrorCode(w http.ResponseWriter, msg, code string, status int) {
	jsonOK(w, status, map[string]string{"error": msg, "code": code})
}
