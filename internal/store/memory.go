package store

import (
	"context"
	"sort"
	"sync"

	"github.com/nikeshsapkota32/save-more/pkg/models"
)

// Memory is an in-process Store used by tests and development mode. It
// provides the same conditional-write and change-feed semantics as the
// Firestore implementation.
type Memory struct {
	mu       sync.Mutex
	listings map[string]models.Listing
	claims   map[string]models.Claim
	tokens   map[string]models.VerificationToken
	subs     map[int]*Subscription
	nextSub  int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		listings: make(map[string]models.Listing),
		claims:   make(map[string]models.Claim),
		tokens:   make(map[string]models.VerificationToken),
		subs:     make(map[int]*Subscription),
	}
}

// --- Listing operations ---

func (m *Memory) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &l, nil
}

func (m *Memory) CreateListing(ctx context.Context, l *models.Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.listings[l.ID]; ok {
		return ErrExists
	}
	l.Version = 1
	m.listings[l.ID] = *l
	m.broadcastLocked()
	return nil
}

func (m *Memory) UpdateListing(ctx context.Context, l *models.Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.listings[l.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != l.Version {
		return ErrVersionMismatch
	}
	l.Version++
	m.listings[l.ID] = *l
	m.broadcastLocked()
	return nil
}

func (m *Memory) DeleteListing(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.listings[id]; !ok {
		return ErrNotFound
	}
	delete(m.listings, id)
	m.broadcastLocked()
	return nil
}

func (m *Memory) ListAvailable(ctx context.Context) ([]models.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.availableLocked(), nil
}

func (m *Memory) ListByDonor(ctx context.Context, donorID string) ([]models.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Listing
	for _, l := range m.listings {
		if l.DonorID == donorID {
			out = append(out, l)
		}
	}
	sortByCreatedDesc(out)
	return out, nil
}

func (m *Memory) SubscribeAvailable(ctx context.Context) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++

	sub := &Subscription{updates: make(chan []models.Listing, 1)}
	sub.stop = func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
		close(sub.updates)
	}
	m.subs[id] = sub

	// Initial snapshot, mirroring a Firestore listener's first delivery.
	sub.push(m.availableLocked())
	return sub, nil
}

// --- Claim operations ---

func (m *Memory) GetClaim(ctx context.Context, id string) (*models.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *Memory) CreateClaim(ctx context.Context, c *models.Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.claims[c.ID]; ok {
		return ErrExists
	}
	c.Version = 1
	m.claims[c.ID] = *c
	return nil
}

func (m *Memory) UpdateClaim(ctx context.Context, c *models.Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.claims[c.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != c.Version {
		return ErrVersionMismatch
	}
	c.Version++
	m.claims[c.ID] = *c
	return nil
}

func (m *Memory) DeleteClaim(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.claims[id]; !ok {
		return ErrNotFound
	}
	delete(m.claims, id)
	return nil
}

// --- Token operations ---

func (m *Memory) GetToken(ctx context.Context, id string) (*models.VerificationToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (m *Memory) GetLiveToken(ctx context.Context, listingID string) (*models.VerificationToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.ListingID == listingID && t.Live {
			tok := t
			return &tok, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) CreateToken(ctx context.Context, t *models.VerificationToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[t.ID]; ok {
		return ErrExists
	}
	t.Version = 1
	m.tokens[t.ID] = *t
	return nil
}

func (m *Memory) UpdateToken(ctx context.Context, t *models.VerificationToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.tokens[t.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != t.Version {
		return ErrVersionMismatch
	}
	t.Version++
	m.tokens[t.ID] = *t
	return nil
}

// --- helpers ---

func (m *Memory) availableLocked() []models.Listing {
	var out []models.Listing
	for _, l := range m.listings {
		if l.Status == models.ListingAvailable {
			out = append(out, l)
		}
	}
	sortByCreatedDesc(out)
	return out
}

func (m *Memory) broadcastLocked() {
	if len(m.subs) == 0 {
		return
	}
	snap := m.availableLocked()
	for _, sub := range m.subs {
		sub.push(snap)
	}
}

func sortByCreatedDesc(ls []models.Listing) {
	sort.Slice(ls, func(i, j int) bool {
		if ls[i].CreatedAt.Equal(ls[j].CreatedAt) {
			return ls[i].ID < ls[j].ID
		}
		return ls[i].CreatedAt.After(ls[j].CreatedAt)
	})
}
