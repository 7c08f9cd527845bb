package store

import (
	"context"
	"fmt"
	"log"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/nikeshsapkota32/save-more/pkg/models"
)

// Collection names match the production Firestore schema so existing
// data remains readable.
const (
	listingsCollection = "foodListings"
	claimsCollection   = "claims"
	tokensCollection   = "verificationTokens"
)

// Firestore backs the Store interface with Cloud Firestore. Firestore
// only offers last-write-wins document writes outside of transactions,
// so every conditional update runs a transaction that re-reads the
// document and compares the stored version field before writing.
type Firestore struct {
	client *firestore.Client
}

// NewFirestore connects to the given project/database. credentialsFile
// may be empty when ambient credentials (or the emulator) are in use.
func NewFirestore(ctx context.Context, projectID, databaseID, credentialsFile string) (*Firestore, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	return &Firestore{client: client}, nil
}

// Close releases the underlying client.
func (s *Firestore) Close() error {
	return s.client.Close()
}

// --- Listing operations ---

func (s *Firestore) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	var l models.Listing
	if err := s.getDoc(ctx, listingsCollection, id, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *Firestore) CreateListing(ctx context.Context, l *models.Listing) error {
	l.Version = 1
	return s.createDoc(ctx, listingsCollection, l.ID, l)
}

func (s *Firestore) UpdateListing(ctx context.Context, l *models.Listing) error {
	return s.casWrite(ctx, listingsCollection, l.ID, &l.Version, l)
}

func (s *Firestore) DeleteListing(ctx context.Context, id string) error {
	_, err := s.client.Collection(listingsCollection).Doc(id).Delete(ctx, firestore.Exists)
	if status.Code(err) == codes.NotFound || status.Code(err) == codes.FailedPrecondition {
		return ErrNotFound
	}
	return err
}

func (s *Firestore) ListAvailable(ctx context.Context) ([]models.Listing, error) {
	q := s.client.Collection(listingsCollection).
		Where("status", "==", string(models.ListingAvailable)).
		OrderBy("created_at", firestore.Desc)
	return s.queryListings(ctx, q)
}

func (s *Firestore) ListByDonor(ctx context.Context, donorID string) ([]models.Listing, error) {
	q := s.client.Collection(listingsCollection).
		Where("donor_id", "==", donorID).
		OrderBy("created_at", firestore.Desc)
	return s.queryListings(ctx, q)
}

// SubscribeAvailable attaches a snapshot listener to the
// available-filtered listing query. The pump goroutine owns the update
// channel and closes it once the listener stops.
func (s *Firestore) SubscribeAvailable(ctx context.Context) (*Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	snaps := s.client.Collection(listingsCollection).
		Where("status", "==", string(models.ListingAvailable)).
		Snapshots(ctx)

	sub := &Subscription{updates: make(chan []models.Listing, 1)}
	sub.stop = func() {
		cancel()
		snaps.Stop()
	}

	go func() {
		defer close(sub.updates)
		for {
			snap, err := snaps.Next()
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("store: available-listings feed stopped: %v", err)
				}
				return
			}
			listings := make([]models.Listing, 0)
			docs := snap.Documents
			for {
				doc, err := docs.Next()
				if err == iterator.Done {
					break
				}
				if err != nil {
					log.Printf("store: snapshot iteration: %v", err)
					break
				}
				var l models.Listing
				if err := doc.DataTo(&l); err != nil {
					log.Printf("store: decode listing %s: %v", doc.Ref.ID, err)
					continue
				}
				listings = append(listings, l)
			}
			sub.push(listings)
		}
	}()
	return sub, nil
}

// --- Claim operations ---

func (s *Firestore) GetClaim(ctx context.Context, id string) (*models.Claim, error) {
	var c models.Claim
	if err := s.getDoc(ctx, claimsCollection, id, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Firestore) CreateClaim(ctx context.Context, c *models.Claim) error {
	c.Version = 1
	return s.createDoc(ctx, claimsCollection, c.ID, c)
}

func (s *Firestore) UpdateClaim(ctx context.Context, c *models.Claim) error {
	return s.casWrite(ctx, claimsCollection, c.ID, &c.Version, c)
}

func (s *Firestore) DeleteClaim(ctx context.Context, id string) error {
	_, err := s.client.Collection(claimsCollection).Doc(id).Delete(ctx, firestore.Exists)
	if status.Code(err) == codes.NotFound || status.Code(err) == codes.FailedPrecondition {
		return ErrNotFound
	}
	return err
}

// --- Token operations ---

func (s *Firestore) GetToken(ctx context.Context, id string) (*models.VerificationToken, error) {
	var t models.VerificationToken
	if err := s.getDoc(ctx, tokensCollection, id, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Firestore) GetLiveToken(ctx context.Context, listingID string) (*models.VerificationToken, error) {
	iter := s.client.Collection(tokensCollection).
		Where("listing_id", "==", listingID).
		Where("live", "==", true).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var t models.VerificationToken
	if err := doc.DataTo(&t); err != nil {
		return nil, fmt.Errorf("decode token %s: %w", doc.Ref.ID, err)
	}
	return &t, nil
}

func (s *Firestore) CreateToken(ctx context.Context, t *models.VerificationToken) error {
	t.Version = 1
	return s.createDoc(ctx, tokensCollection, t.ID, t)
}

func (s *Firestore) UpdateToken(ctx context.Context, t *models.VerificationToken) error {
	return s.casWrite(ctx, tokensCollection, t.ID, &t.Version, t)
}

// --- helpers ---

func (s *Firestore) getDoc(ctx context.Context, collection, id string, out interface{}) error {
	doc, err := s.client.Collection(collection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return doc.DataTo(out)
}

func (s *Firestore) createDoc(ctx context.Context, collection, id string, data interface{}) error {
	_, err := s.client.Collection(collection).Doc(id).Create(ctx, data)
	if status.Code(err) == codes.AlreadyExists {
		return ErrExists
	}
	return err
}

// casWrite applies data conditioned on the stored version field still
// matching *version, then bumps *version. Run inside a transaction so
// the read-compare-write is atomic on the server.
func (s *Firestore) casWrite(ctx context.Context, collection, id string, version *int64, data interface{}) error {
	ref := s.client.Collection(collection).Doc(id)
	expect := *version
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		stored, err := doc.DataAt("version")
		if err != nil {
			return fmt.Errorf("read version of %s/%s: %w", collection, id, err)
		}
		if v, ok := stored.(int64); !ok || v != expect {
			return ErrVersionMismatch
		}
		*version = expect + 1
		return tx.Set(ref, data)
	})
	if err != nil {
		*version = expect
	}
	return err
}

func (s *Firestore) queryListings(ctx context.Context, q firestore.Query) ([]models.Listing, error) {
	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []models.Listing
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		var l models.Listing
		if err := doc.DataTo(&l); err != nil {
			return nil, fmt.Errorf("decode listing %s: %w", doc.Ref.ID, err)
		}
		out = append(out, l)
	}
	return out, nil
}
