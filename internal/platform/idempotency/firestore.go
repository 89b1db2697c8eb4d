package idempotency

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const idempotencyCollection = "idempotencyKeys"

// FirestoreStore persists idempotency entries in a dedicated collection,
// one document per key.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreStore constructs a Firestore-backed store.
func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client, collection: idempotencyCollection}
}

type idempotencyDocument struct {
	RequestHash string              `firestore:"requestHash"`
	Completed   bool                `firestore:"completed"`
	StatusCode  int                 `firestore:"statusCode,omitempty"`
	Header      map[string][]string `firestore:"header,omitempty"`
	Body        []byte              `firestore:"body,omitempty"`
	FirstSeen   time.Time           `firestore:"firstSeen"`
	StaleAfter  time.Time           `firestore:"staleAfter"`
}

func (d idempotencyDocument) toEntry() Entry {
	return Entry{
		RequestHash: d.RequestHash,
		Completed:   d.Completed,
		StatusCode:  d.StatusCode,
		Header:      d.Header,
		Body:        d.Body,
		FirstSeen:   d.FirstSeen,
		StaleAfter:  d.StaleAfter,
	}
}

func documentFromEntry(entry Entry) idempotencyDocument {
	return idempotencyDocument{
		RequestHash: entry.RequestHash,
		Completed:   entry.Completed,
		StatusCode:  entry.StatusCode,
		Header:      entry.Header,
		Body:        entry.Body,
		FirstSeen:   entry.FirstSeen,
		StaleAfter:  entry.StaleAfter,
	}
}

func (s *FirestoreStore) Begin(ctx context.Context, key, requestHash string, now time.Time, retention time.Duration) (Outcome, Entry, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	now = now.UTC()
	ref := s.client.Collection(s.collection).Doc(key)

	var (
		outcome Outcome
		entry   Entry
	)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		fresh := false
		var doc idempotencyDocument
		switch {
		case err == nil:
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
			// A stale entry is claimable again.
			if !doc.StaleAfter.IsZero() && !now.Before(doc.StaleAfter) {
				fresh = true
			}
		case status.Code(err) == codes.NotFound:
			fresh = true
		default:
			return err
		}

		if fresh {
			doc = idempotencyDocument{
				RequestHash: requestHash,
				FirstSeen:   now,
				StaleAfter:  now.Add(retention),
			}
			if err := tx.Set(ref, doc); err != nil {
				return err
			}
			outcome, entry = OutcomeProceed, doc.toEntry()
			return nil
		}

		if doc.RequestHash != requestHash {
			return ErrKeyReused
		}
		if doc.Completed {
			outcome, entry = OutcomeReplay, doc.toEntry()
			return nil
		}
		outcome, entry = OutcomeInFlight, doc.toEntry()
		return nil
	})
	if err != nil {
		return 0, Entry{}, err
	}
	return outcome, entry, nil
}

func (s *FirestoreStore) Complete(ctx context.Context, key, requestHash string, entry Entry) error {
	ref := s.client.Collection(s.collection).Doc(key)
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err == nil {
			var doc idempotencyDocument
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
			if doc.RequestHash != requestHash {
				return ErrKeyReused
			}
			if entry.FirstSeen.IsZero() {
				entry.FirstSeen = doc.FirstSeen
			}
		} else if status.Code(err) != codes.NotFound {
			return err
		}
		entry.RequestHash = requestHash
		entry.Completed = true
		return tx.Set(ref, documentFromEntry(entry))
	})
}

func (s *FirestoreStore) Forget(ctx context.Context, key string) error {
	_, err := s.client.Collection(s.collection).Doc(key).Delete(ctx)
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return err
}

func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	docs, err := s.client.Collection(s.collection).
		Where("staleAfter", "<=", now.UTC()).
		Limit(limit).
		Documents(ctx).GetAll()
	if err != nil || len(docs) == 0 {
		return 0, err
	}

	writer := s.client.BulkWriter(ctx)
	for _, doc := range docs {
		if _, err := writer.Delete(doc.Ref); err != nil {
			writer.End()
			return 0, err
		}
	}
	writer.End()
	return len(docs), nil
}
