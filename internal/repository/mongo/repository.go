package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"

	"torrentstream/internal/domain"
	"torrentstream/internal/domain/ports"
	"torrentstream/internal/metrics"
)

type assetDoc struct {
	ID                string  `bson:"_id"`
	MagnetURI         string  `bson:"magnetUri"`
	Status            string  `bson:"status"`
	Progress          float64 `bson:"progress"`
	OriginalRelPath   string  `bson:"originalRelPath,omitempty"`
	StreamableRelPath string  `bson:"streamableRelPath,omitempty"`
	TotalDuration     float64 `bson:"totalDuration,omitempty"`
	LastWatchedAt     *int64  `bson:"lastWatchedAt,omitempty"`
	CreatedAt         int64   `bson:"createdAt"`
}

// Repository persists domain.MovieAsset rows and implements
// ports.AssetRepository. Both Get and Upsert run invariant I6 (evict
// unwatched assets) before returning or persisting — mirroring the
// original service's save()-time eviction check, extended to reads so a
// stale READY asset is reaped the next time anything looks at it rather
// than only on its next incidental write.
type Repository struct {
	collection *mongo.Collection
	store      ports.SegmentStore
	evictAfter time.Duration
}

func NewRepository(client *mongo.Client, dbName, collectionName string, store ports.SegmentStore, evictAfter time.Duration) *Repository {
	return &Repository{
		collection: client.Database(dbName).Collection(collectionName),
		store:      store,
		evictAfter: evictAfter,
	}
}

// Connect dials Mongo with otelmongo command monitoring installed, matching
// the tracing the rest of the service carries.
func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{
		options.Client().ApplyURI(uri).SetMonitor(otelmongo.NewMonitor()),
	}, extra...)
	client, err := mongo.Connect(ctx, opts...)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, err
	}
	return client, nil
}

func (r *Repository) EnsureIndexes(ctx context.Context) error {
	if r == nil || r.collection == nil {
		return nil
	}
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "lastWatchedAt", Value: 1}}},
		{Keys: bson.D{{Key: "createdAt", Value: -1}}},
	}
	_, err := r.collection.Indexes().CreateMany(ctx, models)
	return err
}

// Get returns the persisted asset, first running the same eviction-if-stale
// check Upsert applies (invariant I6). Get is the one path every usecase —
// Start, Status, Stream — reads through, so routing the check here (and
// persisting the evicted shape back when it fires) is what actually makes a
// stale READY asset get reaped in the running system, rather than only on
// the next unrelated write.
func (r *Repository) Get(ctx context.Context, id domain.MovieID) (domain.MovieAsset, error) {
	var doc assetDoc
	if err := r.collection.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.MovieAsset{}, domain.ErrNotFound
		}
		return domain.MovieAsset{}, err
	}
	asset := fromDoc(doc)
	evicted := r.applyEvictionIfStale(asset)
	if evicted.Status == asset.Status {
		return asset, nil
	}
	if err := r.Upsert(ctx, evicted); err != nil {
		return asset, err
	}
	return evicted, nil
}

// Upsert writes asset, first evicting its on-disk files and resetting its
// status to PENDING if it has gone unwatched longer than evictAfter
// (invariant I6). The evicted shape is what gets persisted, so a stale
// asset never resurfaces as READY after its segments are gone.
func (r *Repository) Upsert(ctx context.Context, asset domain.MovieAsset) error {
	asset = r.applyEvictionIfStale(asset)

	doc := toDoc(asset)
	_, err := r.collection.UpdateOne(
		ctx,
		bson.M{"_id": doc.ID},
		bson.M{"$set": doc, "$setOnInsert": bson.M{"createdAt": doc.CreatedAt}},
		options.Update().SetUpsert(true),
	)
	return err
}

func (r *Repository) applyEvictionIfStale(asset domain.MovieAsset) domain.MovieAsset {
	if r.store == nil || asset.Status != domain.StatusReady {
		return asset
	}
	now := time.Now().UTC()
	evicted, err := r.store.EvictIfStale(asset.MovieID, asset.LastWatchedAt, now, r.evictAfter)
	if err != nil || !evicted {
		return asset
	}
	metrics.StoreEvictionsTotal.Inc()
	asset.Status = domain.StatusPending
	asset.Progress = 0
	asset.OriginalRelPath = ""
	asset.StreamableRelPath = ""
	asset.LastWatchedAt = nil
	return asset
}

func (r *Repository) UpdateLastWatched(ctx context.Context, id domain.MovieID, at time.Time) error {
	unix := at.UTC().Unix()
	res, err := r.collection.UpdateOne(
		ctx,
		bson.M{"_id": string(id)},
		bson.M{"$set": bson.M{"lastWatchedAt": unix}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func toDoc(a domain.MovieAsset) assetDoc {
	var lastWatched *int64
	if a.LastWatchedAt != nil {
		unix := a.LastWatchedAt.UTC().Unix()
		lastWatched = &unix
	}
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return assetDoc{
		ID:                string(a.MovieID),
		MagnetURI:         a.MagnetURI,
		Status:            string(a.Status),
		Progress:          a.Progress,
		OriginalRelPath:   a.OriginalRelPath,
		StreamableRelPath: a.StreamableRelPath,
		TotalDuration:     a.TotalDuration,
		LastWatchedAt:     lastWatched,
		CreatedAt:         createdAt.Unix(),
	}
}

func fromDoc(doc assetDoc) domain.MovieAsset {
	var lastWatched *time.Time
	if doc.LastWatchedAt != nil {
		t := time.Unix(*doc.LastWatchedAt, 0).UTC()
		lastWatched = &t
	}
	return domain.MovieAsset{
		MovieID:           domain.MovieID(doc.ID),
		MagnetURI:         doc.MagnetURI,
		Status:            domain.MovieStatus(doc.Status),
		Progress:          doc.Progress,
		OriginalRelPath:   doc.OriginalRelPath,
		StreamableRelPath: doc.StreamableRelPath,
		TotalDuration:     doc.TotalDuration,
		LastWatchedAt:     lastWatched,
		CreatedAt:         time.Unix(doc.CreatedAt, 0).UTC(),
	}
}
