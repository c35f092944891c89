package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var _ VectorStore = (*MongoStore)(nil)

const (
	mongoCloseTimeout = 5 * time.Second
	// searchCandidates is the numCandidates multiplier for $vectorSearch.
	searchCandidates = 20
)

// MongoOptions locates the Atlas collection and its vector search index.
type MongoOptions struct {
	URI         string
	Database    string
	Collection  string
	VectorIndex string
	Dimensions  int
}

// MongoStore stores chunk records in MongoDB Atlas and searches them with
// $vectorSearch.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	index      string
	dimensions int
}

// NewMongoStore connects to MongoDB and verifies the connection.
func NewMongoStore(ctx context.Context, opts MongoOptions) (*MongoStore, error) {
	if opts.URI == "" {
		return nil, errors.New("mongo uri is required")
	}
	if opts.Database == "" || opts.Collection == "" {
		return nil, errors.New("mongo database and collection names are required")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(opts.URI))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}
	index := opts.VectorIndex
	if index == "" {
		index = "default"
	}
	return &MongoStore{
		client:     client,
		collection: client.Database(opts.Database).Collection(opts.Collection),
		index:      index,
		dimensions: opts.Dimensions,
	}, nil
}

// mongoChunk is the stored document shape. Field names follow the documents
// the web app has always written (source, original_language).
type mongoChunk struct {
	ID         string     `bson:"_id"`
	SourceID   string     `bson:"source_id"`
	SourceType string     `bson:"source_type"`
	Origin     string     `bson:"source"`
	Title      string     `bson:"title"`
	Language   string     `bson:"original_language"`
	ChunkIndex int        `bson:"chunk_index"`
	Text       string     `bson:"text"`
	Embedding  []float64  `bson:"embedding"`
	Permanent  bool       `bson:"permanent"`
	CreatedAt  time.Time  `bson:"created_at"`
	ExpiresAt  *time.Time `bson:"expires_at,omitempty"`
}

func toMongoChunk(r Record) mongoChunk {
	return mongoChunk{
		ID:         r.ID,
		SourceID:   r.SourceID,
		SourceType: string(r.SourceType),
		Origin:     r.Origin,
		Title:      r.Title,
		Language:   r.Language,
		ChunkIndex: r.ChunkIndex,
		Text:       r.TextChunk,
		Embedding:  float64Embedding(r.Embedding),
		Permanent:  r.Permanent,
		CreatedAt:  r.CreatedAt.UTC(),
		ExpiresAt:  r.ExpiresAt,
	}
}

func (c mongoChunk) toRecord() Record {
	r := Record{
		ID:         c.ID,
		SourceID:   c.SourceID,
		SourceType: SourceType(c.SourceType),
		Origin:     c.Origin,
		Title:      c.Title,
		Language:   c.Language,
		ChunkIndex: c.ChunkIndex,
		TextChunk:  c.Text,
		Embedding:  float32Embedding(c.Embedding),
		Permanent:  c.Permanent,
		CreatedAt:  c.CreatedAt.UTC(),
	}
	if c.ExpiresAt != nil {
		exp := c.ExpiresAt.UTC()
		r.ExpiresAt = &exp
	}
	return r
}

// liveFilter matches records that have not expired at now. It only uses
// operators $vectorSearch accepts in its filter.
func liveFilter(now time.Time) bson.D {
	return bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "permanent", Value: bson.D{{Key: "$eq", Value: true}}}},
		bson.D{{Key: "expires_at", Value: bson.D{{Key: "$gt", Value: now.UTC()}}}},
	}}}
}

func expiredFilter(now time.Time) bson.D {
	return bson.D{
		{Key: "permanent", Value: false},
		{Key: "expires_at", Value: bson.D{{Key: "$lte", Value: now.UTC()}}},
	}
}

func (ms *MongoStore) Insert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	docs := make([]any, len(records))
	for i, r := range records {
		if err := r.validate(); err != nil {
			return err
		}
		docs[i] = toMongoChunk(r)
	}
	// Ordered so a failure leaves only a prefix of the batch; callers remove
	// it with DeleteSource.
	if _, err := ms.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true)); err != nil {
		return fmt.Errorf("inserting %d records: %w", len(records), err)
	}
	return nil
}

// searchPipeline filters expired records inside $vectorSearch, so the
// nearest live neighbours fill all topK slots.
func searchPipeline(index string, vector []float32, topK int, now time.Time) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$vectorSearch", Value: bson.D{
			{Key: "index", Value: index},
			{Key: "path", Value: "embedding"},
			{Key: "queryVector", Value: float64Embedding(vector)},
			{Key: "numCandidates", Value: int64(topK * searchCandidates)},
			{Key: "limit", Value: int64(topK)},
			{Key: "filter", Value: liveFilter(now)},
		}}},
		{{Key: "$addFields", Value: bson.D{
			{Key: "score", Value: bson.D{{Key: "$meta", Value: "vectorSearchScore"}}},
		}}},
	}
}

func (ms *MongoStore) Search(ctx context.Context, vector []float32, topK int, now time.Time) ([]ScoredRecord, error) {
	if topK <= 0 || len(vector) == 0 {
		return nil, nil
	}
	cursor, err := ms.collection.Aggregate(ctx, searchPipeline(ms.index, vector, topK, now))
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer cursor.Close(ctx)

	var results []ScoredRecord
	for cursor.Next(ctx) {
		var doc struct {
			mongoChunk `bson:",inline"`
			Score      float64 `bson:"score"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decoding search result: %w", err)
		}
		results = append(results, ScoredRecord{Record: doc.toRecord(), Score: float32(doc.Score)})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterating search results: %w", err)
	}
	return results, nil
}

func (ms *MongoStore) SourceExists(ctx context.Context, origin string, now time.Time) (bool, error) {
	filter := append(bson.D{{Key: "source", Value: origin}}, liveFilter(now)...)
	n, err := ms.collection.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("checking source %q: %w", origin, err)
	}
	return n > 0, nil
}

func sourcesPipeline(match bson.D) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$source_id"},
			{Key: "source_type", Value: bson.D{{Key: "$first", Value: "$source_type"}}},
			{Key: "source", Value: bson.D{{Key: "$first", Value: "$source"}}},
			{Key: "title", Value: bson.D{{Key: "$first", Value: "$title"}}},
			{Key: "original_language", Value: bson.D{{Key: "$first", Value: "$original_language"}}},
			{Key: "permanent", Value: bson.D{{Key: "$max", Value: "$permanent"}}},
			{Key: "created_at", Value: bson.D{{Key: "$min", Value: "$created_at"}}},
			{Key: "expires_at", Value: bson.D{{Key: "$min", Value: "$expires_at"}}},
			{Key: "chunks", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "created_at", Value: -1}}}},
	}
}

func (ms *MongoStore) ListSources(ctx context.Context, now time.Time) ([]Source, error) {
	return ms.aggregateSources(ctx, liveFilter(now))
}

func (ms *MongoStore) ExpiredSources(ctx context.Context, now time.Time) ([]Source, error) {
	return ms.aggregateSources(ctx, expiredFilter(now))
}

func (ms *MongoStore) aggregateSources(ctx context.Context, match bson.D) ([]Source, error) {
	cursor, err := ms.collection.Aggregate(ctx, sourcesPipeline(match))
	if err != nil {
		return nil, fmt.Errorf("listing sources: %w", err)
	}
	defer cursor.Close(ctx)

	var sources []Source
	for cursor.Next(ctx) {
		var doc struct {
			SourceID   string     `bson:"_id"`
			SourceType string     `bson:"source_type"`
			Origin     string     `bson:"source"`
			Title      string     `bson:"title"`
			Language   string     `bson:"original_language"`
			Permanent  bool       `bson:"permanent"`
			CreatedAt  time.Time  `bson:"created_at"`
			ExpiresAt  *time.Time `bson:"expires_at"`
			Chunks     int        `bson:"chunks"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decoding source: %w", err)
		}
		sources = append(sources, Source{
			SourceID:   doc.SourceID,
			SourceType: SourceType(doc.SourceType),
			Origin:     doc.Origin,
			Title:      doc.Title,
			Language:   doc.Language,
			Permanent:  doc.Permanent,
			CreatedAt:  doc.CreatedAt.UTC(),
			ExpiresAt:  doc.ExpiresAt,
			Chunks:     doc.Chunks,
		})
	}
	return sources, cursor.Err()
}

func (ms *MongoStore) DeleteSource(ctx context.Context, sourceID string) (int, error) {
	res, err := ms.collection.DeleteMany(ctx, bson.D{{Key: "source_id", Value: sourceID}})
	if err != nil {
		return 0, fmt.Errorf("deleting source %s: %w", sourceID, err)
	}
	return int(res.DeletedCount), nil
}

func (ms *MongoStore) Count(ctx context.Context) (int, error) {
	n, err := ms.collection.CountDocuments(ctx, bson.D{})
	return int(n), err
}

// vectorIndexDefinition is the Atlas Vector Search index over embedding,
// with the lifecycle fields declared for filtering.
func vectorIndexDefinition(name string, dimensions int) bson.D {
	return bson.D{
		{Key: "name", Value: name},
		{Key: "type", Value: "vectorSearch"},
		{Key: "definition", Value: bson.D{{Key: "fields", Value: bson.A{
			bson.D{
				{Key: "type", Value: "vector"},
				{Key: "path", Value: "embedding"},
				{Key: "numDimensions", Value: dimensions},
				{Key: "similarity", Value: "cosine"},
			},
			bson.D{{Key: "type", Value: "filter"}, {Key: "path", Value: "permanent"}},
			bson.D{{Key: "type", Value: "filter"}, {Key: "path", Value: "expires_at"}},
		}}}},
	}
}

// EnsureIndexes creates the secondary indexes used by dedupe, deletion and
// the sweep.
func (ms *MongoStore) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "source", Value: 1}}, Options: options.Index().SetName("source")},
		{Keys: bson.D{{Key: "source_id", Value: 1}}, Options: options.Index().SetName("source_id")},
		{Keys: bson.D{{Key: "permanent", Value: 1}, {Key: "expires_at", Value: 1}}, Options: options.Index().SetName("permanent_expires_at")},
	}
	if _, err := ms.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("creating indexes: %w", err)
	}
	return nil
}

// EnsureSearchIndex asks Atlas to build the vector search index. It fails on
// non-Atlas deployments and when the index already exists.
func (ms *MongoStore) EnsureSearchIndex(ctx context.Context) error {
	cmd := bson.D{
		{Key: "createSearchIndexes", Value: ms.collection.Name()},
		{Key: "indexes", Value: bson.A{vectorIndexDefinition(ms.index, ms.dimensions)}},
	}
	if err := ms.collection.Database().RunCommand(ctx, cmd).Err(); err != nil {
		return fmt.Errorf("creating vector search index %q: %w", ms.index, err)
	}
	return nil
}

// Close releases the underlying MongoDB client.
func (ms *MongoStore) Close() error {
	if ms == nil || ms.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), mongoCloseTimeout)
	defer cancel()
	return ms.client.Disconnect(ctx)
}

func float64Embedding(vec []float32) []float64 {
	if len(vec) == 0 {
		return nil
	}
	out := make([]float64, len(vec))
	for i, v := range vec {
		out[i] = float64(v)
	}
	return out
}

func float32Embedding(vec []float64) []float32 {
	if len(vec) == 0 {
		return nil
	}
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(v)
	}
	return out
}
