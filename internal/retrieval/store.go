package retrieval

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"
)

var _ VectorStore = (*SQLiteStore)(nil)

// SQLiteStore provides vector storage and brute-force cosine similarity search
// over the chunk_records table. It backs local development and tests; the
// managed deployment uses MongoStore.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an existing *sql.DB. The chunk_records table must
// already exist (created via storage migrations).
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

const liveClause = `(permanent = 1 OR expires_at > ?)`

const recordColumns = `id, source_id, source_type, origin, title, language, chunk_index, text_chunk, embedding, permanent, created_at, expires_at`

// Insert adds records in a single transaction.
func (s *SQLiteStore) Insert(ctx context.Context, records []Record) error {
	for _, r := range records {
		if err := r.validate(); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO chunk_records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		var expiresAt any
		if r.ExpiresAt != nil {
			expiresAt = formatTime(*r.ExpiresAt)
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.SourceID, string(r.SourceType), r.Origin, r.Title, r.Language,
			r.ChunkIndex, r.TextChunk, encodeFloat32s(r.Embedding), r.Permanent, formatTime(r.CreatedAt), expiresAt); err != nil {
			return fmt.Errorf("inserting record %s: %w", r.ID, err)
		}
	}

	return tx.Commit()
}

// idScore holds only the ID and score during the scan phase of Search.
// Full record details are fetched only for top-K winners.
type idScore struct {
	ID    string
	Score float32
}

// Search scans the embeddings of live records, keeps the top-K in a min-heap,
// then loads the winners in full.
func (s *SQLiteStore) Search(ctx context.Context, vector []float32, topK int, now time.Time) ([]ScoredRecord, error) {
	if topK <= 0 {
		return nil, nil
	}
	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, embedding FROM chunk_records WHERE `+liveClause, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	h := &idScoreHeap{}
	heap.Init(h)
	var buf []float32

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}

		score := dotProduct(vector, buf, queryNorm)
		if h.Len() < topK {
			heap.Push(h, idScore{ID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = idScore{ID: id, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	rows.Close()

	if h.Len() == 0 {
		return nil, nil
	}

	ids := make([]string, h.Len())
	scores := make(map[string]float32, h.Len())
	for i := len(ids) - 1; i >= 0; i-- {
		item := heap.Pop(h).(idScore)
		ids[i] = item.ID
		scores[item.ID] = item.Score
	}

	records, err := s.getByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	results := make([]ScoredRecord, len(records))
	for i, r := range records {
		results[i] = ScoredRecord{Record: r, Score: scores[r.ID]}
	}
	// IN queries do not preserve order.
	sortByScore(results)
	return results, nil
}

func (s *SQLiteStore) getByIDs(ctx context.Context, ids []string) ([]Record, error) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+`
		FROM chunk_records WHERE id IN (?`+strings.Repeat(",?", len(ids)-1)+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var r Record
	var sourceType, createdAt string
	var expiresAt sql.NullString
	var blob []byte
	if err := rows.Scan(&r.ID, &r.SourceID, &sourceType, &r.Origin, &r.Title, &r.Language, &r.ChunkIndex,
		&r.TextChunk, &blob, &r.Permanent, &createdAt, &expiresAt); err != nil {
		return Record{}, fmt.Errorf("scanning record: %w", err)
	}
	r.SourceType = SourceType(sourceType)

	var err error
	if r.Embedding, err = decodeFloat32s(blob); err != nil {
		return Record{}, fmt.Errorf("decoding embedding for %s: %w", r.ID, err)
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return Record{}, fmt.Errorf("parsing created_at for %s: %w", r.ID, err)
	}
	if expiresAt.Valid {
		t, err := parseTime(expiresAt.String)
		if err != nil {
			return Record{}, fmt.Errorf("parsing expires_at for %s: %w", r.ID, err)
		}
		r.ExpiresAt = &t
	}
	return r, nil
}

// sortByScore sorts ScoredRecords by Score descending. Used for small slices (topK).
func sortByScore(results []ScoredRecord) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Score > results[j-1].Score; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

func (s *SQLiteStore) SourceExists(ctx context.Context, origin string, now time.Time) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM (SELECT 1 FROM chunk_records WHERE origin = ? AND `+liveClause+` LIMIT 1)`,
		origin, formatTime(now)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking source %q: %w", origin, err)
	}
	return n > 0, nil
}

const sourceSummary = `SELECT source_id, MIN(source_type), MIN(origin), MIN(title), MIN(language),
	MAX(permanent), MIN(created_at), MIN(expires_at), COUNT(*)
	FROM chunk_records WHERE %s
	GROUP BY source_id
	ORDER BY MIN(created_at) DESC`

func (s *SQLiteStore) ListSources(ctx context.Context, now time.Time) ([]Source, error) {
	return s.querySources(ctx, fmt.Sprintf(sourceSummary, liveClause), formatTime(now))
}

func (s *SQLiteStore) ExpiredSources(ctx context.Context, now time.Time) ([]Source, error) {
	return s.querySources(ctx, fmt.Sprintf(sourceSummary, `permanent = 0 AND expires_at <= ?`), formatTime(now))
}

func (s *SQLiteStore) querySources(ctx context.Context, query string, args ...any) ([]Source, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sources: %w", err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		var src Source
		var sourceType, createdAt string
		var expiresAt sql.NullString
		if err := rows.Scan(&src.SourceID, &sourceType, &src.Origin, &src.Title, &src.Language,
			&src.Permanent, &createdAt, &expiresAt, &src.Chunks); err != nil {
			return nil, fmt.Errorf("scanning source: %w", err)
		}
		src.SourceType = SourceType(sourceType)
		if src.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for source %s: %w", src.SourceID, err)
		}
		if expiresAt.Valid {
			t, err := parseTime(expiresAt.String)
			if err != nil {
				return nil, fmt.Errorf("parsing expires_at for source %s: %w", src.SourceID, err)
			}
			src.ExpiresAt = &t
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

func (s *SQLiteStore) DeleteSource(ctx context.Context, sourceID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chunk_records WHERE source_id = ?`, sourceID)
	if err != nil {
		return 0, fmt.Errorf("deleting source %s: %w", sourceID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunk_records").Scan(&count)
	return count, err
}

// Close is a no-op; the *sql.DB is owned by storage.Store.
func (s *SQLiteStore) Close() error {
	return nil
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
func decodeFloat32s(b []byte) ([]float32, error) {
	return decodeFloat32sInto(nil, b)
}

// decodeFloat32sInto decodes into buf, reusing its capacity during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// dotProduct computes cosine similarity as dot(a,b) / (aNorm * bNorm).
// aNorm is the precomputed L2 norm of vector a.
func dotProduct(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// idScoreHeap is a min-heap of idScore ordered by Score.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int           { return len(h) }
func (h idScoreHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h idScoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x any)        { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
