package retrieval

import (
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

func lookup(d bson.D, key string) (any, bool) {
	for _, e := range d {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

func TestSearchPipeline(t *testing.T) {
	now := t0.Add(10 * time.Minute)
	p := searchPipeline("default", []float32{1, 2}, 5, now)
	if len(p) != 2 {
		t.Fatalf("pipeline has %d stages, want 2", len(p))
	}

	vs, ok := lookup(p[0], "$vectorSearch")
	if !ok {
		t.Fatalf("first stage = %v, want $vectorSearch", p[0])
	}
	stage := vs.(bson.D)
	if v, _ := lookup(stage, "index"); v != "default" {
		t.Errorf("index = %v", v)
	}
	if v, _ := lookup(stage, "limit"); v != int64(5) {
		t.Errorf("limit = %v, want 5", v)
	}
	if v, _ := lookup(stage, "numCandidates"); v != int64(100) {
		t.Errorf("numCandidates = %v, want 100", v)
	}
	if v, _ := lookup(stage, "queryVector"); len(v.([]float64)) != 2 {
		t.Errorf("queryVector = %v", v)
	}

	filter, ok := lookup(stage, "filter")
	if !ok {
		t.Fatal("$vectorSearch has no filter")
	}
	or, _ := lookup(filter.(bson.D), "$or")
	branches := or.(bson.A)
	if len(branches) != 2 {
		t.Fatalf("filter $or = %v", or)
	}
	perm, _ := lookup(branches[0].(bson.D), "permanent")
	if eq, _ := lookup(perm.(bson.D), "$eq"); eq != true {
		t.Errorf("permanent branch = %v, want $eq true", perm)
	}
	exp, _ := lookup(branches[1].(bson.D), "expires_at")
	if gt, _ := lookup(exp.(bson.D), "$gt"); !gt.(time.Time).Equal(now) {
		t.Errorf("expires_at branch = %v, want $gt now", exp)
	}

	if _, ok := lookup(p[1], "$addFields"); !ok {
		t.Errorf("second stage = %v, want $addFields", p[1])
	}
}

func TestLiveAndExpiredFilters(t *testing.T) {
	now := time.Date(2026, 3, 1, 13, 0, 0, 0, time.FixedZone("x", 3600))

	live := liveFilter(now)
	or, ok := lookup(live, "$or")
	if !ok || len(or.(bson.A)) != 2 {
		t.Fatalf("liveFilter = %v", live)
	}

	exp := expiredFilter(now)
	if v, _ := lookup(exp, "permanent"); v != false {
		t.Errorf("expiredFilter permanent = %v", v)
	}
	cond, _ := lookup(exp, "expires_at")
	lte, _ := lookup(cond.(bson.D), "$lte")
	if got := lte.(time.Time); got.Location() != time.UTC || !got.Equal(now) {
		t.Errorf("$lte = %v, want %v in UTC", got, now)
	}
}

func TestMongoChunkRoundTrip(t *testing.T) {
	temp := makeRecords("s", "https://x", 1, false, t0)[0]
	got := toMongoChunk(temp).toRecord()
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(*temp.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, temp.ExpiresAt)
	}
	if got.Origin != temp.Origin || got.SourceType != temp.SourceType || got.TextChunk != temp.TextChunk {
		t.Errorf("round trip = %+v", got)
	}
	if len(got.Embedding) != len(temp.Embedding) {
		t.Errorf("embedding length = %d", len(got.Embedding))
	}

	perm := makeRecords("p", "doc.pdf", 1, true, t0)[0]
	doc, err := bson.Marshal(toMongoChunk(perm))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := bson.Raw(doc).LookupErr("expires_at"); err == nil {
		t.Error("permanent document should omit expires_at")
	}
	if v := bson.Raw(doc).Lookup("source").StringValue(); v != "doc.pdf" {
		t.Errorf("source field = %q", v)
	}
}

func TestVectorIndexDefinition(t *testing.T) {
	def := vectorIndexDefinition("default", 384)
	if v, _ := lookup(def, "type"); v != "vectorSearch" {
		t.Errorf("type = %v", v)
	}
	d, _ := lookup(def, "definition")
	fields, _ := lookup(d.(bson.D), "fields")
	arr := fields.(bson.A)
	if len(arr) != 3 {
		t.Fatalf("got %d fields, want 3", len(arr))
	}
	if v, _ := lookup(arr[0].(bson.D), "numDimensions"); v != 384 {
		t.Errorf("numDimensions = %v", v)
	}
}
