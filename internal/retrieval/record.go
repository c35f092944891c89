package retrieval

import (
	"fmt"
	"time"
)

// SourceType identifies how a source entered the knowledge base.
type SourceType string

const (
	SourceUpload SourceType = "upload"
	SourceWeb    SourceType = "web"
	SourceVideo  SourceType = "video"
)

// ParseSourceType validates s.
func ParseSourceType(s string) (SourceType, error) {
	switch t := SourceType(s); t {
	case SourceUpload, SourceWeb, SourceVideo:
		return t, nil
	}
	return "", fmt.Errorf("unknown source type %q", s)
}

// Record is one embedded chunk of a source.
type Record struct {
	ID         string
	SourceID   string
	SourceType SourceType
	Origin     string
	Title      string
	Language   string
	ChunkIndex int
	TextChunk  string
	Embedding  []float32
	Permanent  bool
	CreatedAt  time.Time
	ExpiresAt  *time.Time // nil iff Permanent
}

// Live reports whether r is visible at now.
func (r Record) Live(now time.Time) bool {
	return isLive(r.Permanent, r.ExpiresAt, now)
}

func isLive(permanent bool, expiresAt *time.Time, now time.Time) bool {
	if permanent {
		return true
	}
	return expiresAt != nil && expiresAt.After(now)
}

// ScoredRecord is a Record with a similarity score attached.
type ScoredRecord struct {
	Record
	Score float32
}

// Source summarises all records sharing a SourceID.
type Source struct {
	SourceID   string
	SourceType SourceType
	Origin     string
	Title      string
	Language   string
	Permanent  bool
	CreatedAt  time.Time
	ExpiresAt  *time.Time
	Chunks     int
}

// Lifecycle carries the permanence fields every record of one ingestion shares.
type Lifecycle struct {
	Permanent bool
	CreatedAt time.Time
	ExpiresAt *time.Time
}

// NewLifecycle stamps a new ingestion at now. Temporary knowledge expires
// exactly retention after creation; permanent knowledge never does.
func NewLifecycle(permanent bool, now time.Time, retention time.Duration) Lifecycle {
	created := now.UTC()
	l := Lifecycle{Permanent: permanent, CreatedAt: created}
	if !permanent {
		exp := created.Add(retention)
		l.ExpiresAt = &exp
	}
	return l
}

// Apply copies the lifecycle onto r.
func (l Lifecycle) Apply(r *Record) {
	r.Permanent = l.Permanent
	r.CreatedAt = l.CreatedAt
	if l.ExpiresAt != nil {
		exp := *l.ExpiresAt
		r.ExpiresAt = &exp
	} else {
		r.ExpiresAt = nil
	}
}

// validate enforces the permanence invariant before a record is written.
func (r Record) validate() error {
	if r.Permanent && r.ExpiresAt != nil {
		return fmt.Errorf("record %s: permanent record must not expire", r.ID)
	}
	if !r.Permanent && r.ExpiresAt == nil {
		return fmt.Errorf("record %s: temporary record needs an expiry", r.ID)
	}
	if len(r.Embedding) == 0 {
		return fmt.Errorf("record %s: empty embedding", r.ID)
	}
	return nil
}
