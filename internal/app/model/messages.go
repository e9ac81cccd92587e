package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Stream layout. One JetStream stream carries every pipeline subject;
// each stage owns a durable pull consumer on its subject.
const (
	PipelineStreamName     = "MENTIONS"
	PipelineStreamSubjects = "mentions.>"
	PipelineStreamMaxBytes = 1024 * 1024 * 256 // 256MB

	SubjectResolveURLs   = "mentions.resolve"
	SubjectCountMentions = "mentions.count"
	SubjectUpdateRanking = "mentions.rank"
	SubjectEnrichEntry   = "mentions.enrich"
	SubjectSweep         = "mentions.sweep"
	SubjectSyncBans      = "mentions.bans"
)

// MentionCandidate is one raw (url, poster) pair seen in the stream.
type MentionCandidate struct {
	URL      string `json:"url"`
	PosterID string `json:"poster_id"`
}

// MentionBatch is the resolve-urls payload poured by the ingestor.
type MentionBatch struct {
	ID       string             `json:"id"`
	Mentions []MentionCandidate `json:"mentions"`
}

// ResolvedMention is one mention whose URL resolved to a product page.
type ResolvedMention struct {
	ProductRef string `json:"product_ref"`
	Store      string `json:"store"`
	PosterID   string `json:"poster_id"`
}

// CountBatch is the count-mentions payload emitted by the resolver.
type CountBatch struct {
	ID       string            `json:"id"`
	Mentions []ResolvedMention `json:"mentions"`
	// Date anchors the periods the batch increments. The resolver
	// stamps it so redelivery near midnight stays in the original day.
	Date time.Time `json:"date"`
}

// RankingUpdate triggers materialization of one (store, frequency,
// period) leaderboard.
type RankingUpdate struct {
	Store     string    `json:"store"`
	Frequency Frequency `json:"frequency"`
	Date      time.Time `json:"date"`
}

// EnrichTask asks for metadata enrichment of one pending snapshot.
type EnrichTask struct {
	ProductRef string    `json:"product_ref"`
	Store      string    `json:"store"`
	Frequency  Frequency `json:"frequency"`
	Date       time.Time `json:"date"`
	Count      int64     `json:"count"`
	Retries    int       `json:"retries"`
}

// Sweepable model kinds.
const (
	KindCounter  = "counter"
	KindSnapshot = "snapshot"
	KindLink     = "link"
)

// SweepTask asks the sweeper to delete one page of expired rows and
// re-enqueue itself if more remain.
type SweepTask struct {
	Kind      string    `json:"kind"`
	Frequency Frequency `json:"frequency"`
	Date      time.Time `json:"date"`
	// Store scopes product sweeps; empty means all stores.
	Store string `json:"store,omitempty"`
}

// EncodeMessage marshals a queue payload.
func EncodeMessage(v any) ([]byte, error) {
	return json.Marshal(v)
}

// DecodeMessage parses a queue payload strictly: unknown fields fail
// closed so malformed messages are dropped instead of half-applied.
func DecodeMessage(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	return nil
}
