// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package normalize

import (
	"errors"
	"sort"
	"time"

	"maystream/marketval"
)

// Kind identifies the logical record type being normalized.
type Kind string

const (
	KindQuote     Kind = "quote"
	KindStatement Kind = "statement"
	KindProfile   Kind = "profile"
	KindNews      Kind = "news"
)

var ErrNoCandidates = errors.New("no candidate records to normalize")
var ErrMixedKinds = errors.New("candidate records are of mixed kinds")

// Record is one source's reading of a logical entity. A field is
// considered present when it exists in the map with a non-nil value.
type Record struct {
	Kind      Kind
	Provider  marketval.ProviderId
	Symbol    string
	Timestamp time.Time
	Fields    map[string]any
}

// QualityScore rates one candidate, each component in [0,100].
type QualityScore struct {
	Completeness float64
	Freshness    float64
	Accuracy     float64
	Overall      float64
}

// Provenance records which source contributed to a merged record.
type Provenance struct {
	Provider  marketval.ProviderId
	Timestamp time.Time
	Score     QualityScore
}

// NormalizedRecord is the merged view over all candidate sources,
// produced fresh on every normalization call.
type NormalizedRecord struct {
	Kind        Kind
	Symbol      string
	Fields      map[string]any
	Sources     []Provenance
	LastUpdated time.Time
}

// kindProfile holds the scoring parameters of one record kind.
type kindProfile struct {
	required []string
	horizon  time.Duration
	accuracy float64
	// overall blend weights for completeness/freshness/accuracy
	wCompleteness float64
	wFreshness    float64
	wAccuracy     float64
}

var kindProfiles = map[Kind]kindProfile{
	KindQuote: {
		required:      []string{"bidPrice", "askPrice", "lastPrice", "volume"},
		horizon:       15 * time.Minute,
		accuracy:      90,
		wCompleteness: 0.4, wFreshness: 0.4, wAccuracy: 0.2,
	},
	KindStatement: {
		required:      []string{"revenue", "netIncome", "eps", "period"},
		horizon:       90 * 24 * time.Hour,
		accuracy:      85,
		wCompleteness: 0.5, wFreshness: 0.3, wAccuracy: 0.2,
	},
	KindProfile: {
		required:      []string{"name", "sector", "industry", "description"},
		horizon:       365 * 24 * time.Hour,
		accuracy:      80,
		wCompleteness: 0.6, wFreshness: 0.2, wAccuracy: 0.2,
	},
	KindNews: {
		required:      []string{"title", "url", "publishedAt", "source"},
		horizon:       24 * time.Hour,
		accuracy:      70,
		wCompleteness: 0.4, wFreshness: 0.4, wAccuracy: 0.2,
	},
}

// Normalizer scores and merges multi-source records. The zero value is
// not usable, construct with NewNormalizer.
type Normalizer struct {
	now func() time.Time
}

func NewNormalizer() *Normalizer {
	return &Normalizer{now: time.Now}
}

func present(fields map[string]any, name string) bool {
	v, exists := fields[name]
	return exists && v != nil
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Score rates a single candidate against its kind profile.
func (n *Normalizer) Score(r Record) QualityScore {
	profile := kindProfiles[r.Kind]
	var score QualityScore
	if len(profile.required) > 0 {
		presentCount := 0
		for _, name := range profile.required {
			if present(r.Fields, name) {
				presentCount++
			}
		}
		score.Completeness = clampScore(100 * float64(presentCount) / float64(len(profile.required)))
	}
	if profile.horizon > 0 {
		age := n.now().Sub(r.Timestamp)
		score.Freshness = clampScore(100 * (1 - age.Seconds()/profile.horizon.Seconds()))
	}
	score.Accuracy = clampScore(profile.accuracy)
	score.Overall = clampScore(profile.wCompleteness*score.Completeness +
		profile.wFreshness*score.Freshness +
		profile.wAccuracy*score.Accuracy)
	return score
}

// Normalize merges same-entity candidates into one record. The merge is
// seeded from the highest scoring candidate; fields it lacks are
// back-filled from the next-best candidate that has them.
func (n *Normalizer) Normalize(records []Record) (NormalizedRecord, error) {
	if len(records) == 0 {
		return NormalizedRecord{}, ErrNoCandidates
	}
	kind := records[0].Kind
	for _, r := range records[1:] {
		if r.Kind != kind {
			return NormalizedRecord{}, ErrMixedKinds
		}
	}

	type scored struct {
		record Record
		score  QualityScore
	}
	candidates := make([]scored, 0, len(records))
	for _, r := range records {
		candidates = append(candidates, scored{record: r, score: n.Score(r)})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score.Overall > candidates[j].score.Overall
	})

	merged := NormalizedRecord{
		Kind:        kind,
		Symbol:      candidates[0].record.Symbol,
		Fields:      make(map[string]any),
		LastUpdated: n.now(),
	}
	for _, c := range candidates {
		for name, value := range c.record.Fields {
			if value == nil {
				continue
			}
			if !present(merged.Fields, name) {
				merged.Fields[name] = value
			}
		}
		merged.Sources = append(merged.Sources, Provenance{
			Provider:  c.record.Provider,
			Timestamp: c.record.Timestamp,
			Score:     c.score,
		})
	}
	return merged, nil
}

// NormalizeNews groups articles by URL so duplicates collapse into one
// merged item, then returns the merged list sorted newest first.
func (n *Normalizer) NormalizeNews(records []Record) ([]NormalizedRecord, error) {
	groups := make(map[string][]Record)
	var order []string
	for _, r := range records {
		url, _ := r.Fields["url"].(string)
		if _, exists := groups[url]; !exists {
			order = append(order, url)
		}
		groups[url] = append(groups[url], r)
	}

	merged := make([]NormalizedRecord, 0, len(groups))
	for _, url := range order {
		m, err := n.Normalize(groups[url])
		if err != nil {
			return nil, err
		}
		merged = append(merged, m)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return newsTime(merged[i]).After(newsTime(merged[j]))
	})
	return merged, nil
}

func newsTime(r NormalizedRecord) time.Time {
	if published, ok := r.Fields["publishedAt"].(time.Time); ok {
		return published
	}
	if len(r.Sources) > 0 {
		return r.Sources[0].Timestamp
	}
	return time.Time{}
}
