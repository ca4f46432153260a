// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package normalize

import (
	"testing"
	"time"

	"github.com/ericlagergren/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNormalizer(now time.Time) *Normalizer {
	n := NewNormalizer()
	n.now = func() time.Time { return now }
	return n
}

func TestReconcileValuesMedian(t *testing.T) {
	result := ReconcileValues([]*decimal.Big{
		decimal.New(10, 0),
		decimal.New(20, 0),
		decimal.New(30, 0),
	}, nil)
	assert.Equal(t, 0, decimal.New(20, 0).Cmp(result))
}

func TestReconcileValuesMedianEvenCount(t *testing.T) {
	result := ReconcileValues([]*decimal.Big{
		decimal.New(10, 0),
		decimal.New(30, 0),
	}, nil)
	assert.Equal(t, 0, decimal.New(20, 0).Cmp(result))
}

func TestReconcileValuesWeightedMean(t *testing.T) {
	result := ReconcileValues([]*decimal.Big{
		decimal.New(10, 0),
		decimal.New(20, 0),
	}, []float64{1, 3})
	assert.Equal(t, 0, decimal.New(175, 1).Cmp(result))
}

func TestReconcileValuesEmpty(t *testing.T) {
	assert.Equal(t, 0, new(decimal.Big).Cmp(ReconcileValues(nil, nil)))
}

func TestReconcileValuesAllNil(t *testing.T) {
	result := ReconcileValues([]*decimal.Big{nil, nil}, nil)
	assert.Equal(t, 0, new(decimal.Big).Cmp(result))
}

func TestReconcileValuesIgnoresNilWithMedian(t *testing.T) {
	result := ReconcileValues([]*decimal.Big{
		nil,
		decimal.New(10, 0),
		decimal.New(20, 0),
		decimal.New(30, 0),
	}, nil)
	assert.Equal(t, 0, decimal.New(20, 0).Cmp(result))
}

func TestScoreFreshnessDecay(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	n := newTestNormalizer(now)

	fresh := n.Score(Record{Kind: KindQuote, Timestamp: now, Fields: map[string]any{
		"bidPrice": 1.0, "askPrice": 1.0, "lastPrice": 1.0, "volume": 1.0,
	}})
	assert.Equal(t, float64(100), fresh.Completeness)
	assert.Equal(t, float64(100), fresh.Freshness)

	// A quote past its 15 minute horizon scores zero freshness.
	stale := n.Score(Record{Kind: KindQuote, Timestamp: now.Add(-time.Hour), Fields: map[string]any{
		"bidPrice": 1.0, "askPrice": 1.0, "lastPrice": 1.0, "volume": 1.0,
	}})
	assert.Equal(t, float64(0), stale.Freshness)
	assert.Greater(t, fresh.Overall, stale.Overall)
}

func TestNormalizeBackfillsFromLowerRankedSource(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	n := newTestNormalizer(now)

	quoteA := Record{
		Kind:      KindQuote,
		Provider:  "alpaca",
		Symbol:    "AAPL",
		Timestamp: now.Add(-time.Minute),
		Fields: map[string]any{
			"bidPrice": 125.60, "askPrice": 125.68, "lastPrice": 125.64, "volume": 396,
		},
	}
	quoteB := Record{
		Kind:      KindQuote,
		Provider:  "yahoo",
		Symbol:    "AAPL",
		Timestamp: now.Add(-20 * time.Minute),
		Fields: map[string]any{
			"bidPrice": 125.55, "askPrice": 125.70, "lastPrice": 125.62,
			"exchange": "NASDAQ", // only B has this
		},
	}

	merged, err := n.Normalize([]Record{quoteB, quoteA})
	require.NoError(t, err)

	// A wins every contested field, B back-fills what only it has.
	assert.Equal(t, 125.60, merged.Fields["bidPrice"])
	assert.Equal(t, 125.64, merged.Fields["lastPrice"])
	assert.Equal(t, "NASDAQ", merged.Fields["exchange"])

	require.Len(t, merged.Sources, 2)
	assert.Equal(t, "alpaca", string(merged.Sources[0].Provider))
	assert.Greater(t, merged.Sources[0].Score.Overall, merged.Sources[1].Score.Overall)
}

func TestNormalizeRejectsMixedKinds(t *testing.T) {
	n := NewNormalizer()
	_, err := n.Normalize([]Record{
		{Kind: KindQuote},
		{Kind: KindProfile},
	})
	assert.ErrorIs(t, err, ErrMixedKinds)
}

func TestNormalizeRejectsEmptyInput(t *testing.T) {
	n := NewNormalizer()
	_, err := n.Normalize(nil)
	assert.ErrorIs(t, err, ErrNoCandidates)
}

func TestNormalizeNewsGroupsByUrlAndSortsNewestFirst(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	n := newTestNormalizer(now)

	older := now.Add(-3 * time.Hour)
	newer := now.Add(-time.Hour)
	records := []Record{
		{Kind: KindNews, Provider: "alpaca", Timestamp: older, Fields: map[string]any{
			"title": "Old headline", "url": "https://example.com/a", "publishedAt": older, "source": "wire",
		}},
		{Kind: KindNews, Provider: "yahoo", Timestamp: older, Fields: map[string]any{
			"title": "Old headline", "url": "https://example.com/a", "publishedAt": older,
		}},
		{Kind: KindNews, Provider: "alpaca", Timestamp: newer, Fields: map[string]any{
			"title": "New headline", "url": "https://example.com/b", "publishedAt": newer, "source": "wire",
		}},
	}

	merged, err := n.NormalizeNews(records)
	require.NoError(t, err)
	require.Len(t, merged, 2)
	assert.Equal(t, "New headline", merged[0].Fields["title"])
	assert.Equal(t, "Old headline", merged[1].Fields["title"])
	// Duplicate articles collapse, the better candidate's fields win.
	assert.Equal(t, "wire", merged[1].Fields["source"])
	assert.Len(t, merged[1].Sources, 2)
}
