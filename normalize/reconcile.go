// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package normalize

import (
	"sort"

	"github.com/ericlagergren/decimal"
)

// ReconcileValues produces a numeric consensus over multi-source
// readings of the same fact. With weights matching the values in
// length it computes the weighted mean, otherwise the median of the
// non-nil values, which is robust against a single outlier source.
// Empty or all-nil input yields zero.
func ReconcileValues(values []*decimal.Big, weights []float64) *decimal.Big {
	if len(weights) == len(values) && len(values) > 0 {
		return weightedMean(values, weights)
	}

	nonNil := make([]*decimal.Big, 0, len(values))
	for _, v := range values {
		if v != nil {
			nonNil = append(nonNil, v)
		}
	}
	if len(nonNil) == 0 {
		return new(decimal.Big)
	}
	sort.SliceStable(nonNil, func(i, j int) bool {
		return nonNil[i].Cmp(nonNil[j]) < 0
	})
	mid := len(nonNil) / 2
	if len(nonNil)%2 == 1 {
		return new(decimal.Big).Copy(nonNil[mid])
	}
	sum := new(decimal.Big).Add(nonNil[mid-1], nonNil[mid])
	return sum.Quo(sum, decimal.New(2, 0))
}

func weightedMean(values []*decimal.Big, weights []float64) *decimal.Big {
	sum := new(decimal.Big)
	weightSum := new(decimal.Big)
	for i, v := range values {
		if v == nil {
			continue
		}
		var w decimal.Big
		w.SetFloat64(weights[i])
		var weighted decimal.Big
		weighted.Mul(v, &w)
		sum.Add(sum, &weighted)
		weightSum.Add(weightSum, &w)
	}
	if weightSum.Sign() == 0 {
		return new(decimal.Big)
	}
	return sum.Quo(sum, weightSum)
}
