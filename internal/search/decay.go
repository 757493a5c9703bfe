// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package search

import (
	"math"
	"time"

	qdrant "github.com/qdrant/go-client/qdrant"

	"github.com/northbound/reflect-index/internal/chunker"
)

const millisPerDay = 24 * 60 * 60 * 1000

// nativeDecayFormula builds the server-side ranking formula from spec.md
// §4.L: score + decay_weight * exp_decay(timestamp, target=now,
// scale=decay_scale_days*86_400_000, midpoint=0.5). Qdrant's Query RPC
// exposes exp_decay as an Expression variant over a DatetimeKey payload
// field; the "$score" variable names the nearest-vector score that
// vectorstore.searchWithFormula injects via Formula.Nearest.
func nativeDecayFormula(decayWeight, decayScaleDays float64) *qdrant.Formula {
	midpoint := float32(0.5)
	scale := float32(decayScaleDays * millisPerDay)
	return &qdrant.Formula{
		Expression: &qdrant.Expression{
			Variant: &qdrant.Expression_Sum{
				Sum: &qdrant.SumExpression{
					Sum: []*qdrant.Expression{
						{Variant: &qdrant.Expression_Variable{Variable: "$score"}},
						{Variant: &qdrant.Expression_Mult{Mult: &qdrant.MultExpression{
							Mult: []*qdrant.Expression{
								{Variant: &qdrant.Expression_Constant{Constant: float32(decayWeight)}},
								{Variant: &qdrant.Expression_ExpDecay{ExpDecay: &qdrant.DecayParamsExpression{
									X:        &qdrant.Expression{Variant: &qdrant.Expression_DatetimeKey{DatetimeKey: "timestamp"}},
									Target:   &qdrant.Expression{Variant: &qdrant.Expression_Datetime{Datetime: "now"}},
									Scale:    &scale,
									Midpoint: &midpoint,
								}}},
							},
						}}},
					},
				},
			},
		},
	}
}

// clientSideDecay computes spec.md §4.L's client-side decay adjustment:
// decay = exp(-age_ms / scale_ms), adjusted = raw_score + decay_weight *
// decay.
func clientSideDecay(rawScore float32, timestamp time.Time, now time.Time, decayWeight, decayScaleDays float64) float32 {
	scaleMs := decayScaleDays * millisPerDay
	ageMs := float64(now.Sub(timestamp).Milliseconds())
	decay := math.Exp(-ageMs / scaleMs)
	return rawScore + float32(decayWeight*decay)
}

// v2Boost applies spec.md §4.L's "no decay" mode multiplicative boost to
// v2 chunks, clamped to 1.0.
func v2Boost(rawScore float32, c chunker.Chunk) float32 {
	if c.ChunkingVersion != chunker.Version {
		return rawScore
	}
	boosted := rawScore * 1.2
	if boosted > 1.0 {
		boosted = 1.0
	}
	return boosted
}
