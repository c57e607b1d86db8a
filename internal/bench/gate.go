package bench

import "fmt"

// Gate requires recall@AtK >= MinRecall for every combination whose nprobe exceeds MinNprobe.
type Gate struct {
	MinRecall float64
	MinNprobe int
	AtK       int
}

// RecallBelowThreshold reports a gated combination that missed the minimum recall.
type RecallBelowThreshold struct {
	Params Params
	K      int
	Recall float64
	Min    float64
}

func (e *RecallBelowThreshold) Error() string {
	return fmt.Sprintf("recall@%d = %.4f below %.2f for %s", e.K, e.Recall, e.Min, e.Params)
}

// Applies reports whether p is subject to the gate.
func (g Gate) Applies(p Params) bool {
	return p.Nprobe > g.MinNprobe
}

// Check returns a *RecallBelowThreshold when p is gated and recall@AtK is too low.
func (g Gate) Check(p Params, recall map[int]float64) error {
	if !g.Applies(p) {
		return nil
	}
	got, ok := recall[g.AtK]
	if !ok || got < g.MinRecall {
		return &RecallBelowThreshold{Params: p, K: g.AtK, Recall: got, Min: g.MinRecall}
	}
	return nil
}
