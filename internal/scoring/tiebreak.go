package scoring

// TieBreaker resolves near-equal scores to a single winner.
type TieBreaker struct {
	// margin is the score distance within which candidates compete on
	// recency instead of score.
	margin float64
}

// NewTieBreaker creates a tie-breaker with the configured margin.
func NewTieBreaker(margin float64) *TieBreaker {
	return &TieBreaker{margin: margin}
}

// Select returns the winning candidate, or nil when no candidate is scored.
// The provisional winner is the highest score; if any rival scores within
// the margin, the most recently generated candidate among those within the
// margin wins instead.
func (tb *TieBreaker) Select(candidates []*Candidate) *Candidate {
	var top *Candidate
	for _, c := range candidates {
		if !c.Scored() {
			continue
		}
		if top == nil || *c.Score > *top.Score {
			top = c
		}
	}
	if top == nil {
		return nil
	}

	// Collect everyone within the margin of the top score, winner included.
	contenders := make([]*Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Scored() && *top.Score-*c.Score <= tb.margin {
			contenders = append(contenders, c)
		}
	}
	if len(contenders) <= 1 {
		return top
	}

	winner := contenders[0]
	for _, c := range contenders[1:] {
		if c.GeneratedAt.After(winner.GeneratedAt) {
			winner = c
		}
	}
	return winner
}
