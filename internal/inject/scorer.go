package inject

import (
	"comment-vault/internal/comment"
)

// Candidate is one possible target line for an entity being injected.
type Candidate struct {
	// Index is the line index in the target text.
	Index int
	// PrevMatch / NextMatch report whether the candidate's neighboring
	// code-line hashes agree with the entity's context hashes.
	PrevMatch bool
	NextMatch bool
}

// Scorer picks the best candidate when an anchor hash matches more than one
// line (duplicate code elsewhere in the file). It is a strategy object so
// the heuristic can be tested and swapped in isolation.
type Scorer interface {
	Pick(e *comment.Entity, cands []Candidate) Candidate
}

// NeighborScorer is the default heuristic: +10 per matching neighbor hash,
// ties broken by ascending distance from the entity's last known line index,
// then by ascending index.
type NeighborScorer struct{}

func (NeighborScorer) Pick(e *comment.Entity, cands []Candidate) Candidate {
	best := cands[0]
	bestScore, bestDist := score(best), dist(best, e)
	for _, c := range cands[1:] {
		s, d := score(c), dist(c, e)
		switch {
		case s > bestScore:
		case s == bestScore && d < bestDist:
		case s == bestScore && d == bestDist && c.Index < best.Index:
		default:
			continue
		}
		best, bestScore, bestDist = c, s, d
	}
	return best
}

func score(c Candidate) int {
	s := 0
	if c.PrevMatch {
		s += 10
	}
	if c.NextMatch {
		s += 10
	}
	return s
}

func dist(c Candidate, e *comment.Entity) int {
	d := c.Index - e.OriginalLineIndex
	if d < 0 {
		return -d
	}
	return d
}
