package etm

import "fmt"

// Pool is a bidirectional bump allocator over a hardware slot index range.
// Comparators and selectors can be used either singly or as an even/odd
// adjacent pair: pairs are issued from the bottom of the range growing up,
// singles from the top growing down, so the two kinds never collide until
// the range is genuinely full. Allocated slots are held for the lifetime of
// the process; the hardware has no release path within one trace session.
type Pool struct {
	name string

	// nextSingle is the next slot issued to a single request, moving down.
	nextSingle int
	// nextPairBase is the even base slot of the next pair, moving up.
	nextPairBase int
}

// NewPool creates a pool over the inclusive slot range [low, high].
func NewPool(name string, low, high int) Pool {
	return Pool{name: name, nextSingle: high, nextPairBase: low}
}

// Remaining reports how many slots are still unissued.
func (p *Pool) Remaining() int {
	return p.nextSingle - p.nextPairBase + 1
}

// allocSingle issues one slot from the top of the range.
func (p *Pool) allocSingle() (int, error) {
	if p.nextSingle < p.nextPairBase {
		return 0, fmt.Errorf("%s: single slot request: %w", p.name, ErrResourceExhausted)
	}
	n := p.nextSingle
	p.nextSingle--
	return n, nil
}

// allocPair issues an adjacent (even, odd) slot pair from the bottom of the
// range and returns the even base slot. The boundary check is deliberately
// written as base+1 <= top: off-by-one changes here silently shrink the
// usable capacity.
func (p *Pool) allocPair() (int, error) {
	if p.nextPairBase+1 > p.nextSingle {
		return 0, fmt.Errorf("%s: pair slot request: %w", p.name, ErrResourceExhausted)
	}
	n := p.nextPairBase
	p.nextPairBase += 2
	return n, nil
}
