package shadow

import (
	"sync/atomic"

	"github.com/quorumlab/quorum/internal/schema"
)

// Promotion authorizes exactly one routing pass for one promoted shadow
// result. It cannot be constructed outside this package, so the router's
// input type alone guarantees that unvalidated decisions never reach a
// venue. Consume is one-shot; a replayed or zero-value token fails.
type Promotion struct {
	result   schema.ShadowResult
	consumed *atomic.Bool
}

func newPromotion(result schema.ShadowResult) *Promotion {
	return &Promotion{result: result, consumed: &atomic.Bool{}}
}

// Result returns the promoted shadow result backing this token.
func (p *Promotion) Result() schema.ShadowResult {
	if p == nil {
		return schema.ShadowResult{}
	}
	return p.result
}

// Consume marks the token spent. It reports false for a nil or forged
// token, for a token whose result was never promoted, and for every call
// after the first.
func (p *Promotion) Consume() bool {
	if p == nil || p.consumed == nil || !p.result.Promoted {
		return false
	}
	return p.consumed.CompareAndSwap(false, true)
}
