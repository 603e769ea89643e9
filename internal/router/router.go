// Package router turns promoted decisions into venue-facing order
// requests. Its only input type is a promotion token, so an unvalidated
// decision cannot reach a venue through any call path.
package router

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quorumlab/quorum/errs"
	"github.com/quorumlab/quorum/internal/schema"
	"github.com/quorumlab/quorum/internal/shadow"
)

// Policy tunes order-type selection and venue ranking.
type Policy struct {
	LargeOrderVolumeFraction float64
	TWAPSlices               int
	TWAPInterval             time.Duration
	IcebergVisibleFraction   float64
	VWAPProfile              []float64
	MaxVenuesPerOrder        int
	Scoring                  Scoring
}

// Scoring weights the venue ranking blend. Weights should sum to 1.
type Scoring struct {
	Liquidity   float64
	Fee         float64
	Latency     float64
	Reliability float64
}

// VenueQuote is one venue's current standing: its book, fee schedule,
// and health signals.
type VenueQuote struct {
	Venue       string
	Book        schema.BookSnapshot
	TakerFee    decimal.Decimal // fraction, e.g. 0.001
	LatencyMS   int
	Reliability float64 // [0,1], from the execution monitor
	Healthy     bool
}

// Router emits one OrderRequest per (venue, slice) pair.
type Router struct {
	policy     Policy
	now        func() time.Time
	newOrderID func() string
}

// New builds a router with the given policy.
func New(policy Policy) *Router {
	if policy.TWAPSlices < 2 {
		policy.TWAPSlices = 2
	}
	if policy.IcebergVisibleFraction <= 0 || policy.IcebergVisibleFraction > 1 {
		policy.IcebergVisibleFraction = 0.2
	}
	if policy.MaxVenuesPerOrder < 1 {
		policy.MaxVenuesPerOrder = 1
	}
	return &Router{
		policy:     policy,
		now:        time.Now,
		newOrderID: func() string { return uuid.NewString() },
	}
}

// Route consumes the promotion token and emits the order requests for
// its decision. A nil, forged, unpromoted, or already-consumed token is
// an invariant violation, fatal to the calling pipeline.
func (r *Router) Route(promotion *shadow.Promotion, quotes []VenueQuote) ([]schema.OrderRequest, error) {
	if !promotion.Consume() {
		return nil, errs.Invariant("router", "order routing attempted without a live promotion")
	}
	result := promotion.Result()

	ranked := r.rankVenues(result, quotes)
	if len(ranked) == 0 {
		return nil, errs.New("router", errs.CodeUnavailable,
			errs.WithCycle(result.CycleID), errs.WithInstrument(result.Instrument),
			errs.WithMessage("no healthy venue"))
	}

	allocations := r.splitAcrossVenues(result.ApprovedSize, ranked)
	now := r.now()
	var requests []schema.OrderRequest
	for _, alloc := range allocations {
		orderType := r.selectOrderType(result, alloc)
		requests = append(requests, r.buildSlices(result, alloc, orderType, now)...)
	}
	return requests, nil
}

type rankedVenue struct {
	quote VenueQuote
	score float64
}

type allocation struct {
	quote    VenueQuote
	notional decimal.Decimal
}

// rankVenues scores healthy venues by the blended
// liquidity/fee/latency/reliability profile, best first.
func (r *Router) rankVenues(result schema.ShadowResult, quotes []VenueQuote) []rankedVenue {
	maxDepth := decimal.Zero
	candidates := make([]VenueQuote, 0, len(quotes))
	for _, q := range quotes {
		if !q.Healthy {
			continue
		}
		depth := q.Book.DepthQuote(result.Action)
		if !depth.IsPositive() {
			continue
		}
		if depth.GreaterThan(maxDepth) {
			maxDepth = depth
		}
		candidates = append(candidates, q)
	}

	ranked := make([]rankedVenue, 0, len(candidates))
	for _, q := range candidates {
		depthRatio, _ := q.Book.DepthQuote(result.Action).Div(maxDepth).Float64()
		fee, _ := q.TakerFee.Float64()
		feeScore := max(0, 1-fee*200)
		latencyScore := max(0, 1-float64(q.LatencyMS)/200)

		s := r.policy.Scoring
		score := depthRatio*s.Liquidity + feeScore*s.Fee + latencyScore*s.Latency + q.Reliability*s.Reliability
		ranked = append(ranked, rankedVenue{quote: q, score: score})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	return ranked
}

// splitAcrossVenues allocates the approved notional over the top venues
// in proportion to their scores.
func (r *Router) splitAcrossVenues(notional decimal.Decimal, ranked []rankedVenue) []allocation {
	n := r.policy.MaxVenuesPerOrder
	if n > len(ranked) {
		n = len(ranked)
	}
	top := ranked[:n]
	totalScore := 0.0
	for _, rv := range top {
		totalScore += rv.score
	}
	if n == 1 || totalScore <= 0 {
		return []allocation{{quote: top[0].quote, notional: notional}}
	}

	allocations := make([]allocation, 0, n)
	remaining := notional
	for i, rv := range top {
		share := notional.Mul(decimal.NewFromFloat(rv.score / totalScore)).Round(2)
		if i == n-1 {
			share = remaining
		}
		if share.IsPositive() {
			allocations = append(allocations, allocation{quote: rv.quote, notional: share})
		}
		remaining = remaining.Sub(share)
	}
	return allocations
}

// selectOrderType applies the execution policy: post_only for ordinary
// sizes, iceberg when the order would dominate visible depth, vwap for
// large orders when a volume profile is available, twap otherwise.
func (r *Router) selectOrderType(result schema.ShadowResult, alloc allocation) schema.OrderType {
	book := alloc.quote.Book
	largeThreshold := book.RecentVolume.Mul(decimal.NewFromFloat(r.policy.LargeOrderVolumeFraction))
	if !largeThreshold.IsPositive() || alloc.notional.LessThanOrEqual(largeThreshold) {
		return schema.OrderTypePostOnly
	}

	visibleDepth := book.DepthQuote(result.Action)
	if visibleDepth.IsPositive() && alloc.notional.GreaterThan(visibleDepth.Div(decimal.NewFromInt(2))) {
		return schema.OrderTypeIceberg
	}
	if len(r.policy.VWAPProfile) > 0 {
		return schema.OrderTypeVWAP
	}
	return schema.OrderTypeTWAP
}

// buildSlices expands one venue allocation into its child requests, each
// with a limit price computed from that venue's book.
func (r *Router) buildSlices(result schema.ShadowResult, alloc allocation, orderType schema.OrderType, now time.Time) []schema.OrderRequest {
	switch orderType {
	case schema.OrderTypeTWAP:
		return r.twapSlices(result, alloc, now)
	case schema.OrderTypeVWAP:
		return r.vwapSlices(result, alloc, now)
	case schema.OrderTypeIceberg:
		return r.icebergSlices(result, alloc, now)
	default:
		req := r.request(result, alloc.quote, schema.OrderTypePostOnly, alloc.notional, now)
		req.Slice = schema.Slice{Index: 0, Count: 1}
		return []schema.OrderRequest{req}
	}
}

func (r *Router) twapSlices(result schema.ShadowResult, alloc allocation, now time.Time) []schema.OrderRequest {
	count := r.policy.TWAPSlices
	per := alloc.notional.Div(decimal.NewFromInt(int64(count)))
	requests := make([]schema.OrderRequest, 0, count)
	for i := 0; i < count; i++ {
		req := r.request(result, alloc.quote, schema.OrderTypeTWAP, per, now)
		req.Slice = schema.Slice{Index: i, Count: count, NotBefore: time.Duration(i) * r.policy.TWAPInterval}
		requests = append(requests, req)
	}
	return requests
}

func (r *Router) vwapSlices(result schema.ShadowResult, alloc allocation, now time.Time) []schema.OrderRequest {
	profile := r.policy.VWAPProfile
	requests := make([]schema.OrderRequest, 0, len(profile))
	for i, weight := range profile {
		share := alloc.notional.Mul(decimal.NewFromFloat(weight))
		if !share.IsPositive() {
			continue
		}
		req := r.request(result, alloc.quote, schema.OrderTypeVWAP, share, now)
		req.Slice = schema.Slice{Index: i, Count: len(profile), NotBefore: time.Duration(i) * r.policy.TWAPInterval}
		requests = append(requests, req)
	}
	return requests
}

func (r *Router) icebergSlices(result schema.ShadowResult, alloc allocation, now time.Time) []schema.OrderRequest {
	visible := alloc.notional.Mul(decimal.NewFromFloat(r.policy.IcebergVisibleFraction))
	count := int(alloc.notional.Div(visible).Ceil().IntPart())
	remaining := alloc.notional
	requests := make([]schema.OrderRequest, 0, count)
	for i := 0; i < count && remaining.IsPositive(); i++ {
		tranche := decimal.Min(visible, remaining)
		req := r.request(result, alloc.quote, schema.OrderTypeIceberg, tranche, now)
		req.Slice = schema.Slice{Index: i, Count: count}
		requests = append(requests, req)
		remaining = remaining.Sub(tranche)
	}
	return requests
}

// request builds one child order, converting notional to base quantity at
// the venue's passive price.
func (r *Router) request(result schema.ShadowResult, quote VenueQuote, orderType schema.OrderType, notional decimal.Decimal, now time.Time) schema.OrderRequest {
	price := passivePrice(result.Action, quote.Book)
	req := schema.OrderRequest{
		OrderID:    r.newOrderID(),
		CycleID:    result.CycleID,
		Venue:      quote.Venue,
		Instrument: result.Instrument,
		Side:       result.Action,
		OrderType:  orderType,
		CreatedAt:  now,
	}
	if price.IsPositive() {
		req.Quantity = notional.DivRound(price, 8)
		req.LimitPrice = &price
	}
	return req
}

// passivePrice rests a buy at the best bid and a sell at the best ask.
func passivePrice(side schema.Action, book schema.BookSnapshot) decimal.Decimal {
	if side == schema.ActionBuy {
		return book.BestBid()
	}
	return book.BestAsk()
}
