package emotion

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// LimitedSource caps the rate at which the wrapped detector is called. The
// live monitor and ad-hoc /emotion requests share one instance so the
// detector is not hammered by many clients. Recorder workers use the
// unwrapped source: their cadence is bounded by the session interval.
type LimitedSource struct {
	next    EmotionSource
	limiter *rate.Limiter
}

// NewLimitedSource allows perSecond calls per second with a burst of one.
// perSecond <= 0 disables limiting.
func NewLimitedSource(next EmotionSource, perSecond float64) *LimitedSource {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &LimitedSource{next: next, limiter: rate.NewLimiter(limit, 1)}
}

// Detect implements EmotionSource. It waits for a token, honouring ctx.
func (l *LimitedSource) Detect(ctx context.Context, frame Frame) (Detection, bool, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return Detection{}, false, fmt.Errorf("detector rate limit: %w", err)
	}
	return l.next.Detect(ctx, frame)
}
