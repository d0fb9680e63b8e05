package transfer

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/jpdillingham/soulseek-go/internal/conn"
)

// governorChunkBytes mirrors conn's internal per-read/write chunk size;
// a rate.Limiter governor paces whole chunks rather than individual
// bytes, since that is the granularity at which Connection.Read/Write
// consult it.
const governorChunkBytes = 16 * 1024

// NewGovernor adapts a token-bucket rate.Limiter, configured in
// bytes/second, into a conn.Governor suitable for throttling a
// transfer connection's read loop.
func NewGovernor(limiter *rate.Limiter) conn.Governor {
	return func(ctx context.Context) error {
		return limiter.WaitN(ctx, governorChunkBytes)
	}
}
