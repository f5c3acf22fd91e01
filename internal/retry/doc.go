// Package retry provides exponential backoff retry functionality for
// provider requests.
//
// Waits grow by Base per attempt, are reduced by a bounded random jitter
// and always stay inside [InitialBackoff, MaxBackoff]. The defaults are
// 5 retries, 1s to 10s, base 2.
//
// # Usage
//
//	cfg := retry.DefaultConfig()
//	cond := retry.TransientCondition()
//	err := retry.Do(ctx, cfg, func(attempt int) error {
//	    return callProvider(ctx)
//	}, &retry.Options{
//	    ShouldRetry: func(err error) bool { return cond.ShouldRetry(err, 0) },
//	})
package retry
