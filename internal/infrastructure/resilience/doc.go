// Package resilience guards calls to the remote package index with a
// circuit breaker. After Threshold consecutive counted failures the breaker
// opens and calls fail with ErrCircuitOpen until Cooldown passes; then a
// limited number of probes decide whether it closes again.
//
//	b := resilience.New("index", resilience.Settings{
//		Threshold: 5,
//		Cooldown:  30 * time.Second,
//		Counts:    func(err error) bool { return !errdefs.Is(err, errdefs.NotFound) },
//	})
//	versions, err := resilience.Call(b, func() ([]string, error) { return query(ctx) })
package resilience
