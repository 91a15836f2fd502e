// Package reliability provides the retry policies and circuit breaker used
// around broker publishes and outbound email.
//
//	cb := reliability.NewCircuitBreaker(
//	    reliability.WithName("smtp"),
//	    reliability.WithFailureThreshold(5),
//	    reliability.WithTimeout(30*time.Second),
//	)
//
//	err := cb.Execute(ctx, func() error {
//	    return send(ctx, msg)
//	})
package reliability
