// Package users keeps the users service projections in step with the rest of
// the platform. It consumes buyer and seller updates, applies reviews and
// relays them to the gig service, and answers the gig service's requests for
// random sellers.
//
// Every mutation is safe under redelivery: buyer changes use upsert and set
// semantics, seller counters are guarded by an operation key, and relayed
// events are published only after the local change succeeded.
package users
