// Package topology names the exchanges, routing keys and queues shared by
// the jobber services. Producers on the other side of each route must use
// the same names.
package topology

import "github.com/glimte/jobber-go/internal/rabbitmq"

// Consumed by the notification service.
var (
	AuthEmail = rabbitmq.Route{
		Exchange:   "jobber-email-notification",
		Kind:       rabbitmq.KindDirect,
		RoutingKey: "auth-email",
		Queue:      "auth-email-queue",
	}

	OrderEmail = rabbitmq.Route{
		Exchange:   "jobber-order-notification",
		Kind:       rabbitmq.KindDirect,
		RoutingKey: "order-email",
		Queue:      "order-email-queue",
	}
)

// Consumed by the users service.
var (
	BuyerUpdate = rabbitmq.Route{
		Exchange:   "jobber-buyer-update",
		Kind:       rabbitmq.KindDirect,
		RoutingKey: "user-buyer",
		Queue:      "user-buyer-queue",
	}

	SellerUpdate = rabbitmq.Route{
		Exchange:   "jobber-seller-update",
		Kind:       rabbitmq.KindDirect,
		RoutingKey: "user-seller",
		Queue:      "user-seller-queue",
	}

	// Review is a fanout; every subscriber gets its own queue.
	Review = rabbitmq.Route{
		Exchange: "jobber-review",
		Kind:     rabbitmq.KindFanout,
		Queue:    "seller-review-queue",
	}

	GigSellers = rabbitmq.Route{
		Exchange:   "jobber-gig",
		Kind:       rabbitmq.KindDirect,
		RoutingKey: "get-sellers",
		Queue:      "user-gig-queue",
	}
)

// Published to by the users service.
var (
	UpdateGig = rabbitmq.Route{
		Exchange:   "jobber-update-gig",
		Kind:       rabbitmq.KindDirect,
		RoutingKey: "update-gig",
	}

	SeedGig = rabbitmq.Route{
		Exchange:   "jobber-seed-gig",
		Kind:       rabbitmq.KindDirect,
		RoutingKey: "receive-sellers",
	}
)

// DeadLetter collects messages rejected as malformed.
var DeadLetter = rabbitmq.Route{
	Exchange: "jobber-dead-letter",
	Kind:     rabbitmq.KindFanout,
	Queue:    "jobber-dead-letter-queue",
}

// NotificationRoutes are the routes the notification service consumes
func NotificationRoutes() []rabbitmq.Route {
	return []rabbitmq.Route{AuthEmail, OrderEmail}
}

// UsersRoutes are the routes the users service consumes
func UsersRoutes() []rabbitmq.Route {
	return []rabbitmq.Route{BuyerUpdate, SellerUpdate, Review, GigSellers}
}

// All returns every route, including publish-only ones and the dead-letter
// route.
func All() []rabbitmq.Route {
	routes := append(NotificationRoutes(), UsersRoutes()...)
	return append(routes, UpdateGig, SeedGig, DeadLetter)
}

// Lookup finds a route by exchange name
func Lookup(exchange string) (rabbitmq.Route, bool) {
	for _, route := range All() {
		if route.Exchange == exchange {
			return route, true
		}
	}
	return rabbitmq.Route{}, false
}

// DeclareDeadLetter declares the dead-letter exchange and its queue. It must
// run before queues that point at it are consumed so rejected messages are
// kept.
func DeclareDeadLetter(ch rabbitmq.Channel) error {
	return rabbitmq.DeclareRoute(ch, DeadLetter, "")
}
