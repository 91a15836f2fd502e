// Package messaging runs the jobber consumers and producers on top of the
// broker layer.
//
// A Consumer reads one queue and decides how every delivery is settled:
//
//   - body that is not a JSON object, or fails validation: rejected without
//     requeue, so it lands in the dead-letter queue
//   - "type" no handler is registered for: acknowledged and dropped
//   - handler success: acknowledged after the handler returned
//   - any other handler error: requeued after the redelivery delay
//
// Handlers therefore run at least once per message and must be idempotent.
//
// Example usage:
//
//	router := messaging.NewRouter()
//	router.HandleFunc(contracts.TypeCancelOrder, cancelOrder)
//
//	consumer := messaging.NewConsumer(topology.SellerUpdate, router,
//	    messaging.WithChannelProvider(conn),
//	    messaging.WithPrefetch(10),
//	)
//	err := consumer.Run(ctx)
package messaging
