// Package courier relays application messages over HTTP, an AMQP queue
// broker and STOMP over WebSocket, and keeps one record of every attempt.
//
// Broker targets are named descriptors held in two registries, one per
// family. Connection parameters are resolved when a message is sent, so a
// broker registered at runtime is usable immediately. Queue brokers can be
// provisioned on demand in Docker containers.
//
// Every send follows the same sequence: persist a record in its initial
// state, transmit, then update the record to DELIVERED or FAILED. A failed
// transmission is a result, not an error; only storage failures are
// returned as errors.
//
// Quick start:
//
//	c, err := courier.New(
//	    courier.WithStore(memory.New()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := c.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	rec, err := c.SendQueue(ctx, &queue.Request{
//	    Queue:   "orders",
//	    Payload: `{"id":42}`,
//	})
package courier
