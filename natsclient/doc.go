// Package natsclient manages the NATS connection commands arrive on and replies
// leave through.
//
// The Client wraps nats.go with a circuit breaker in front of Connect, slog
// logging of connection events and optional connection metrics. Connection
// states move Disconnected → Connecting → Connected → Reconnecting → Connected;
// after the configured number of consecutive failures the circuit opens and
// Connect fails fast with ErrCircuitOpen until the backoff elapses.
//
// # Basic Usage
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithName("twinflow"),
//	    natsclient.WithCircuitBreakerThreshold(5),
//	    natsclient.WithMetrics(registry),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	err = client.QueueSubscribeMsg(ctx, "twin.commands.>", "twinflow",
//	    func(msgCtx context.Context, msg *nats.Msg) {
//	        // msg.Header and msg.Reply are available
//	    })
//
// # Replies
//
// ReplyRecipient turns a request's reply subject into an envelope.Recipient:
//
//	replyTo := natsclient.NewReplyRecipient(client, msg.Reply, nil)
//	err := replyTo.Tell(ctx, reply) // JSON-encoded, published to msg.Reply
//
// # Testing
//
// NewTestClient starts a NATS server in a container via testcontainers-go and
// returns a connected Client; integration tests skip it under -short.
package natsclient
