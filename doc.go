// Package owlai is a client-side data-access layer for the exam
// preparation assistant: cached cursor-paginated reads, batched atomic
// writes, and failure handling (classified retries, a circuit breaker,
// and graceful degradation) between the chat frontend and its backing
// store.
//
// The Client type wires the pieces together from one configuration:
//
//	cfg, err := config.Load("owlai.json")
//	if err != nil { ... }
//	client, err := owlai.New(ctx, cfg)
//	if err != nil { ... }
//	defer client.Close(ctx)
//
//	session, err := client.Chat().CreateSession(ctx, userID, "")
//
// Every piece is also usable on its own: pkg/cache, pkg/retry,
// pkg/breaker, and pkg/dedupe are generic primitives with no knowledge
// of the chat domain.
package owlai
