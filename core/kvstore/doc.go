// Package kvstore is a small key-value contract with redis and in-memory
// implementations. It holds single-use nonces, advisory locks and short-TTL
// throttle markers.
//
//	store := kvstore.NewRedisStore(client, "acme:")
//	ok, err := store.SetNX(ctx, "throttle:sync:42", "1", 30*time.Second)
package kvstore
