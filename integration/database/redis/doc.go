// Package redis connects a go-redis client with retry and health checking.
// The client backs nonces, locks and throttles through core/kvstore.
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//	store := kvstore.NewRedisStore(client, "acme:")
package redis
