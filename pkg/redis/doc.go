// Package redis connects to Redis with retries and exposes a healthcheck.
//
//	client, err := redis.Connect(ctx, redis.Config{
//		ConnectionURL: "redis://localhost:6379/0",
//		RetryAttempts: 3,
//		RetryInterval: time.Second,
//	})
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
// The session and login-attempt counter stores take the returned client as a
// redis.UniversalClient and namespace their keys with Config.KeyPrefix.
package redis
