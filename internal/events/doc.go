// Package events delivers token lifecycle notifications.
//
// The refresh coordinator, the interception proxy and the admin API publish
// typed events (refreshingToken, accessTokenStored, refreshTokenError, ...)
// on a Bus. Any number of subscribers receive them on buffered channels;
// delivery is best effort and a slow subscriber never stalls a request.
//
// Usage:
//
//	bus := events.NewBus()
//	ch, unsubscribe := bus.Subscribe(16)
//	defer unsubscribe()
//
//	bus.Emit(events.TypeAccessTokenStored, "https://api.example.com/", nil)
//	ev := <-ch
package events
