// Package event carries session, message, tool and permission notifications
// between the engine and its front ends.
//
// A Bus has two faces. Direct subscribers receive Event values with their Go
// payload types intact:
//
//	bus := event.NewBus()
//	unsub := bus.Subscribe(event.PermissionAsked, func(e event.Event) {
//		data := e.Data.(event.PermissionAskedData)
//		fmt.Println("asking", data.Permission, data.Target)
//	})
//	defer unsub()
//
// Every event is also mirrored as JSON on the watermill topic "events", which
// is what the HTTP event feed reads through Messages:
//
//	ch, _ := bus.Messages(ctx)
//	for payload := range ch {
//		w.Write(payload)
//	}
//
// Publish delivers asynchronously, one goroutine per subscriber; PublishSync
// delivers in the caller's goroutine. After Close, publishes are dropped.
package event
