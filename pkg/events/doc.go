/*
Package events provides an in-memory broker for node lifecycle events.

The lifecycle manager publishes a node.* event on every state transition and
the installer publishes app.* events for the path it took. Delivery is
asynchronous and lossy: each subscriber has a 50-event buffer and events are
dropped for subscribers that fall behind.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	for ev := range sub {
		fmt.Println(ev.Type, ev.Message)
	}

Emit accepts a nil Publisher so components can be used without a broker.
*/
package events
