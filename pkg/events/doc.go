/*
Package events provides the in-memory change feeds that connect Courier's
control loops.

A feed carries two event shapes:

  - Deltas (EventAdded, EventModified, EventDeleted) describe one object.
  - Listings (EventListing) carry the complete, authoritative state.

Consumers must be correct when only listings arrive. Deltas are an
optimisation that makes reaction faster between resyncs.

# Broker

Broker[T] broadcasts events to subscribers in publish order through a
single distribution loop:

	Publisher → Event Channel (buffer: 100)
	     ↓
	Broadcast Loop
	     ↓
	Subscriber Channels (buffer: 50 each by default)

The broker never blocks on a subscriber. When a subscriber's buffer is full
the broker drops the subscription and closes its channel. The consumer sees
the closed channel as ErrWatchDisconnected and recovers with a full listing,
so an overflow costs a resync instead of silently losing a delta.

# Watcher

Watcher[T] implements the subscribe, list, drain, relist cycle on top of any
Feed:

	w := &events.Watcher[*types.AddressSpace]{
		Feed:   source,
		Handle: controller.handleEvent,
		OnDisconnect: func(err error) {
			logger.Warn().Err(err).Msg("desired-state watch lost, resyncing")
		},
	}
	go w.Run(ctx)

It subscribes before listing, so nothing published between the two calls is
missed. A delta that arrives twice is harmless because handlers are level
based.
*/
package events
