package events

// Event enumerates the pipeline-stage topics the bus fans out. Subscribers
// observe pipeline progress through these without coupling to CopyEngine
// internals.
type Event string

const (
	EventSignalReceived Event = "signal.received"
	EventSignalGated    Event = "signal.gated"
	EventOrderEnqueued  Event = "order.enqueued"
	EventOrderCompleted Event = "order.completed"
	EventOrderFailed    Event = "order.failed"
	EventFillDecoded    Event = "fill.decoded"
	EventFillBroadcast  Event = "fill.broadcast"
	EventStreamDropped  Event = "stream.dropped"
)
