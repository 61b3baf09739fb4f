package transport

// TextSender delivers one text message to a network client.
type TextSender interface {
	SendText(p []byte) error
}

// Scheduler runs units of work on the transport's execution context.
type Scheduler interface {
	QueueWork(fn func()) error
}

// Compile-time assertion that *WorkQueue satisfies Scheduler.
var _ Scheduler = (*WorkQueue)(nil)
