package notifier

// TextNotifier is a minimal text notification surface. Components depend on
// it instead of a concrete transport.
type TextNotifier interface {
	SendText(text string) error
}

// Nop discards every message. Used when notifications are not configured.
type Nop struct{}

func (Nop) SendText(string) error { return nil }
