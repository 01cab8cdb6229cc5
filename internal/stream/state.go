package stream

// State is the lifecycle position of one venue connection.
type State int32

const (
	Disconnected State = iota
	Connecting
	Subscribing
	Streaming
	Closing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Subscribing:
		return "subscribing"
	case Streaming:
		return "streaming"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}
