package es

// Selector identifies what a subscription reads from: either a single
// stream, or the union of all streams (AllStreams).
type Selector struct {
	streamUUID string
}

// StreamSelector returns a Selector scoped to a single stream.
func StreamSelector(streamUUID string) Selector {
	return Selector{streamUUID: streamUUID}
}

// AllStreamsSelector returns the Selector for the union of all streams.
func AllStreamsSelector() Selector {
	return Selector{streamUUID: AllStreams}
}

// IsAllStreams reports whether this selector is the all-streams sentinel.
func (s Selector) IsAllStreams() bool {
	return s.streamUUID == AllStreams
}

// StreamUUID returns the underlying stream identifier, including the
// AllStreams sentinel when applicable.
func (s Selector) StreamUUID() string {
	return s.streamUUID
}

// String implements fmt.Stringer.
func (s Selector) String() string {
	return s.streamUUID
}
