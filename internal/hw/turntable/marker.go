package turntable

import "bytes"

// Handshake markers exchanged with the turntable firmware.
const (
	GreetingMarker = "HEY_BOY"       // sent by the device while it waits for a controller
	GreetingReply  = "HEY_GIRL"      // our answer to GreetingMarker
	ReadyMarker    = "SUPERSTAR_DJS" // sent by the device once it heard GreetingReply
	ReadyReply     = "HERE_WE_GO!"   // our answer to ReadyMarker, completes the handshake
)

// MarkerKind classifies a line read during the handshake.
type MarkerKind uint8

const (
	// MarkerNone is an empty read: the transport timed out.
	MarkerNone MarkerKind = iota
	// MarkerGreeting is a line starting with GreetingMarker.
	MarkerGreeting
	// MarkerReadyAck is a line starting with ReadyMarker.
	MarkerReadyAck
	// MarkerUnrecognized is any other non-empty line.
	MarkerUnrecognized
)

// String returns string representation of the marker kind.
func (k MarkerKind) String() string {
	switch k {
	case MarkerNone:
		return "none"
	case MarkerGreeting:
		return "greeting"
	case MarkerReadyAck:
		return "ready-ack"
	case MarkerUnrecognized:
		return "unrecognized"
	default:
		return "unknown"
	}
}

// Classify maps a raw line to its marker kind by prefix.
func Classify(line []byte) MarkerKind {
	switch {
	case len(line) == 0:
		return MarkerNone
	case bytes.HasPrefix(line, []byte(GreetingMarker)):
		return MarkerGreeting
	case bytes.HasPrefix(line, []byte(ReadyMarker)):
		return MarkerReadyAck
	default:
		return MarkerUnrecognized
	}
}
