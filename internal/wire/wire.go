// Package wire implements the frame-based envelope and record codec
// exchanged between watcher clients and the watcher server: a sequence
// of length-prefixed application frames (length-prefixing itself is a
// transport-level concern, so this package deals only in [][]byte frame
// slices) whose first frame names an envelope type and, for DATA
// envelopes, whose second frame names a data sub-type.
package wire

import "fmt"

// EnvelopeType is the first application frame of every message.
type EnvelopeType byte

const (
	EnvelopeUnknown EnvelopeType = iota
	EnvelopeReady
	EnvelopeTerm
	EnvelopeHeartbeat
	EnvelopeData
	EnvelopeReply
)

func (t EnvelopeType) String() string {
	switch t {
	case EnvelopeReady:
		return "READY"
	case EnvelopeTerm:
		return "TERM"
	case EnvelopeHeartbeat:
		return "HEARTBEAT"
	case EnvelopeData:
		return "DATA"
	case EnvelopeReply:
		return "REPLY"
	default:
		return "UNKNOWN"
	}
}

// DataMsgType is the second application frame, present only when the
// envelope type is EnvelopeData.
type DataMsgType byte

const (
	DataUnknown DataMsgType = iota
	DataTableBegin
	DataTableEnd
	DataPrefixRecord
	DataPeerRecord
	// DataPrefixRecordBurst carries a zstd-compressed batch of PREFIX_RECORD
	// frames, used in place of one DataPrefixRecord message per record when
	// a table burst is large enough that compression outweighs the cost of
	// buffering a batch (see EncodePrefixBurst/DecodePrefixBurst).
	DataPrefixRecordBurst
)

func (t DataMsgType) String() string {
	switch t {
	case DataTableBegin:
		return "TABLE_BEGIN"
	case DataTableEnd:
		return "TABLE_END"
	case DataPrefixRecord:
		return "PREFIX_RECORD"
	case DataPeerRecord:
		return "PEER_RECORD"
	case DataPrefixRecordBurst:
		return "PREFIX_RECORD_BURST"
	default:
		return "UNKNOWN"
	}
}

// TableType distinguishes the two kinds of table bursts a client can
// send between a TABLE_BEGIN and its matching TABLE_END.
type TableType byte

const (
	TableUnknown TableType = iota
	TablePrefix
	TablePeer
)

func (t TableType) String() string {
	switch t {
	case TablePrefix:
		return "PREFIX"
	case TablePeer:
		return "PEER"
	default:
		return "UNKNOWN"
	}
}

// ReturnCode is carried in a REPLY frame as an unsigned byte: the
// absolute value of the fabric's negative error codes. The producer
// client that receives it translates a non-zero code back into its
// error kind.
type ReturnCode byte

const (
	RCNone        ReturnCode = iota // 0
	RCInitFailed                    // abs(INIT_FAILED)
	RCStartFailed                   // abs(START_FAILED)
	RCInterrupt                     // abs(INTERRUPT)
	RCUnhandled                     // abs(UNHANDLED)
	RCProtocol                      // abs(PROTOCOL)
	RCMalloc                        // abs(MALLOC)
)

func (rc ReturnCode) String() string {
	switch rc {
	case RCNone:
		return "NONE"
	case RCInitFailed:
		return "INIT_FAILED"
	case RCStartFailed:
		return "START_FAILED"
	case RCInterrupt:
		return "INTERRUPT"
	case RCUnhandled:
		return "UNHANDLED"
	case RCProtocol:
		return "PROTOCOL"
	case RCMalloc:
		return "MALLOC"
	default:
		return fmt.Sprintf("ReturnCode(%d)", byte(rc))
	}
}

// InterestMask is the one-byte bitfield a consumer advertises at READY
// time and a published view is classified against. A consumer receives a
// view only when its advertised mask intersects the view's classification.
type InterestMask byte

const (
	InterestFirstFull InterestMask = 1 << iota
	InterestFull
	InterestPartial
)

func (m InterestMask) String() string {
	var parts []string
	if m&InterestFirstFull != 0 {
		parts = append(parts, "FIRST_FULL")
	}
	if m&InterestFull != 0 {
		parts = append(parts, "FULL")
	}
	if m&InterestPartial != 0 {
		parts = append(parts, "PARTIAL")
	}
	if len(parts) == 0 {
		return "NONE"
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += "|" + p
	}
	return out
}

// Intersects reports whether a subscriber advertising want would receive a
// view classified as have.
func (want InterestMask) Intersects(have InterestMask) bool {
	return want&have != 0
}

// ParseInterestTags builds an InterestMask from the CLI/config spelling
// of the interest tags ("first-full", "full", "partial"); the tags are
// repeatable and OR together.
func ParseInterestTags(tags []string) (InterestMask, error) {
	var m InterestMask
	for _, t := range tags {
		switch t {
		case "first-full":
			m |= InterestFirstFull
		case "full":
			m |= InterestFull
		case "partial":
			m |= InterestPartial
		default:
			return 0, protoErrf("unknown interest tag %q", t)
		}
	}
	return m, nil
}

// ProtocolError is returned by decoders on malformed frames: wrong
// length, an unknown type code, or a missing frame where one is
// required.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "wire: protocol error: " + e.Reason }

func protoErrf(format string, args ...any) error {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}

// EnvelopeTypeOf reads the envelope type from the first frame of a
// message. An empty or oversized frame decodes to EnvelopeUnknown
// rather than erroring, mirroring a client that cannot yet be
// classified as misbehaving.
func EnvelopeTypeOf(frame []byte) EnvelopeType {
	if len(frame) != 1 {
		return EnvelopeUnknown
	}
	if frame[0] > byte(EnvelopeReply) {
		return EnvelopeUnknown
	}
	return EnvelopeType(frame[0])
}

// DataMsgTypeOf reads the data sub-type from the second application
// frame of a DATA envelope.
func DataMsgTypeOf(frame []byte) DataMsgType {
	if len(frame) != 1 {
		return DataUnknown
	}
	if frame[0] > byte(DataPrefixRecordBurst) {
		return DataUnknown
	}
	return DataMsgType(frame[0])
}
