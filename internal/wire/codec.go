package wire

import (
	"encoding/binary"
	"net/netip"

	"github.com/caida-tools/bgpwatcher/internal/addr"
	"github.com/caida-tools/bgpwatcher/internal/peersig"
)

// EncodeIP renders an address as a single frame: 4 bytes for IPv4, 16
// for IPv6.
func EncodeIP(a netip.Addr) []byte {
	if a.Is4() {
		b := a.As4()
		return b[:]
	}
	b := a.As16()
	return b[:]
}

// DecodeIP reads an address frame, inferring the family from its
// length as the wire format requires.
func DecodeIP(frame []byte) (netip.Addr, error) {
	switch len(frame) {
	case 4:
		return netip.AddrFrom4([4]byte(frame)), nil
	case 16:
		return netip.AddrFrom16([16]byte(frame)), nil
	default:
		return netip.Addr{}, protoErrf("invalid IP address frame length %d", len(frame))
	}
}

// PrefixRecord is the decoded form of a PREFIX_RECORD data message:
// prefix, the peer that announced it, its origin ASN, and the
// collector name.
type PrefixRecord struct {
	Prefix    addr.Prefix
	PeerIP    netip.Addr
	OrigASN   uint32
	Collector string
}

// EncodePrefixRecord renders a prefix record as its five frames:
// address, 1-byte mask, peer address, 4-byte origin ASN, collector
// name string.
func EncodePrefixRecord(r PrefixRecord) [][]byte {
	asn := make([]byte, 4)
	binary.BigEndian.PutUint32(asn, r.OrigASN)
	return [][]byte{
		EncodeIP(r.Prefix.Addr()),
		{r.Prefix.MaskLen()},
		EncodeIP(r.PeerIP),
		asn,
		[]byte(r.Collector),
	}
}

// DecodePrefixRecord parses exactly the five frames of a prefix record.
func DecodePrefixRecord(frames [][]byte) (PrefixRecord, error) {
	if len(frames) != 5 {
		return PrefixRecord{}, protoErrf("prefix record needs 5 frames, got %d", len(frames))
	}
	pfxAddr, err := DecodeIP(frames[0])
	if err != nil {
		return PrefixRecord{}, err
	}
	if len(frames[1]) != 1 {
		return PrefixRecord{}, protoErrf("prefix mask frame must be 1 byte, got %d", len(frames[1]))
	}
	maskLen := frames[1][0]
	peerIP, err := DecodeIP(frames[2])
	if err != nil {
		return PrefixRecord{}, err
	}
	if len(frames[3]) != 4 {
		return PrefixRecord{}, protoErrf("origin ASN frame must be 4 bytes, got %d", len(frames[3]))
	}
	return PrefixRecord{
		Prefix:    addr.NewPrefix(pfxAddr, maskLen),
		PeerIP:    peerIP,
		OrigASN:   binary.BigEndian.Uint32(frames[3]),
		Collector: string(frames[4]),
	}, nil
}

// PeerRecord is the decoded form of a PEER_RECORD data message: the
// peer's address, session state, and ASN.
type PeerRecord struct {
	PeerIP netip.Addr
	State  peersig.State
	ASN    uint32
}

func stateToWire(s peersig.State) byte {
	return byte(s)
}

func stateFromWire(b byte) (peersig.State, error) {
	if peersig.State(b) > peersig.StateEstablished {
		return peersig.StateNull, protoErrf("unknown peer state code %d", b)
	}
	return peersig.State(b), nil
}

// EncodePeerRecord renders a peer record as its three frames: address,
// 1-byte state, 4-byte ASN.
func EncodePeerRecord(r PeerRecord) [][]byte {
	asn := make([]byte, 4)
	binary.BigEndian.PutUint32(asn, r.ASN)
	return [][]byte{
		EncodeIP(r.PeerIP),
		{stateToWire(r.State)},
		asn,
	}
}

// DecodePeerRecord parses exactly the three frames of a peer record.
func DecodePeerRecord(frames [][]byte) (PeerRecord, error) {
	if len(frames) != 3 {
		return PeerRecord{}, protoErrf("peer record needs 3 frames, got %d", len(frames))
	}
	ip, err := DecodeIP(frames[0])
	if err != nil {
		return PeerRecord{}, err
	}
	if len(frames[1]) != 1 {
		return PeerRecord{}, protoErrf("peer state frame must be 1 byte, got %d", len(frames[1]))
	}
	state, err := stateFromWire(frames[1][0])
	if err != nil {
		return PeerRecord{}, err
	}
	if len(frames[2]) != 4 {
		return PeerRecord{}, protoErrf("peer ASN frame must be 4 bytes, got %d", len(frames[2]))
	}
	return PeerRecord{PeerIP: ip, State: state, ASN: binary.BigEndian.Uint32(frames[2])}, nil
}

// TableBegin is the decoded form of a TABLE_BEGIN data message.
type TableBegin struct {
	Type      TableType
	Time      uint32
	Collector string
	PeerCount uint16
}

// EncodeTableBegin renders a table-begin as its four frames: 1-byte
// table type, 4-byte time, collector name, 2-byte peer count.
func EncodeTableBegin(tb TableBegin) [][]byte {
	timeBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(timeBuf, tb.Time)
	cntBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(cntBuf, tb.PeerCount)
	return [][]byte{
		{byte(tb.Type)},
		timeBuf,
		[]byte(tb.Collector),
		cntBuf,
	}
}

// DecodeTableBegin parses exactly the four frames of a table-begin
// message.
func DecodeTableBegin(frames [][]byte) (TableBegin, error) {
	if len(frames) != 4 {
		return TableBegin{}, protoErrf("table-begin needs 4 frames, got %d", len(frames))
	}
	if len(frames[0]) != 1 || frames[0][0] == byte(TableUnknown) || frames[0][0] > byte(TablePeer) {
		return TableBegin{}, protoErrf("unknown table type code")
	}
	if len(frames[1]) != 4 {
		return TableBegin{}, protoErrf("table-begin time frame must be 4 bytes, got %d", len(frames[1]))
	}
	if len(frames[3]) != 2 {
		return TableBegin{}, protoErrf("table-begin peer count frame must be 2 bytes, got %d", len(frames[3]))
	}
	return TableBegin{
		Type:      TableType(frames[0][0]),
		Time:      binary.BigEndian.Uint32(frames[1]),
		Collector: string(frames[2]),
		PeerCount: binary.BigEndian.Uint16(frames[3]),
	}, nil
}

// TableEnd mirrors TableBegin's type and time so the server can check
// that the echoed values match before committing the burst.
type TableEnd struct {
	Type TableType
	Time uint32
}

// EncodeTableEnd renders a table-end as its two frames: 1-byte table
// type, 4-byte time.
func EncodeTableEnd(te TableEnd) [][]byte {
	timeBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(timeBuf, te.Time)
	return [][]byte{{byte(te.Type)}, timeBuf}
}

// DecodeTableEnd parses exactly the two frames of a table-end message.
func DecodeTableEnd(frames [][]byte) (TableEnd, error) {
	if len(frames) != 2 {
		return TableEnd{}, protoErrf("table-end needs 2 frames, got %d", len(frames))
	}
	if len(frames[0]) != 1 || frames[0][0] == byte(TableUnknown) || frames[0][0] > byte(TablePeer) {
		return TableEnd{}, protoErrf("unknown table type code")
	}
	if len(frames[1]) != 4 {
		return TableEnd{}, protoErrf("table-end time frame must be 4 bytes, got %d", len(frames[1]))
	}
	return TableEnd{Type: TableType(frames[0][0]), Time: binary.BigEndian.Uint32(frames[1])}, nil
}

// Reply is the decoded form of a REPLY envelope: the echoed sequence
// number and a return code.
type Reply struct {
	Seq uint32
	RC  ReturnCode
}

// EncodeReply renders a reply as its two frames: 4-byte sequence
// number, 1-byte return code.
func EncodeReply(r Reply) [][]byte {
	seqBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(seqBuf, r.Seq)
	return [][]byte{seqBuf, {byte(r.RC)}}
}

// DecodeReply parses exactly the two frames of a reply message.
func DecodeReply(frames [][]byte) (Reply, error) {
	if len(frames) != 2 {
		return Reply{}, protoErrf("reply needs 2 frames, got %d", len(frames))
	}
	if len(frames[0]) != 4 {
		return Reply{}, protoErrf("reply sequence frame must be 4 bytes, got %d", len(frames[0]))
	}
	if len(frames[1]) != 1 {
		return Reply{}, protoErrf("reply return-code frame must be 1 byte, got %d", len(frames[1]))
	}
	return Reply{Seq: binary.BigEndian.Uint32(frames[0]), RC: ReturnCode(frames[1][0])}, nil
}

// EncodeSeq renders a sequence number as a single 4-byte frame, used to
// prefix DATA messages ahead of their sub-type frame.
func EncodeSeq(seq uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, seq)
	return b
}

// DecodeSeq reads a 4-byte sequence number frame.
func DecodeSeq(frame []byte) (uint32, error) {
	if len(frame) != 4 {
		return 0, protoErrf("sequence frame must be 4 bytes, got %d", len(frame))
	}
	return binary.BigEndian.Uint32(frame), nil
}
