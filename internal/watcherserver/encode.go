package watcherserver

import (
	"net/netip"

	"go.uber.org/zap"

	"github.com/caida-tools/bgpwatcher/internal/view"
	"github.com/caida-tools/bgpwatcher/internal/wire"
)

func dataMessage(dataType wire.DataMsgType, seq uint32, body [][]byte) [][]byte {
	msg := make([][]byte, 0, len(body)+3)
	msg = append(msg, []byte{byte(wire.EnvelopeData)}, []byte{byte(dataType)}, wire.EncodeSeq(seq))
	return append(msg, body...)
}

// burstMessage wraps a compressed batch of prefix records as one
// PREFIX_RECORD_BURST data message.
func burstMessage(compressed []byte) [][]byte {
	return dataMessage(wire.DataPrefixRecordBurst, 0, [][]byte{compressed})
}

// encodeView renders a complete view as the sequence of wire messages a
// producer would have sent to build it: a PEER table burst followed by
// a PREFIX table burst. The PEER table's TABLE_BEGIN carries mask in
// its sequence frame's low byte, since a published view never needs a
// REPLY and the seq frame would otherwise go unused. Prefix records are
// batched and zstd-compressed into PREFIX_RECORD_BURST messages once
// the table is large enough for compression to pay for itself.
func (s *Server) encodeView(v *view.View, mask wire.InterestMask) [][][]byte {
	var msgs [][][]byte
	it := v.IterCreate()

	peerCount := uint16(v.PeerCount())
	msgs = append(msgs, dataMessage(wire.DataTableBegin, uint32(mask), wire.EncodeTableBegin(wire.TableBegin{
		Type: wire.TablePeer, Time: v.Time(), Collector: v.Collector(), PeerCount: peerCount,
	})))
	for it.PeerFirst(); !it.PeerIsEnd(); it.PeerNext() {
		_, pi := it.PeerGet()
		msgs = append(msgs, dataMessage(wire.DataPeerRecord, 0, wire.EncodePeerRecord(wire.PeerRecord{
			PeerIP: pi.Sig.PeerIP, State: pi.State, ASN: pi.Sig.PeerASN,
		})))
	}
	msgs = append(msgs, dataMessage(wire.DataTableEnd, 0, wire.EncodeTableEnd(wire.TableEnd{
		Type: wire.TablePeer, Time: v.Time(),
	})))

	var records []wire.PrefixRecord
	for it.V4PfxFirst(); !it.V4PfxIsEnd(); it.V4PfxNext() {
		pfx := it.V4PfxGet()
		for it.V4PfxPeerFirst(); !it.V4PfxPeerIsEnd(); it.V4PfxPeerNext() {
			pp := it.V4PfxPeerGet()
			records = append(records, wire.PrefixRecord{
				Prefix: pfx, PeerIP: peerIPOf(v, pp.PeerID), OrigASN: pp.OrigASN, Collector: v.Collector(),
			})
		}
	}
	for it.V6PfxFirst(); !it.V6PfxIsEnd(); it.V6PfxNext() {
		pfx := it.V6PfxGet()
		for it.V6PfxPeerFirst(); !it.V6PfxPeerIsEnd(); it.V6PfxPeerNext() {
			pp := it.V6PfxPeerGet()
			records = append(records, wire.PrefixRecord{
				Prefix: pfx, PeerIP: peerIPOf(v, pp.PeerID), OrigASN: pp.OrigASN, Collector: v.Collector(),
			})
		}
	}

	msgs = append(msgs, dataMessage(wire.DataTableBegin, 0, wire.EncodeTableBegin(wire.TableBegin{
		Type: wire.TablePrefix, Time: v.Time(), Collector: v.Collector(), PeerCount: peerCount,
	})))
	msgs = append(msgs, s.encodePrefixRecords(records)...)
	msgs = append(msgs, dataMessage(wire.DataTableEnd, 0, wire.EncodeTableEnd(wire.TableEnd{
		Type: wire.TablePrefix, Time: v.Time(),
	})))

	return msgs
}

// encodePrefixRecords picks the wire shape for a prefix burst: one
// message per record below the bulk threshold, compressed batches above
// it. A batch that fails to compress falls back to per-record messages
// rather than dropping the slice.
func (s *Server) encodePrefixRecords(records []wire.PrefixRecord) [][][]byte {
	var msgs [][][]byte
	if len(records) < wire.BulkBurstThreshold {
		for _, r := range records {
			msgs = append(msgs, dataMessage(wire.DataPrefixRecord, 0, wire.EncodePrefixRecord(r)))
		}
		return msgs
	}
	for start := 0; start < len(records); start += wire.BulkBurstBatchSize {
		end := start + wire.BulkBurstBatchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]
		compressed, err := wire.EncodePrefixBurst(batch)
		if err != nil {
			s.logger.Warn("prefix burst compression failed, sending per-record", zap.Error(err))
			for _, r := range batch {
				msgs = append(msgs, dataMessage(wire.DataPrefixRecord, 0, wire.EncodePrefixRecord(r)))
			}
			continue
		}
		msgs = append(msgs, burstMessage(compressed))
	}
	return msgs
}

func peerIPOf(v *view.View, peerID uint16) netip.Addr {
	if pi, ok := v.PeerInfo(peerID); ok {
		return pi.Sig.PeerIP
	}
	return netip.Addr{}
}
