package wire

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/caida-tools/bgpwatcher/internal/transport"
)

var (
	encOnce sync.Once
	enc     *zstd.Encoder
	decOnce sync.Once
	dec     *zstd.Decoder
)

func encoder() *zstd.Encoder {
	encOnce.Do(func() {
		var err error
		enc, err = zstd.NewWriter(nil)
		if err != nil {
			panic(fmt.Sprintf("wire: zstd encoder init: %v", err))
		}
	})
	return enc
}

func decoder() *zstd.Decoder {
	decOnce.Do(func() {
		var err error
		dec, err = zstd.NewReader(nil)
		if err != nil {
			panic(fmt.Sprintf("wire: zstd decoder init: %v", err))
		}
	})
	return dec
}

// CompressPayload is used on large TABLE_BEGIN/TABLE_END-bounded bursts
// (full-feed table dumps in particular) to shrink the PREFIX_RECORD
// frames carried between them before they hit the wire.
func CompressPayload(raw []byte) []byte {
	return encoder().EncodeAll(raw, make([]byte, 0, len(raw)))
}

// DecompressPayload reverses CompressPayload.
func DecompressPayload(compressed []byte) ([]byte, error) {
	out, err := decoder().DecodeAll(compressed, nil)
	if err != nil {
		return nil, protoErrf("zstd payload decode: %v", err)
	}
	return out, nil
}

// BulkBurstThreshold is the minimum number of PREFIX_RECORD entries a
// table burst must contain before the server batches and compresses them
// into DataPrefixRecordBurst messages instead of sending one
// DataPrefixRecord message per record. Below this, per-record framing's
// fixed overhead is negligible and compression only adds CPU cost.
const BulkBurstThreshold = 64

// BulkBurstBatchSize caps how many PrefixRecords are compressed into a
// single DataPrefixRecordBurst frame, so one connection's receive buffer
// never has to hold an entire full-feed table decompressed at once.
const BulkBurstBatchSize = 2000

// EncodePrefixBurst compresses a batch of PrefixRecords into a single
// payload: each record is framed with transport.WriteMessage (the same
// framing used for an individual wire message's frames) one after
// another, and the concatenation is zstd-compressed as one block.
func EncodePrefixBurst(records []PrefixRecord) ([]byte, error) {
	var buf bytes.Buffer
	for _, r := range records {
		if err := transport.WriteMessage(&buf, EncodePrefixRecord(r)); err != nil {
			return nil, fmt.Errorf("wire: encode prefix burst: %w", err)
		}
	}
	return CompressPayload(buf.Bytes()), nil
}

// DecodePrefixBurst reverses EncodePrefixBurst.
func DecodePrefixBurst(compressed []byte) ([]PrefixRecord, error) {
	raw, err := DecompressPayload(compressed)
	if err != nil {
		return nil, err
	}
	r := bytes.NewReader(raw)
	var out []PrefixRecord
	for {
		frames, err := transport.ReadMessage(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, protoErrf("prefix burst framing: %v", err)
		}
		pr, err := DecodePrefixRecord(frames)
		if err != nil {
			return nil, err
		}
		out = append(out, pr)
	}
	return out, nil
}
