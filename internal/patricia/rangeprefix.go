package patricia

import (
	"math/bits"
	"net/netip"

	"github.com/caida-tools/bgpwatcher/internal/addr"
)

// RangeToPrefixes decomposes the inclusive IPv4 range [lo, hi] into the
// smallest ordered set of CIDR blocks whose union is exactly that range.
// At each step it takes the largest block aligned at the current lower
// bound that does not overrun hi, then advances past it.
func RangeToPrefixes(lo, hi netip.Addr) []addr.Prefix {
	loVal := uint64(addr.ToUint32(lo))
	hiVal := uint64(addr.ToUint32(hi))

	var out []addr.Prefix
	for loVal <= hiVal {
		maxBits := 32
		if loVal != 0 {
			if tz := bits.TrailingZeros64(loVal); tz < maxBits {
				maxBits = tz
			}
		}
		for maxBits > 0 {
			blockSize := uint64(1) << uint(maxBits)
			if loVal+blockSize-1 <= hiVal {
				break
			}
			maxBits--
		}
		blockSize := uint64(1) << uint(maxBits)
		maskLen := 32 - maxBits
		out = append(out, addr.NewPrefix(addr.FromUint32(uint32(loVal)), uint8(maskLen)))
		loVal += blockSize
	}
	return out
}
