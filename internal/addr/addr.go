// Package addr implements the tagged IPv4/IPv6 address and prefix values
// that the rest of the watcher fabric is built on: parsing, canonical
// formatting, containment, masking, and hashing.
//
// Bit indices throughout this package are MSB-first: bit k of an address
// is addr.bytes[k>>3] & (0x80 >> (k&7)). Callers must not assume LSB-first
// indexing anywhere a "bit position" is accepted or returned.
package addr

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// Family distinguishes the two address families a Prefix can carry.
type Family uint8

const (
	FamilyUnknown Family = iota
	FamilyV4
	FamilyV6
)

func (f Family) String() string {
	switch f {
	case FamilyV4:
		return "v4"
	case FamilyV6:
		return "v6"
	default:
		return "unknown"
	}
}

// Width returns the address width in bits for the family (0 for unknown).
func (f Family) Width() int {
	switch f {
	case FamilyV4:
		return 32
	case FamilyV6:
		return 128
	default:
		return 0
	}
}

// Match is a lookup filter hint; it is never stored on a Prefix value
// persisted in the trie, only passed by callers of lookup operations.
type Match uint8

const (
	MatchAny Match = iota
	MatchExact
	MatchMore
	MatchLess
)

// Prefix is a canonicalized (address, mask length) pair. The zero value is
// not a valid prefix; construct with Parse or FromNetipPrefix.
type Prefix struct {
	addr    netip.Addr
	maskLen uint8
	fam     Family
}

// Parse accepts "addr/len" and rejects malformed input or an out-of-range
// mask length for the detected family.
func Parse(s string) (Prefix, error) {
	slash := strings.IndexByte(s, '/')
	if slash < 0 {
		return Prefix{}, fmt.Errorf("addr: %q missing mask length", s)
	}
	addrPart, maskPart := s[:slash], s[slash+1:]

	a, err := netip.ParseAddr(addrPart)
	if err != nil {
		return Prefix{}, fmt.Errorf("addr: parsing address %q: %w", addrPart, err)
	}
	ml, err := strconv.Atoi(maskPart)
	if err != nil {
		return Prefix{}, fmt.Errorf("addr: parsing mask length %q: %w", maskPart, err)
	}

	fam := FamilyV4
	if a.Is6() && !a.Is4In6() {
		fam = FamilyV6
	}
	a = a.Unmap()
	if ml < 0 || ml > fam.Width() {
		return Prefix{}, fmt.Errorf("addr: mask length %d out of range for %s", ml, fam)
	}

	return NewPrefix(a, uint8(ml)), nil
}

// NewPrefix builds a canonicalized Prefix, zeroing host bits below maskLen.
func NewPrefix(a netip.Addr, maskLen uint8) Prefix {
	fam := FamilyV4
	if a.Is6() {
		fam = FamilyV6
	}
	masked := MaskAddr(a, int(maskLen))
	return Prefix{addr: masked, maskLen: maskLen, fam: fam}
}

// FromNetipPrefix converts a stdlib netip.Prefix, canonicalizing host bits.
func FromNetipPrefix(p netip.Prefix) Prefix {
	return NewPrefix(p.Addr(), uint8(p.Bits()))
}

func (p Prefix) Addr() netip.Addr  { return p.addr }
func (p Prefix) MaskLen() uint8    { return p.maskLen }
func (p Prefix) Family() Family    { return p.fam }
func (p Prefix) IsValid() bool     { return p.fam != FamilyUnknown }
func (p Prefix) NetipPrefix() netip.Prefix {
	return netip.PrefixFrom(p.addr, int(p.maskLen))
}

// Format renders the canonical form, host bits zeroed.
func Format(p Prefix) string {
	return p.addr.String() + "/" + strconv.Itoa(int(p.maskLen))
}

func (p Prefix) String() string { return Format(p) }

// Equal reports whether two prefixes are identical. v4 and v6 prefixes
// never compare equal regardless of bit pattern, since each carries its
// own Family tag.
func (p Prefix) Equal(o Prefix) bool {
	return p.fam == o.fam && p.maskLen == o.maskLen && p.addr == o.addr
}

// Contains reports whether inner is covered by outer: inner.maskLen >=
// outer.maskLen and inner.addr masked to outer.maskLen equals outer.addr.
func Contains(outer, inner Prefix) bool {
	if outer.fam != inner.fam || inner.maskLen < outer.maskLen {
		return false
	}
	return MaskAddr(inner.addr, int(outer.maskLen)) == outer.addr
}

// MaskAddr zeroes all bits beyond k (MSB-first) and returns the result.
func MaskAddr(a netip.Addr, k int) netip.Addr {
	if a.Is4() {
		b := a.As4()
		maskBytes(b[:], k)
		return netip.AddrFrom4(b)
	}
	b := a.As16()
	maskBytes(b[:], k)
	return netip.AddrFrom16(b)
}

func maskBytes(b []byte, k int) {
	if k < 0 {
		k = 0
	}
	fullBytes := k / 8
	rem := k % 8
	if fullBytes >= len(b) {
		return
	}
	if rem != 0 {
		keep := byte(0xFF << (8 - rem))
		b[fullBytes] &= keep
		fullBytes++
	}
	for i := fullBytes; i < len(b); i++ {
		b[i] = 0
	}
}

// BitAt returns bit k of the address, MSB-first: addr[k>>3] & (0x80 >> (k&7)).
func BitAt(a netip.Addr, k int) bool {
	if a.Is4() {
		b := a.As4()
		return bitAt(b[:], k)
	}
	b := a.As16()
	return bitAt(b[:], k)
}

func bitAt(b []byte, k int) bool {
	byteIdx := k >> 3
	if byteIdx < 0 || byteIdx >= len(b) {
		return false
	}
	return b[byteIdx]&(0x80>>uint(k&7)) != 0
}

// Hash mixes the masked address bytes and mask length into a 64-bit value.
// Host bits are assumed already canonicalized (Prefix construction does
// this), so hashing the raw bytes is sufficient to satisfy "equal prefixes
// hash equal".
func Hash(p Prefix) uint64 {
	const offset64 = 14695981039346656037
	const prime64 = 1099511628211

	h := uint64(offset64)
	mix := func(x byte) {
		h ^= uint64(x)
		h *= prime64
	}
	mix(byte(p.fam))
	mix(p.maskLen)
	if p.addr.Is4() {
		b := p.addr.As4()
		for _, x := range b {
			mix(x)
		}
	} else if p.addr.Is6() {
		b := p.addr.As16()
		for _, x := range b {
			mix(x)
		}
	}
	return h
}

// ToUint32 converts an IPv4 address to its big-endian-valued uint32. The
// caller must ensure a.Is4().
func ToUint32(a netip.Addr) uint32 {
	b := a.As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// FromUint32 builds an IPv4 netip.Addr from a uint32.
func FromUint32(v uint32) netip.Addr {
	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}
