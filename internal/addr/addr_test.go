package addr

import (
	"net/netip"
	"testing"
)

func TestParseFormat(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"192.0.2.0/24", "192.0.2.0/24"},
		{"192.0.2.5/24", "192.0.2.0/24"}, // host bits zeroed
		{"0.0.0.0/0", "0.0.0.0/0"},
		{"255.255.255.255/32", "255.255.255.255/32"},
		{"::/0", "::/0"},
		{"ffff::/128", "ffff::/128"},
	}
	for _, c := range cases {
		p, err := Parse(c.in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", c.in, err)
		}
		if got := Format(p); got != c.want {
			t.Errorf("Format(Parse(%q)) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestParseRejectsBadMask(t *testing.T) {
	for _, in := range []string{"10.0.0.0/33", "::/129", "not-an-addr/24", "10.0.0.0"} {
		if _, err := Parse(in); err == nil {
			t.Errorf("Parse(%q): expected error, got nil", in)
		}
	}
}

func TestV4V6NeverEqual(t *testing.T) {
	p4, _ := Parse("0.0.0.0/0")
	p6, _ := Parse("::/0")
	if p4.Equal(p6) {
		t.Fatal("v4 and v6 prefixes compared equal")
	}
}

func TestContains(t *testing.T) {
	outer, _ := Parse("10.0.0.0/8")
	inner, _ := Parse("10.1.2.0/24")
	sibling, _ := Parse("11.1.2.0/24")
	if !Contains(outer, inner) {
		t.Error("expected outer to contain inner")
	}
	if Contains(outer, sibling) {
		t.Error("expected outer not to contain sibling")
	}
	if Contains(inner, outer) {
		t.Error("more specific should not contain less specific")
	}
}

func TestBitAtMSBFirst(t *testing.T) {
	a := netip.MustParseAddr("128.0.0.0")
	if !BitAt(a, 0) {
		t.Error("bit 0 of 128.0.0.0 should be set (MSB-first)")
	}
	if BitAt(a, 1) {
		t.Error("bit 1 of 128.0.0.0 should be clear")
	}
}

func TestHashStableForEqualPrefixes(t *testing.T) {
	p1, _ := Parse("192.0.2.0/24")
	p2, _ := Parse("192.0.2.77/24")
	if Hash(p1) != Hash(p2) {
		t.Error("equal canonicalized prefixes must hash equal")
	}
}

func TestUint32RoundTrip(t *testing.T) {
	a := netip.MustParseAddr("10.20.30.40")
	if got := FromUint32(ToUint32(a)); got != a {
		t.Errorf("round trip: got %s, want %s", got, a)
	}
}
