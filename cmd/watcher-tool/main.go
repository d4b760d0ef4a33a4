// Command watcher-tool is a small debug utility for the trie/addr
// packages: it takes a low/high address pair on the command line and
// prints the minimal set of CIDR prefixes that exactly covers the
// range.
package main

import (
	"fmt"
	"net/netip"
	"os"

	"github.com/caida-tools/bgpwatcher/internal/patricia"
)

func main() {
	if len(os.Args) != 3 {
		printUsage()
		os.Exit(1)
	}

	lo, err := netip.ParseAddr(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid low address %q: %v\n", os.Args[1], err)
		os.Exit(1)
	}
	hi, err := netip.ParseAddr(os.Args[2])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid high address %q: %v\n", os.Args[2], err)
		os.Exit(1)
	}
	if lo.Is4() != hi.Is4() {
		fmt.Fprintln(os.Stderr, "error: low and high addresses must be the same family")
		os.Exit(1)
	}

	prefixes := patricia.RangeToPrefixes(lo, hi)
	for _, p := range prefixes {
		fmt.Println(p.String())
	}
}

func printUsage() {
	fmt.Println("Usage: watcher-tool <low-addr> <high-addr>")
	fmt.Println()
	fmt.Println("Prints the minimal set of CIDR prefixes covering [low, high].")
	fmt.Println()
	fmt.Println("Example:")
	fmt.Println("  watcher-tool 192.0.2.0 192.0.2.255")
}
