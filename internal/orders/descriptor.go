package orders

import "fmt"

// BuildDescriptor returns the canonical, checksum-less 2-of-3 sorted-multi
// descriptor for an order's three extended public keys at child index idx.
// The wallet node computes and validates the checksum via
// getdescriptorinfo; callers append it with WithChecksum.
func BuildDescriptor(xpubBuyer, xpubSeller, xpubEscrow string, idx int) string {
	return fmt.Sprintf(
		"wsh(sortedmulti(2,%s/0/%d,%s/0/%d,%s/0/%d))",
		xpubBuyer, idx, xpubSeller, idx, xpubEscrow, idx,
	)
}

// WithChecksum appends the wallet-verified checksum to a bare descriptor.
func WithChecksum(descriptor, checksum string) string {
	return descriptor + "#" + checksum
}

// ImportRange returns the single-index [i, i] range importdescriptors and
// deriveaddresses expect for a non-range order descriptor.
func ImportRange(idx int) [2]int {
	return [2]int{idx, idx}
}
