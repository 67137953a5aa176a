// Package scheduler drives matching rounds across all active markets,
// spreading them over a fixed set of partitions so hot markets can be
// isolated from the rest.
package scheduler

import (
	"sort"

	"matchd/internal/market"
)

// Partition splits market symbols into n+1 groups. Group 0 holds the
// isolated symbols and runs on its own; the remaining symbols are sorted and
// dealt round-robin into groups 1..n. The split is deterministic: the same
// markets and isolation list always produce the same partitions, and every
// active symbol lands in exactly one group.
func Partition(markets []market.Market, n int, isolated []string) [][]string {
	if n < 1 {
		n = 1
	}

	isolatedSet := make(map[string]bool, len(isolated))
	for _, symbol := range isolated {
		isolatedSet[symbol] = true
	}

	groups := make([][]string, n+1)
	var rest []string
	for _, m := range markets {
		if isolatedSet[m.Symbol] {
			groups[0] = append(groups[0], m.Symbol)
			continue
		}
		rest = append(rest, m.Symbol)
	}

	sort.Strings(groups[0])
	sort.Strings(rest)
	for i, symbol := range rest {
		idx := 1 + i%n
		groups[idx] = append(groups[idx], symbol)
	}

	return groups
}
