package tokens

// prefixSum returns cumulative counts: sums[i] is the cost of items[:i].
func prefixSum[T any](c Counter, items []T, render func(T) string) []int {
	sums := make([]int, len(items)+1)
	for i, it := range items {
		sums[i+1] = sums[i] + c.Count(render(it))
	}
	return sums
}

// FitPrefix keeps the longest prefix of items whose rendered cost fits
// budget. Items are never truncated: the first item that does not fit is
// dropped together with everything after it. It returns the kept items
// and their cost.
func FitPrefix[T any](c Counter, items []T, budget int, render func(T) string) ([]T, int) {
	if budget <= 0 || len(items) == 0 {
		return items[:0], 0
	}
	sums := prefixSum(c, items, render)
	n := 0
	for n < len(items) && sums[n+1] <= budget {
		n++
	}
	return items[:n], sums[n]
}

// FitSuffix keeps the longest suffix of items that fits budget, dropping
// the oldest items first.
func FitSuffix[T any](c Counter, items []T, budget int, render func(T) string) ([]T, int) {
	if budget <= 0 || len(items) == 0 {
		return items[:0], 0
	}
	sums := prefixSum(c, items, render)
	total := sums[len(items)]
	start := 0
	for start < len(items) && total-sums[start] > budget {
		start++
	}
	return items[start:], total - sums[start]
}
