package benor

// Quorum là ngưỡng đa số của pha 1: floor((N+1)/2).
func Quorum(n int) int {
	return (n + 1) / 2
}

// ProposalValue chọn giá trị đề xuất cho pha 2 từ kết quả đếm của pha 1.
// One is checked first, so when both values reach the quorum the node proposes One.
func ProposalValue(t Tally, n int, fallback Bit) Bit {
	q := Quorum(n)
	for _, b := range []Bit{One, Zero} {
		if t.Count(b) >= q {
			return b
		}
	}
	return fallback
}

// Decide trả về giá trị quyết định nếu một giá trị đạt ngưỡng N-F ở pha 2.
func Decide(t Tally, id Identity) (Bit, bool) {
	threshold := id.DecisionThreshold()
	for _, b := range []Bit{One, Zero} {
		if t.Count(b) >= threshold {
			return b, true
		}
	}
	return Zero, false
}
