package budget

// SizeEstimator approximates how many model tokens a piece of text costs.
type SizeEstimator interface {
	Estimate(s string) int
}

// DefaultCharsPerToken is the ratio used by CharEstimator when unset.
const DefaultCharsPerToken = 4

// CharEstimator is a length heuristic: ceil(len(s) / CharsPerToken). It is
// not a tokenizer; byte length is used so multi-byte text is not undercounted.
type CharEstimator struct {
	CharsPerToken int
}

// Estimate returns the token estimate for s.
func (e CharEstimator) Estimate(s string) int {
	cpt := e.CharsPerToken
	if cpt <= 0 {
		cpt = DefaultCharsPerToken
	}
	n := len(s)
	if n == 0 {
		return 0
	}
	return (n + cpt - 1) / cpt
}
