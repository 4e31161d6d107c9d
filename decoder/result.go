package decoder

// Result holds the recognition output.
type Result struct {
	Text     string   // recognized text
	Tokens   []string // label units in order
	TokenIDs []int
	LogScore float64 // total log probability

	// NBest ranks the surviving hypotheses best first, including the
	// top one. The greedy path leaves it nil.
	NBest []*Result
}
