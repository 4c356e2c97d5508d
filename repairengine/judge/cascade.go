package judge

// DefaultMaxCascadeDepth bounds how many nested follow-on errors the governor
// chases for a single root patch. The headroom gives the breaker enough
// samples to establish a trend before cascade exhaustion forces termination,
// so the two limits are tuned jointly.
const DefaultMaxCascadeDepth = 10

// CascadeGuard tracks nested error depth incurred while chasing a single root
// patch, such as a fix exposing a new downstream error.
type CascadeGuard struct {
	depth    int
	maxDepth int
}

// NewCascadeGuard creates a guard. A non-positive maxDepth falls back to
// DefaultMaxCascadeDepth.
func NewCascadeGuard(maxDepth int) *CascadeGuard {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxCascadeDepth
	}
	return &CascadeGuard{maxDepth: maxDepth}
}

// Enter advances and returns the cascade depth.
func (g *CascadeGuard) Enter() int {
	g.depth++
	return g.depth
}

// Depth returns the current cascade depth.
func (g *CascadeGuard) Depth() int {
	return g.depth
}

// Exceeded reports whether the depth is strictly greater than the maximum.
func (g *CascadeGuard) Exceeded() bool {
	return g.depth > g.maxDepth
}
