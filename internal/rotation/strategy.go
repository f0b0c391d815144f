package rotation

// Strategy names the closed set of upstream-key selection algorithms.
type Strategy string

const (
	StrategyRoundRobin  Strategy = "round_robin"
	StrategyRandom      Strategy = "random"
	StrategyLeastUsed   Strategy = "least_used"
	StrategyWeighted    Strategy = "weighted"
	StrategyHealthBased Strategy = "health_based"
)

// Valid reports whether s is one of the closed set of strategy names.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyRoundRobin, StrategyRandom, StrategyLeastUsed, StrategyWeighted, StrategyHealthBased:
		return true
	}
	return false
}
