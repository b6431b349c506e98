package metadata

// Align rounds operand up to the next multiple of granularity, a power of two.
func Align(operand, granularity uint64) uint64 {
	return (operand + (granularity - 1)) &^ (granularity - 1)
}
