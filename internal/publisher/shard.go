package publisher

import "unicode/utf16"

// SelectShard maps metric name to a pool index.
// Hash is seeded with 7 and folds UTF-16 code units with *31 in wrapping int32,
// which keeps routing identical to existing deployments.
// Params: metric name; poolSize connection count.
// Returns: index in [0, poolSize), 0 when poolSize <= 1.
func SelectShard(metric string, poolSize int) int {
	if poolSize <= 1 {
		return 0
	}

	hash := int32(7)
	for _, unit := range utf16.Encode([]rune(metric)) {
		hash = hash*31 + int32(unit)
	}

	index := hash % int32(poolSize)
	if index < 0 {
		index = -index
	}
	return int(index)
}
