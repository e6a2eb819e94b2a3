package cache

// Stats is a point-in-time snapshot of one cache type's counters.
// Hits and Misses cover both tiers (an L2 hit counts as a hit).
type Stats struct {
	Type      string  `json:"type"`
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	Size      int     `json:"size"`
	HitRate   float64 `json:"hit_rate"`
}

// hitRate computes hits/(hits+misses), zero when no lookups happened.
func hitRate(hits, misses uint64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
