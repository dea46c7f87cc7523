package join

// MatchFunc is invoked once per (left entry bytes, right entry bytes) pair
// that share a join key within a triggered slice. The caller deserializes
// both entries under its own layouts and writes the combined output
// record downstream.
type MatchFunc func(leftEntry, rightEntry []byte)

// Probe performs the probe phase of a triggered slice: for every key
// present in the smaller side's map, it looks up the same key in the
// larger side and calls match once per (left, right) entry pair. Probing
// the smaller side first bounds the number of map lookups by
// min(distinctKeysLeft, distinctKeysRight), grounded on
// original_source's HJProbe sizing heuristic.
func Probe(slice *Slice, match MatchFunc) {
	left := slice.Side(Left)
	right := slice.Side(Right)

	probeMap, lookupMap := left, right
	if right.Len() < left.Len() {
		probeMap, lookupMap = right, left
	}

	probeMap.ForEach(func(key string, probePV *PagedVector) {
		lookupPV, ok := lookupMap.Get(key)
		if !ok {
			return
		}
		probePV.ForEach(func(probeEntry []byte) {
			lookupPV.ForEach(func(lookupEntry []byte) {
				if probeMap == left {
					match(probeEntry, lookupEntry)
				} else {
					match(lookupEntry, probeEntry)
				}
			})
		})
	})
}
