package availability

import "sort"

// applyScarcity caps the exposed slots per calendar day, keeping the
// chronologically earliest options. Deliberate product policy layered on top
// of raw provider availability: days are independent, and the output is a
// deterministic function of the input so repeated reads do not flicker.
func applyScarcity(slots []Slot, perDayCap int) []Slot {
	if perDayCap <= 0 || len(slots) == 0 {
		return []Slot{}
	}

	ordered := make([]Slot, len(slots))
	copy(ordered, slots)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].At.Before(ordered[j].At)
	})

	taken := make(map[string]int, len(ordered))
	filtered := make([]Slot, 0, len(ordered))
	for _, slot := range ordered {
		if taken[slot.Date] >= perDayCap {
			continue
		}
		taken[slot.Date]++
		filtered = append(filtered, slot)
	}
	return filtered
}
