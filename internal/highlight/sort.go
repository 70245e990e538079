package highlight

import "sort"

// SortReadingOrder orders highlights into an approximate left-to-right,
// top-to-bottom reading order. The sort is stable, so highlights the
// comparator cannot distinguish keep their input order.
//
// Comparator, in priority order:
//  1. ascending page number
//  2. on the same page, disjoint x-intervals of the bounding rects order
//     left before right
//  3. overlapping x-intervals order by ascending top edge (y1)
func SortReadingOrder(hls []Highlight) {
	sort.SliceStable(hls, func(i, j int) bool {
		return readsBefore(hls[i], hls[j])
	})
}

func readsBefore(a, b Highlight) bool {
	if a.Position.PageNumber != b.Position.PageNumber {
		return a.Position.PageNumber < b.Position.PageNumber
	}
	ar, br := a.Position.BoundingRect, b.Position.BoundingRect
	if ar.X2 < br.X1 {
		return true
	}
	if br.X2 < ar.X1 {
		return false
	}
	return ar.Y1 < br.Y1
}
