package snapshot

import "sort"

// KeySet is a set of member registry ids.
type KeySet map[int64]struct{}

func NewKeySet(ids ...int64) KeySet {
	s := make(KeySet, len(ids))
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

func (s KeySet) Add(id int64) { s[id] = struct{}{} }

func (s KeySet) Has(id int64) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the members of the set in ascending order.
func (s KeySet) Sorted() []int64 {
	out := make([]int64, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Minus returns the ids in s that are absent from other.
func (s KeySet) Minus(other KeySet) KeySet {
	out := make(KeySet)
	for id := range s {
		if !other.Has(id) {
			out.Add(id)
		}
	}
	return out
}

type Result struct {
	Entered []int64 `json:"entered"`
	Left    []int64 `json:"left"`
}

func (r Result) Empty() bool {
	return len(r.Entered) == 0 && len(r.Left) == 0
}

// Diff compares two snapshots of the same category. Both slices of the
// result are sorted, so identical inputs always yield identical output.
func Diff(previous, next KeySet) Result {
	return Result{
		Entered: next.Minus(previous).Sorted(),
		Left:    previous.Minus(next).Sorted(),
	}
}
