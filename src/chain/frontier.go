package chain

import "sort"

// SeqRange is an inclusive range [First, Last] of sequence numbers.
type SeqRange struct {
	First int
	Last  int
}

// Count returns the number of sequence numbers covered by the range.
func (r SeqRange) Count() int {
	if r.Last < r.First {
		return 0
	}
	return r.Last - r.First + 1
}

// ForkedSlot advertises the competing record hashes held at a forked position
// of a chain. Exchanging these hashes is what lets two peers discover that
// each holds a version the other has not seen.
type ForkedSlot struct {
	Index  int
	Hashes []string
}

// Summary is a compact description of everything a peer holds for one chain:
// the contiguous frontier, the highest sequence number it has heard of, the
// holes in between, and the competing hashes at forked positions. Its size is
// proportional to the number of gaps and forks, not to the chain length.
type Summary struct {
	Owner    string
	Frontier int
	MaxKnown int
	Holes    []SeqRange
	Forks    []ForkedSlot
}

// knownRanges returns the ranges of sequence numbers covered by the summary:
// [1, MaxKnown] minus the holes.
func (s Summary) knownRanges() []SeqRange {
	if s.MaxKnown < 1 {
		return nil
	}
	return SubtractRanges([]SeqRange{{First: 1, Last: s.MaxKnown}}, s.Holes)
}

// Knows reports whether the summary covers sequence number seq.
func (s Summary) Knows(seq int) bool {
	if seq < 1 || seq > s.MaxKnown {
		return false
	}
	for _, h := range s.Holes {
		if seq >= h.First && seq <= h.Last {
			return false
		}
	}
	return true
}

// hasForkHash reports whether the summary advertises hash among the competing
// versions at position seq.
func (s Summary) hasForkHash(seq int, hash string) bool {
	for _, f := range s.Forks {
		if f.Index != seq {
			continue
		}
		for _, h := range f.Hashes {
			if h == hash {
				return true
			}
		}
	}
	return false
}

// MissingRanges returns the ranges of sequence numbers covered by the remote
// summary but not by the local one. It runs in time proportional to the
// number of gaps on either side.
func MissingRanges(local, remote Summary) []SeqRange {
	return SubtractRanges(remote.knownRanges(), local.knownRanges())
}

// SubtractRanges returns a minus b. Both inputs must be sorted and
// non-overlapping, which holds for all ranges produced in this package.
func SubtractRanges(a, b []SeqRange) []SeqRange {
	res := []SeqRange{}
	j := 0
	for _, ra := range a {
		lo := ra.First
		for j < len(b) && b[j].Last < lo {
			j++
		}
		k := j
		for k < len(b) && b[k].First <= ra.Last {
			if b[k].First > lo {
				res = append(res, SeqRange{First: lo, Last: b[k].First - 1})
			}
			if b[k].Last+1 > lo {
				lo = b[k].Last + 1
			}
			k++
		}
		if lo <= ra.Last {
			res = append(res, SeqRange{First: lo, Last: ra.Last})
		}
	}
	return res
}

// MergeRanges sorts the input and coalesces overlapping or adjacent ranges.
func MergeRanges(rs []SeqRange) []SeqRange {
	if len(rs) == 0 {
		return rs
	}

	sorted := make([]SeqRange, len(rs))
	copy(sorted, rs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].First < sorted[j].First
	})

	res := []SeqRange{sorted[0]}
	for _, r := range sorted[1:] {
		last := &res[len(res)-1]
		if r.First <= last.Last+1 {
			if r.Last > last.Last {
				last.Last = r.Last
			}
		} else {
			res = append(res, r)
		}
	}
	return res
}
