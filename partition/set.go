// Package partition implements Set, a fixed-capacity bitmap over the
// partitions 0..N-1 of a partitioned service.
package partition

import (
	"math/bits"
	"strconv"
	"strings"

	"github.com/pior/extend/internal/hashing"
)

// Set is a bitmap over partitions 0..n-1. It is not safe for concurrent
// mutation.
type Set struct {
	count  int
	words  []uint64
	marked int // exact number of marked partitions, or -1 when unknown
}

// New returns an empty set over n partitions.
func New(n int) *Set {
	if n < 0 {
		panic("partition: negative partition count")
	}
	return &Set{count: n, words: make([]uint64, (n+63)/64)}
}

// Of returns the partition owning key among n partitions.
func Of(key []byte, n int) int {
	return hashing.Bytes(key, n)
}

// PartitionCount returns the number of partitions the set ranges over.
func (s *Set) PartitionCount() int { return s.count }

func (s *Set) check(p int) {
	if p < 0 || p >= s.count {
		panic("partition: " + strconv.Itoa(p) + " out of range [0," + strconv.Itoa(s.count) + ")")
	}
}

func (s *Set) checkCompatible(o *Set) {
	if o.count != s.count {
		panic("partition: incompatible partition counts " + strconv.Itoa(s.count) + " and " + strconv.Itoa(o.count))
	}
}

// tailMask returns the valid bits of the last word.
func (s *Set) tailMask() uint64 {
	if r := s.count % 64; r != 0 {
		return 1<<r - 1
	}
	return ^uint64(0)
}

// Add marks p and reports whether it was previously unmarked.
func (s *Set) Add(p int) bool {
	s.check(p)
	w, bit := p/64, uint64(1)<<(p%64)
	if s.words[w]&bit != 0 {
		return false
	}
	s.words[w] |= bit
	if s.marked >= 0 {
		s.marked++
	}
	return true
}

// AddSet marks every partition of o and reports whether any of them was
// previously unmarked.
func (s *Set) AddSet(o *Set) bool {
	s.checkCompatible(o)
	changed := false
	for i, w := range o.words {
		if w&^s.words[i] != 0 {
			changed = true
			s.words[i] |= w
		}
	}
	if changed {
		s.marked = -1
	}
	return changed
}

// Remove unmarks p and reports whether it was previously marked.
func (s *Set) Remove(p int) bool {
	s.check(p)
	w, bit := p/64, uint64(1)<<(p%64)
	if s.words[w]&bit == 0 {
		return false
	}
	s.words[w] &^= bit
	if s.marked >= 0 {
		s.marked--
	}
	return true
}

// RemoveSet unmarks every partition of o and reports whether any was marked.
func (s *Set) RemoveSet(o *Set) bool {
	s.checkCompatible(o)
	changed := false
	for i, w := range o.words {
		if s.words[i]&w != 0 {
			changed = true
			s.words[i] &^= w
		}
	}
	if changed {
		s.marked = -1
	}
	return changed
}

// Retain unmarks every partition not in o and reports whether any changed.
func (s *Set) Retain(o *Set) bool {
	s.checkCompatible(o)
	changed := false
	for i, w := range o.words {
		if s.words[i]&^w != 0 {
			changed = true
			s.words[i] &= w
		}
	}
	if changed {
		s.marked = -1
	}
	return changed
}

func (s *Set) Contains(p int) bool {
	s.check(p)
	return s.words[p/64]&(uint64(1)<<(p%64)) != 0
}

// ContainsAll reports whether every partition of o is marked in s.
func (s *Set) ContainsAll(o *Set) bool {
	s.checkCompatible(o)
	for i, w := range o.words {
		if w&^s.words[i] != 0 {
			return false
		}
	}
	return true
}

// Intersects reports whether s and o share a marked partition.
func (s *Set) Intersects(o *Set) bool {
	s.checkCompatible(o)
	for i, w := range o.words {
		if s.words[i]&w != 0 {
			return true
		}
	}
	return false
}

// Invert flips every partition.
func (s *Set) Invert() {
	for i := range s.words {
		s.words[i] = ^s.words[i]
	}
	if n := len(s.words); n > 0 {
		s.words[n-1] &= s.tailMask()
	}
	if s.marked >= 0 {
		s.marked = s.count - s.marked
	}
}

// Fill marks every partition.
func (s *Set) Fill() {
	for i := range s.words {
		s.words[i] = ^uint64(0)
	}
	if n := len(s.words); n > 0 {
		s.words[n-1] = s.tailMask()
	}
	s.marked = s.count
}

// Clear unmarks every partition.
func (s *Set) Clear() {
	clear(s.words)
	s.marked = 0
}

// Next returns the lowest marked partition >= from, or -1.
func (s *Set) Next(from int) int {
	if from < 0 {
		from = 0
	}
	if from >= s.count {
		return -1
	}
	i := from / 64
	w := s.words[i] & (^uint64(0) << (from % 64))
	for {
		if w != 0 {
			return i*64 + bits.TrailingZeros64(w)
		}
		i++
		if i == len(s.words) {
			return -1
		}
		w = s.words[i]
	}
}

// First returns the lowest marked partition, or -1.
func (s *Set) First() int { return s.Next(0) }

// Cardinality returns the number of marked partitions.
func (s *Set) Cardinality() int {
	if s.marked < 0 {
		n := 0
		for _, w := range s.words {
			n += bits.OnesCount64(w)
		}
		s.marked = n
	}
	return s.marked
}

func (s *Set) IsEmpty() bool {
	if s.marked >= 0 {
		return s.marked == 0
	}
	for _, w := range s.words {
		if w != 0 {
			return false
		}
	}
	return true
}

func (s *Set) IsFull() bool { return s.Cardinality() == s.count }

// Equals reports whether both sets range over the same partitions and mark
// the same ones.
func (s *Set) Equals(o *Set) bool {
	if o == nil || s.count != o.count {
		return false
	}
	for i, w := range s.words {
		if o.words[i] != w {
			return false
		}
	}
	return true
}

func (s *Set) Clone() *Set {
	c := &Set{count: s.count, words: make([]uint64, len(s.words)), marked: s.marked}
	copy(c.words, s.words)
	return c
}

// Slice returns the marked partitions in ascending order.
func (s *Set) Slice() []int {
	out := make([]int, 0, s.Cardinality())
	for p := s.First(); p >= 0; p = s.Next(p + 1) {
		out = append(out, p)
	}
	return out
}

// Split moves the upper half of the marked partitions into a new set and
// returns it. It returns nil when fewer than two partitions are marked.
func (s *Set) Split() *Set {
	n := s.Cardinality()
	if n < 2 {
		return nil
	}
	keep := n / 2

	p := s.First()
	for range keep {
		p = s.Next(p + 1)
	}

	upper := New(s.count)
	for ; p >= 0; p = s.Next(p + 1) {
		upper.Add(p)
		s.Remove(p)
	}
	return upper
}

// String renders the set as ranges, e.g. "PartitionSet{0..3, 7, 9..10}".
func (s *Set) String() string {
	var sb strings.Builder
	sb.WriteString("PartitionSet{")
	first := true
	for p := s.First(); p >= 0; {
		end := p
		for end+1 < s.count && s.Contains(end+1) {
			end++
		}
		if !first {
			sb.WriteString(", ")
		}
		first = false
		sb.WriteString(strconv.Itoa(p))
		if end > p {
			sb.WriteString("..")
			sb.WriteString(strconv.Itoa(end))
		}
		p = s.Next(end + 1)
	}
	sb.WriteString("}")
	return sb.String()
}
