// Package hash maps message keys onto the 16-bit key space shared by every topic and
// splits that space across partitions.
package hash

import (
	"github.com/zeebo/xxh3"

	"github.com/arloliu/mqread/types"
)

// KeySpace is the number of distinct key hashes.
const KeySpace = types.MaxHashKey + 1

// KeyRange is an inclusive range of key hashes.
type KeyRange struct {
	From uint16
	To   uint16
}

// Contains reports whether h falls inside the range.
func (r KeyRange) Contains(h uint16) bool {
	return h >= r.From && h <= r.To
}

// Overlaps reports whether the two ranges share at least one key hash.
func (r KeyRange) Overlaps(o KeyRange) bool {
	return r.From <= o.To && o.From <= r.To
}

// Intersect returns the shared part of two overlapping ranges.
func (r KeyRange) Intersect(o KeyRange) (KeyRange, bool) {
	if !r.Overlaps(o) {
		return KeyRange{}, false
	}

	return KeyRange{From: max(r.From, o.From), To: min(r.To, o.To)}, true
}

// Key hashes a message key into the key space.
func Key(key []byte) uint16 {
	return uint16(xxh3.Hash(key))
}

// KeyString hashes a string key into the key space.
func KeyString(key string) uint16 {
	return uint16(xxh3.HashString(key))
}

// PartitionRanges splits the key space across count partitions. The first
// KeySpace%count partitions own one extra hash.
//
// Parameters:
//   - count: Number of partitions (must be > 0)
//
// Returns:
//   - []KeyRange: One contiguous range per partition, in partition order
func PartitionRanges(count uint32) []KeyRange {
	if count == 0 {
		return nil
	}
	size := uint32(KeySpace) / count
	extra := uint32(KeySpace) % count

	ranges := make([]KeyRange, count)
	var from uint32
	for i := range count {
		n := size
		if i < extra {
			n++
		}
		ranges[i] = KeyRange{From: uint16(from), To: uint16(from + n - 1)}
		from += n
	}

	return ranges
}

// PartitionFor returns the partition owning hash h among count partitions.
func PartitionFor(count uint32, h uint16) uint32 {
	for i, r := range PartitionRanges(count) {
		if r.Contains(h) {
			return uint32(i)
		}
	}

	return count - 1
}

// OverlappingPartitions returns the partitions whose ranges intersect want.
func OverlappingPartitions(count uint32, want KeyRange) []uint32 {
	var ids []uint32
	for i, r := range PartitionRanges(count) {
		if r.Overlaps(want) {
			ids = append(ids, uint32(i))
		}
	}

	return ids
}
