// Package hashing maps keys onto a fixed number of buckets. It is used to
// place keys in partitions and to spread clients over proxy addresses.
package hashing

import "github.com/zeebo/xxh3"

// Jump implements Google's "Jump" consistent hash
// (https://arxiv.org/abs/1406.2294), after github.com/dgryski/go-jump.
// Growing numBuckets from n to n+1 moves only 1/(n+1) of the keys.
func Jump(key uint64, numBuckets int) int {
	if numBuckets <= 0 {
		return 0
	}

	var b int64 = -1
	var j int64

	for j < int64(numBuckets) {
		b = j
		key = key*2862933555777941757 + 1
		j = int64(float64(b+1) * (float64(int64(1)<<31) / float64((key>>33)+1)))
	}

	return int(b)
}

// Bytes returns the bucket of a binary key.
func Bytes(key []byte, numBuckets int) int {
	return Jump(xxh3.Hash(key), numBuckets)
}

// String returns the bucket of a string key.
func String(key string, numBuckets int) int {
	return Jump(xxh3.HashString(key), numBuckets)
}
