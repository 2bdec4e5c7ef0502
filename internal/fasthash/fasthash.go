// Package fasthash contains utilities for fast hashing of strings.
//
// The djb2 hash values produced here are part of the serialized index
// format, so the algorithm must stay stable across versions of this module.
package fasthash

// String implements the djb2 hash algorithm for a string.
func String(str string) (hash uint32) {
	if str == "" {
		return 0
	}

	return Between(str, 0, len(str))
}

// Between implements the djb2 hash algorithm for the [begin, end) substring
// of str.
func Between(str string, begin, end int) (hash uint32) {
	hash = uint32(5381)
	for i := begin; i < end; i++ {
		hash = (hash * 33) ^ uint32(str[i])
	}

	return hash
}
