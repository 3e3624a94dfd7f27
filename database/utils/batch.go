package utils

// BatchInsertSize bounds the rows of one multi-row INSERT. Postgres accepts
// at most 65535 bind parameters per statement and the widest table here has
// fewer than 20 columns.
const BatchInsertSize = 3_000

// KeyLookupSize bounds the tuples bound by one composite IN lookup.
const KeyLookupSize = 5_000

// Chunks splits items into consecutive slices of at most size elements.
func Chunks[T any](items []T, size int) [][]T {
	if size <= 0 {
		return [][]T{items}
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end])
	}
	return chunks
}
