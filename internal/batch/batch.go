// Package batch slices an ordered item sequence into bounded batches.
package batch

import "iter"

// Batch is an ordered group of items. IDs start at 1 for every Iter call.
type Batch[T any] struct {
	ID    int
	Items []T
}

// Iter returns a lazy sequence of batches over items.
//
// At most maxRows items are consumed; the rest are never grouped, even if
// that leaves a batch short. A batch is emitted as soon as it holds batchSize
// items, and iteration ends once maxBatches size-triggered batches have been
// emitted. Whatever remains when the input runs out is emitted as one final
// partial batch, which does not count against maxBatches.
//
// The sequence holds no external state: ranging over it again starts over.
func Iter[T any](items []T, batchSize, maxRows, maxBatches int) iter.Seq[Batch[T]] {
	return func(yield func(Batch[T]) bool) {
		if batchSize <= 0 {
			return
		}

		id := 0
		consumed := 0
		current := make([]T, 0, batchSize)

		for _, item := range items {
			if consumed >= maxRows {
				break
			}
			current = append(current, item)
			consumed++

			if len(current) < batchSize {
				continue
			}

			id++
			if !yield(Batch[T]{ID: id, Items: current}) {
				return
			}
			current = make([]T, 0, batchSize)

			if id >= maxBatches {
				return
			}
		}

		if len(current) > 0 {
			id++
			yield(Batch[T]{ID: id, Items: current})
		}
	}
}

// MaxBatchesFor returns the smallest batch cap that still lets maxRows items
// through at batchSize per batch.
func MaxBatchesFor(maxRows, batchSize int) int {
	if batchSize <= 0 || maxRows <= 0 {
		return 0
	}
	return (maxRows + batchSize - 1) / batchSize
}
