package internal

import (
	"context"

	"github.com/lychee-technology/duplex"
)

const defaultBatchSize = 400

// commitChunked writes ops in atomic chunks no larger than the Cache batch
// limit and returns how many ops were committed. Each chunk is atomic on its
// own; a failure leaves earlier chunks applied.
func commitChunked(ctx context.Context, cache duplex.CacheBackend, collection string, ops []duplex.BatchOp) (int, error) {
	size := cache.MaxBatchSize()
	if size <= 0 {
		size = defaultBatchSize
	}
	committed := 0
	for _, chunk := range Chunk(ops, size) {
		if err := cache.CommitBatch(ctx, collection, chunk); err != nil {
			return committed, err
		}
		committed += len(chunk)
	}
	return committed, nil
}
