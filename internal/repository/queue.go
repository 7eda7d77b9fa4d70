package repository

import (
	"context"
	"sync"
)

// mutationQueue admits one mutation at a time in arrival order.
// Each waiter holds the channel its predecessor closes on release.
type mutationQueue struct {
	mu   sync.Mutex
	tail chan struct{}
}

// acquire blocks until every earlier caller has released. A caller whose ctx
// ends while waiting gives up its turn without letting later callers overtake
// the ones still ahead of it.
func (q *mutationQueue) acquire(ctx context.Context) (release func(), err error) {
	q.mu.Lock()
	prev := q.tail
	mine := make(chan struct{})
	q.tail = mine
	q.mu.Unlock()

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			go func() {
				<-prev
				close(mine)
			}()
			return nil, ctx.Err()
		}
	}

	var once sync.Once
	return func() { once.Do(func() { close(mine) }) }, nil
}
