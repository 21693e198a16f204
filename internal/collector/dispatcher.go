package collector

import (
	"context"
	"sync"
)

// dispatcher fans deliveries out to a fixed set of ordered shards.
// Deliveries for the same trade id always land on the same shard and are
// handled in arrival order; different shards run concurrently.
type dispatcher struct {
	shards []chan Delivery
	wg     sync.WaitGroup
}

func newDispatcher(workers, queueSize int, handle func(Delivery)) *dispatcher {
	d := &dispatcher{shards: make([]chan Delivery, workers)}
	for i := range d.shards {
		ch := make(chan Delivery, queueSize)
		d.shards[i] = ch
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for del := range ch {
				handle(del)
			}
		}()
	}
	return d
}

// dispatch blocks until the owning shard accepts the delivery or ctx ends.
func (d *dispatcher) dispatch(ctx context.Context, del Delivery) error {
	shard := d.shards[shardFor(TradeIDOf(del.Body), len(d.shards))]
	select {
	case shard <- del:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain closes every shard and waits for queued deliveries to finish.
func (d *dispatcher) drain() {
	for _, ch := range d.shards {
		close(ch)
	}
	d.wg.Wait()
}
