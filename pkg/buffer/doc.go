// Package buffer provides a generic, bounded FIFO ring with selectable
// overflow behavior.
//
// # Overview
//
// The websocket transport queues outbound envelopes through one ring per
// client: the write pump drains it in batches, and the Block policy
// turns a full ring into backpressure on frame delivery instead of
// unbounded memory growth. The Drop policies serve queues where losing
// items beats stalling the producer.
//
//	outbound, err := buffer.NewCircularBuffer[wsMessage](256,
//	    buffer.WithOverflowPolicy[wsMessage](buffer.Block))
//
// # Overflow Policies
//
//   - DropOldest (default): a full ring discards its oldest item to
//     admit the new one.
//   - DropNewest: a full ring discards the incoming item.
//   - Block: Write waits until a reader frees a slot or the ring closes.
//
// WithDropCallback observes every item a Drop policy discards and every
// item removed by Clear. Callbacks run outside the ring's lock.
//
// # Statistics and Metrics
//
// Every ring counts writes, reads, overflows (writes that arrived to a
// full ring), and drops, and tracks its high-water size; Stats exposes
// the counters. WithMetrics additionally registers them as Prometheus
// collectors labeled with a component prefix.
//
// # Lifecycle
//
// Close wakes blocked writers and fails subsequent writes. Reads keep
// draining whatever is queued, so shutdown paths can flush the ring
// before discarding it.
package buffer
