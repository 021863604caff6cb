package buffer

import (
	"testing"
)

func BenchmarkWriteDropOldest(b *testing.B) {
	buf, err := NewCircularBuffer[int](1024)
	if err != nil {
		b.Fatal(err)
	}
	defer buf.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		// Once full, every write churns through DropOldest.
		_ = buf.Write(i)
	}
}

func BenchmarkWriteReadPairs(b *testing.B) {
	buf, err := NewCircularBuffer[int](1024)
	if err != nil {
		b.Fatal(err)
	}
	defer buf.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = buf.Write(i)
		buf.Read()
	}
}

func BenchmarkReadBatch(b *testing.B) {
	for _, batch := range []int{1, 16, 64} {
		b.Run(batchName(batch), func(b *testing.B) {
			buf, err := NewCircularBuffer[int](1024)
			if err != nil {
				b.Fatal(err)
			}
			defer buf.Close()

			b.ResetTimer()
			for i := 0; i < b.N; {
				for j := 0; j < batch; j++ {
					_ = buf.Write(j)
				}
				i += len(buf.ReadBatch(batch))
			}
		})
	}
}

func batchName(n int) string {
	switch n {
	case 1:
		return "batch_1"
	case 16:
		return "batch_16"
	default:
		return "batch_64"
	}
}

func BenchmarkBlockPipeline(b *testing.B) {
	// One producer against one draining consumer, the websocket write
	// pump's shape.
	buf, err := NewCircularBuffer[int](64, WithOverflowPolicy[int](Block))
	if err != nil {
		b.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		drained := 0
		for drained < b.N {
			batch := buf.ReadBatch(32)
			if len(batch) == 0 {
				continue
			}
			drained += len(batch)
		}
	}()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := buf.Write(i); err != nil {
			b.Fatal(err)
		}
	}
	<-done
	buf.Close()
}
