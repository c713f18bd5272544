package fileq

import (
	"context"
	"fmt"
	"testing"
)

func newBenchEngine(b *testing.B) *Engine {
	b.Helper()
	e := New(WithLogger(NewZapLogger(nil)))
	b.Cleanup(func() { _ = e.Close(context.Background()) })
	return e
}

func BenchmarkEngine_Enqueue(b *testing.B) {
	e := newBenchEngine(b)
	prios := AllPriorities
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.Enqueue(fmt.Sprintf("/bench/missing-%d.bin", i), prios[i%len(prios)]); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkEngine_Tasks(b *testing.B) {
	for _, n := range []int{100, 1000} {
		b.Run(fmt.Sprintf("n=%d", n), func(b *testing.B) {
			e := newBenchEngine(b)
			for i := 0; i < n; i++ {
				if _, err := e.Enqueue(fmt.Sprintf("/bench/f-%d", i), PriorityMedium); err != nil {
					b.Fatal(err)
				}
			}
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if got := len(e.Tasks()); got != n {
					b.Fatalf("tasks=%d", got)
				}
			}
		})
	}
}

func BenchmarkHumanSize(b *testing.B) {
	sizes := []int64{0, 512, 1536, 5 << 20, 3 << 30, 7 << 40}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = HumanSize(sizes[i%len(sizes)])
	}
}
