package lru

import "testing"

func BenchmarkInsert(b *testing.B) {
	c := New[int, int](4096, WithoutLocking())
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Insert(i&8191, i)
	}
}

func BenchmarkLookupHit(b *testing.B) {
	c := New[int, int](4096, WithoutLocking())
	for i := 0; i < 4096; i++ {
		c.Insert(i, i)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Lookup(i&4095, true)
	}
}

func BenchmarkLookupMiss(b *testing.B) {
	c := New[int, int](4096, WithoutLocking())
	for i := 0; i < 4096; i++ {
		c.Insert(i, i)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Lookup(100000+i, false)
	}
}
