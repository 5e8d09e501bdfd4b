package buffer

import "testing"

func TestGetBufferSizes(t *testing.T) {
	pool := NewPool(4096)
	tests := []struct {
		name    string
		size    int
		wantCap int
	}{
		{"one sector", 512, 4 * 1024},
		{"4KB exact", 4 * 1024, 4 * 1024},
		{"just over 4KB", 4*1024 + 1, 8 * 1024},
		{"64KB", 64 * 1024, 64 * 1024},
		{"1MB", 1024 * 1024, 1024 * 1024},
		{"4MB", 4 * 1024 * 1024, 4 * 1024 * 1024},
		{"over 4MB", 4*1024*1024 + 512, 4*1024*1024 + 512},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := pool.Get(tt.size)
			if len(buf) != tt.size {
				t.Errorf("len = %d, want %d", len(buf), tt.size)
			}
			if cap(buf) != tt.wantCap {
				t.Errorf("cap = %d, want %d", cap(buf), tt.wantCap)
			}
			if !IsAligned(buf, 4096) {
				t.Errorf("buffer of size %d not 4096-aligned", tt.size)
			}
			pool.Put(buf)
		})
	}
}

func TestGetZeroSize(t *testing.T) {
	pool := NewPool(512)
	if buf := pool.Get(0); buf != nil {
		t.Errorf("Get(0) = %d bytes, want nil", len(buf))
	}
}

func TestPutReusesBuffer(t *testing.T) {
	pool := NewPool(4096)
	buf := pool.Get(8192)
	buf[0] = 0xAB
	pool.Put(buf)

	// sync.Pool may drop entries at any time; only alignment and size are
	// guaranteed on the second Get.
	again := pool.Get(8192)
	if len(again) != 8192 || !IsAligned(again, 4096) {
		t.Errorf("reused buffer len=%d aligned=%v", len(again), IsAligned(again, 4096))
	}
}

func TestPutForeignBuffer(t *testing.T) {
	pool := NewPool(512)
	// Non power-of-2 capacity must be ignored without panicking
	pool.Put(make([]byte, 3000))
	pool.Put(nil)
}

func TestPutUnalignedBuffer(t *testing.T) {
	pool := NewPool(4096)
	backing := Aligned(2*4096, 4096)
	// class-sized capacity, but starting one byte past the boundary
	pool.Put(backing[1 : 4096+1 : 4096+1])

	for i := 0; i < 8; i++ {
		buf := pool.Get(4096)
		if !IsAligned(buf, 4096) {
			t.Fatalf("Get returned an unaligned buffer after Put of a foreign one")
		}
		pool.Put(buf)
	}
}

func TestAligned(t *testing.T) {
	for _, align := range []int{1, 512, 4096} {
		buf := Aligned(1000, align)
		if len(buf) != 1000 || cap(buf) != 1000 {
			t.Errorf("align %d: len=%d cap=%d", align, len(buf), cap(buf))
		}
		if !IsAligned(buf, align) {
			t.Errorf("align %d: buffer not aligned", align)
		}
	}
}

func BenchmarkPoolGetPut(b *testing.B) {
	pool := NewPool(4096)
	for i := 0; i < b.N; i++ {
		buf := pool.Get(64 * 1024)
		pool.Put(buf)
	}
}
