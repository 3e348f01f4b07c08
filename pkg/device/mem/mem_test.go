package mem_test

import (
	"bytes"
	"testing"

	"dripos.dev/kernel/pkg/device/mem"
)

func TestReadAtAndGeometry(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, 4*512)
	dev := mem.New(data, 512)

	if dev.BlockSize() != 512 {
		t.Errorf("BlockSize = %d, want 512", dev.BlockSize())
	}
	if dev.BlockCount() != 4 {
		t.Errorf("BlockCount = %d, want 4", dev.BlockCount())
	}

	buf := make([]byte, 16)
	n, err := dev.ReadAt(buf, 512)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if n != 16 {
		t.Errorf("n = %d, want 16", n)
	}
	for _, b := range buf {
		if b != 0xAB {
			t.Fatalf("unexpected byte %x", b)
		}
	}
}

func TestReadAtPastEndReturnsZero(t *testing.T) {
	dev := mem.New(make([]byte, 512), 512)
	n, err := dev.ReadAt(make([]byte, 16), 10000)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if n != 0 {
		t.Errorf("n = %d, want 0", n)
	}
}
