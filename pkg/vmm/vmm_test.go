package vmm_test

import (
	"testing"

	"dripos.dev/kernel/pkg/vmm"
)

func TestMapThenTranslateSucceeds(t *testing.T) {
	sp := vmm.NewFlatSpace()
	if err := sp.Map(0x400000, 0x1000, vmm.Present|vmm.Write); err != nil {
		t.Fatalf("Map: %v", err)
	}
	if _, ok := sp.Translate(0x400000); !ok {
		t.Errorf("Translate(0x400000) = !ok, want mapped")
	}
	if _, ok := sp.Translate(0x500000); ok {
		t.Errorf("Translate(0x500000) = ok, want unmapped")
	}
}

func TestContainsRequiresFullRangeMapped(t *testing.T) {
	sp := vmm.NewFlatSpace()
	sp.Map(0x1000, 0x100, vmm.Present)

	if !sp.Contains(0x1000, 0x100) {
		t.Errorf("Contains(entire mapped range) = false")
	}
	if sp.Contains(0x1000, 0x200) {
		t.Errorf("Contains(range extending past mapping) = true")
	}
	if sp.Contains(0x2000, 0x10) {
		t.Errorf("Contains(unmapped range) = true")
	}
	if !sp.Contains(0x3000, 0) {
		t.Errorf("Contains(zero-length range) = false, want vacuously true")
	}
}

func TestEachAddressSpaceGetsDistinctRoot(t *testing.T) {
	a := vmm.NewFlatSpace()
	b := vmm.NewFlatSpace()
	if a.Root() == b.Root() {
		t.Errorf("two address spaces share root %#x", a.Root())
	}
}

func TestForkHigherHalfCopiesMappings(t *testing.T) {
	parent := vmm.NewFlatSpace()
	parent.Map(0x600000, 0x1000, vmm.Present)

	child := parent.ForkHigherHalf()
	if _, ok := child.Translate(0x600000); !ok {
		t.Errorf("forked child missing parent's mapping")
	}
	if child.Root() == parent.Root() {
		t.Errorf("forked child shares root with parent")
	}
}
