// Package echfstest builds in-memory echfs disk images for testing,
// the way perkeep's pkg/blobserver/storagetest builds ad hoc fixtures
// against a blobserver.Storage rather than driving a real on-disk
// format through its own writer path.
package echfstest

import (
	"encoding/binary"

	"dripos.dev/kernel/pkg/device/mem"
	"dripos.dev/kernel/pkg/echfs"
)

// Entry describes one file or directory to bake into a test image.
// Parent indexes into the same Entry slice, or -1 for a top-level
// entry (parented directly under echfs.RootDirID).
type Entry struct {
	Name    string
	Parent  int
	IsDir   bool
	Content []byte
}

const headerBlock = 0

// Build lays out a minimal but structurally valid echfs image holding
// entries, with the given block size, and returns it as an in-memory
// device.Device ready to be passed to echfs.Open.
func Build(blockSize uint64, entries []Entry) (*mem.Device, error) {
	dirIDs := make([]uint64, len(entries))
	for i, e := range entries {
		if e.IsDir {
			dirIDs[i] = uint64(i + 1) // small synthetic IDs, disjoint from data block numbers
		}
	}
	parentIDOf := func(i int) uint64 {
		p := entries[i].Parent
		if p < 0 {
			return echfs.RootDirID
		}
		return dirIDs[p]
	}

	dataBlocksFor := func(content []byte) uint64 {
		if len(content) == 0 {
			return 1
		}
		return (uint64(len(content)) + blockSize - 1) / blockSize
	}

	numEntries := uint64(len(entries))
	mainDirBlocks := (numEntries*256 + blockSize - 1) / blockSize
	if mainDirBlocks == 0 {
		mainDirBlocks = 1
	}

	var dataBlockCount uint64
	for _, e := range entries {
		if !e.IsDir {
			dataBlockCount += dataBlocksFor(e.Content)
		}
	}

	// Converge block_count / alloc_table_blocks, since the allocation
	// table's own size depends on total block count.
	allocTableBlocks := uint64(1)
	var totalBlocks uint64
	for i := 0; i < 8; i++ {
		dataStart := 16 + allocTableBlocks + mainDirBlocks
		totalBlocks = dataStart + dataBlockCount
		next := (totalBlocks*8 + blockSize - 1) / blockSize
		if next == allocTableBlocks {
			break
		}
		allocTableBlocks = next
	}

	dataStart := 16 + allocTableBlocks + mainDirBlocks
	mainDirBlock := 16 + allocTableBlocks

	img := make([]byte, totalBlocks*blockSize)

	// Block 0 header.
	copy(img[4:12], echfs.Magic[:])
	binary.LittleEndian.PutUint64(img[12:20], totalBlocks)
	binary.LittleEndian.PutUint64(img[20:28], mainDirBlocks)
	binary.LittleEndian.PutUint64(img[28:36], blockSize)

	allocTable := make([]uint64, totalBlocks)

	nextData := dataStart
	for i, e := range entries {
		entryOff := mainDirBlock*blockSize + uint64(i)*256
		buf := img[entryOff : entryOff+256]

		binary.LittleEndian.PutUint64(buf[0:8], parentIDOf(i))
		if e.IsDir {
			buf[8] = 1
		} else {
			buf[8] = 0
		}
		nameBytes := []byte(e.Name)
		copy(buf[9:9+len(nameBytes)], nameBytes)

		var start uint64
		var size uint64
		if e.IsDir {
			start = dirIDs[i]
			size = 0
		} else {
			start = nextData
			size = uint64(len(e.Content))
			blocksNeeded := dataBlocksFor(e.Content)
			for b := uint64(0); b < blocksNeeded; b++ {
				blockNum := nextData + b
				chunkOff := b * blockSize
				chunkEnd := chunkOff + blockSize
				if chunkEnd > size {
					chunkEnd = size
				}
				copy(img[blockNum*blockSize:], e.Content[chunkOff:chunkEnd])
				if b == blocksNeeded-1 {
					allocTable[blockNum] = echfs.EndOfChain
				} else {
					allocTable[blockNum] = blockNum + 1
				}
			}
			nextData += blocksNeeded
		}
		binary.LittleEndian.PutUint64(buf[210:218], start)
		binary.LittleEndian.PutUint64(buf[218:226], size)
	}

	// Terminate the directory entry array (parent id 0 = end-of-list),
	// as long as there's room after the last real entry.
	endOff := mainDirBlock*blockSize + numEntries*256
	if endOff+8 <= mainDirBlock*blockSize+mainDirBlocks*blockSize {
		binary.LittleEndian.PutUint64(img[endOff:endOff+8], 0)
	}

	entriesPerBlock := blockSize / 8
	for block, next := range allocTable {
		if next == 0 {
			continue
		}
		tableBlock := 16 + (uint64(block)*8)/blockSize
		idx := uint64(block) % entriesPerBlock
		off := tableBlock*blockSize + idx*8
		binary.LittleEndian.PutUint64(img[off:off+8], next)
	}

	return mem.New(img, int(blockSize)), nil
}
