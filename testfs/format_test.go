package testfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatWritesConsistentSuperBlockAndRoot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	require.NoError(t, Format(path, DefaultFormatOptions))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	want := layoutFor(DefaultFormatOptions)
	sb := decodeSuperBlock(raw[:BlockSize])
	if sb.InodeFreemapStart != want.InodeFreemapStart ||
		sb.BlockFreemapStart != want.BlockFreemapStart ||
		sb.InodeBlocksStart != want.InodeBlocksStart ||
		sb.DataBlocksStart != want.DataBlocksStart {
		t.Fatalf("on-disk superblock = %+v, want region boundaries %+v", sb, want)
	}

	inodeBlock := raw[int(sb.InodeBlocksStart)*BlockSize : (int(sb.InodeBlocksStart)+1)*BlockSize]
	root := decodeDinode(inodeBlock, rootInodeNr)
	if root.IType != IDir {
		t.Errorf("root inode type = %d, want IDir (%d)", root.IType, IDir)
	}
	if root.IBlockNr[0] != sb.DataBlocksStart {
		t.Errorf("root inode's first block = %d, want %d", root.IBlockNr[0], sb.DataBlocksStart)
	}

	freemap := raw[int(sb.InodeFreemapStart)*BlockSize : (int(sb.InodeFreemapStart)+1)*BlockSize]
	if freemap[0]&1 == 0 {
		t.Errorf("inode freemap bit 0 (root) should be set")
	}

	totalBlocks := int(sb.DataBlocksStart) + DefaultFormatOptions.DataBlocks
	if len(raw) != totalBlocks*BlockSize {
		t.Errorf("image size = %d bytes, want %d", len(raw), totalBlocks*BlockSize)
	}
}

func TestFormatLayoutScalesWithOptions(t *testing.T) {
	small := layoutFor(FormatOptions{InodeBlocks: 1, DataBlocks: 10})
	large := layoutFor(FormatOptions{InodeBlocks: 64, DataBlocks: 100000})

	if small.InodeBlocksStart >= large.InodeBlocksStart {
		t.Errorf("larger inode region should push InodeBlocksStart further out: small=%d large=%d",
			small.InodeBlocksStart, large.InodeBlocksStart)
	}
	smallFreemapBlocks := small.InodeBlocksStart - small.BlockFreemapStart
	largeFreemapBlocks := large.InodeBlocksStart - large.BlockFreemapStart
	if largeFreemapBlocks <= smallFreemapBlocks {
		t.Errorf("100000 data blocks should need more block-freemap blocks than 10: got %d vs %d",
			largeFreemapBlocks, smallFreemapBlocks)
	}
}
