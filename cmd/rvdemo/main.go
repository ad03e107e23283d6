// Command rvdemo exercises the runtime-verification layer end to end
// against a freshly formatted disk image: it replays a file creation and
// a file deletion as two transactions, prints one line per transaction
// once it has committed, and points at rv_change.log for the change
// records each one produced.
package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/jacksun007/testfs-rv/bitops"
	"github.com/jacksun007/testfs-rv/blockdev"
	"github.com/jacksun007/testfs-rv/changesink"
	"github.com/jacksun007/testfs-rv/rv"
	"github.com/jacksun007/testfs-rv/testfs"
)

func main() {
	log.SetFlags(0)

	disk := pflag.StringP("disk", "d", "", "path to a disk image; formatted fresh if it does not exist")
	configPath := pflag.StringP("config", "c", "", "path to a HuJSON rv config file (optional)")
	corrupt := pflag.BoolP("corrupt", "r", false, "enable random block corruption on write")
	crashConsistent := pflag.BoolP("crash-consistent", "x", false, "assume the host never reads its own uncommitted writes")
	blockThreshold := pflag.IntP("block-threshold", "b", 64, "target number of attached blocks kept in memory")
	pflag.Parse()

	if *disk == "" {
		fmt.Fprintf(os.Stderr, "usage: %s --disk PATH [flags]\n\noptions:\n", filepath.Base(os.Args[0]))
		pflag.PrintDefaults()
		os.Exit(2)
	}

	cfg := rv.Config{
		Corrupt:         *corrupt,
		CrashConsistent: *crashConsistent,
		BlockThreshold:  *blockThreshold,
	}
	if *configPath != "" {
		loaded, err := rv.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("LoadConfig: %v", err)
		}
		cfg = loaded
	}

	if _, err := os.Stat(*disk); os.IsNotExist(err) {
		if err := testfs.Format(*disk, testfs.DefaultFormatOptions); err != nil {
			log.Fatalf("Format: %v", err)
		}
		fmt.Printf("formatted a fresh image at %s\n", *disk)
	}

	dev, err := blockdev.Open(*disk, testfs.BlockSize)
	if err != nil {
		log.Fatalf("blockdev.Open: %v", err)
	}
	defer dev.Close()

	rvLog := rv.NewLogger(cfg.LogDir)
	sink := changesink.New(rvLog)
	plugin := testfs.NewPlugin(dev, sink)
	inst, err := rv.New(cfg, plugin, rvLog)
	if err != nil {
		log.Fatalf("rv.New: %v", err)
	}
	plugin.Bind(inst)
	if err := plugin.Bootstrap(); err != nil {
		log.Fatalf("Bootstrap: %v", err)
	}

	readBlock := func(nr int) {
		buf := make([]byte, testfs.BlockSize)
		if err := dev.ReadBlock(nr, buf); err != nil {
			log.Fatalf("ReadBlock(%d): %v", nr, err)
		}
		inst.Read(nr, buf)
	}

	layout := testfs.LayoutFor(testfs.DefaultFormatOptions)
	readBlock(0)
	readBlock(layout.InodeFreemapStart)
	readBlock(layout.BlockFreemapStart)
	readBlock(layout.InodeBlocksStart)
	readBlock(layout.DataBlocksStart)

	const newInodeNr = 17
	name := "f"
	freemap := make([]byte, testfs.BlockSize)
	bitops.SetBit(freemap, testfs.RootInodeNr, true, true)
	bitops.SetBit(freemap, newInodeNr, true, true)

	fileInode := testfs.EncodeFileInode(newInodeNr)
	rootInode := testfs.EncodeRootInode(layout.DataBlocksStart, testfs.DirentHeaderSize+len(name))
	dirBlock := testfs.EncodeSingleEntryDir(newInodeNr, name)

	inst.TxStart(rv.TxCreate)
	inst.Write(layout.InodeFreemapStart, freemap)
	inst.Write(layout.InodeBlockNr(newInodeNr), fileInode)
	inst.Write(layout.InodeBlockNr(testfs.RootInodeNr), rootInode)
	inst.Write(layout.DataBlocksStart, dirBlock)
	inst.TxCommit(rv.TxCreate)

	if !inst.Enabled() {
		log.Fatalf("runtime verification disabled itself mid-demo")
	}
	fmt.Println("created inode 17 as /f")

	clearedFreemap := make([]byte, testfs.BlockSize)
	bitops.SetBit(clearedFreemap, testfs.RootInodeNr, true, true)
	emptyInode := make([]byte, testfs.BlockSize)
	tombstoned := testfs.EncodeTombstonedDir(name)

	inst.TxStart(rv.TxRemove)
	inst.Write(layout.InodeFreemapStart, clearedFreemap)
	inst.Write(layout.InodeBlockNr(newInodeNr), emptyInode)
	inst.Write(layout.DataBlocksStart, tombstoned)
	inst.TxCommit(rv.TxRemove)

	if !inst.Enabled() {
		log.Fatalf("runtime verification disabled itself mid-demo")
	}
	fmt.Println("removed /f")
	fmt.Println("see rv_change.log for the full transaction trace")
}
