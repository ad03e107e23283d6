package testfs

import (
	"github.com/jacksun007/testfs-rv/rv"
	"github.com/jacksun007/testfs-rv/rvcache"
)

// readData copies size bytes starting at offset out of the data blocks
// owned by di, chasing direct pointers and then, past NRDirectBlocks
// blocks' worth of offset, the single level of indirection. kinds
// selects which cache half readData is allowed to satisfy each block
// lookup from — ReadCache for a pre-transaction snapshot, BothCaches for
// the current one.
func (p *Plugin) readData(di *dinode, kinds rvcache.Kind, offset, size int) ([]byte, error) {
	buf := make([]byte, size)
	copied := 0
	for copied < size {
		pos := offset + copied
		blockIdx := pos / BlockSize
		blockOff := pos % BlockSize

		var bnr int
		if blockIdx < NRDirectBlocks {
			bnr = int(di.IBlockNr[blockIdx])
		} else {
			slot := blockIdx - NRDirectBlocks
			if slot >= NRIndirectBlocks {
				return nil, rv.EFBIG
			}
			if di.IIndirect == 0 {
				return nil, rv.ENOTFOUND
			}
			ih, ok, err := p.inst.Cache().Find(int(di.IIndirect), kinds)
			if err != nil {
				return nil, err
			}
			if !ok || ih.data == nil {
				return nil, rv.ENOTFOUND
			}
			bnr = int(decodeIndirectSlot(ih.data, slot))
			p.inst.Cache().Put(ih)
		}
		if bnr == 0 {
			return nil, rv.ENOTFOUND
		}

		bh, ok, err := p.inst.Cache().Find(bnr, kinds)
		if err != nil {
			return nil, err
		}
		if !ok || bh.data == nil {
			return nil, rv.ENOTFOUND
		}
		n := size - copied
		if n > BlockSize-blockOff {
			n = BlockSize - blockOff
		}
		copy(buf[copied:copied+n], bh.data[blockOff:blockOff+n])
		p.inst.Cache().Put(bh)
		copied += n
	}
	return buf, nil
}

// readDirentAt decodes the dirent starting at offset within di's data and
// returns it along with its on-disk size.
func (p *Plugin) readDirentAt(di *dinode, kinds rvcache.Kind, offset int) (dirent, int, error) {
	header, err := p.readData(di, kinds, offset, direntHeaderSize)
	if err != nil {
		return dirent{}, 0, err
	}
	inodeNr, nameLen := decodeDirentHeader(header)
	var name []byte
	if nameLen > 0 {
		name, err = p.readData(di, kinds, offset+direntHeaderSize, int(nameLen))
		if err != nil {
			return dirent{}, 0, err
		}
	}
	d := dirent{InodeNr: inodeNr, NameLen: nameLen, Name: string(name)}
	return d, d.size(), nil
}

// dirIterate walks every live entry of dirInodeNr's directory, entirely
// through kinds, calling visit once per entry. A tombstoned entry
// (InodeNr == -1) is skipped.
func (p *Plugin) dirIterate(dirInodeNr int, kinds rvcache.Kind, visit func(dirent) error) error {
	blockNr := inodeNrToBlockNr(int(p.sb.InodeBlocksStart), dirInodeNr)
	ih, ok, err := p.inst.Cache().Find(blockNr, kinds)
	if err != nil {
		return err
	}
	if !ok || ih.data == nil {
		return rv.ENOTFOUND
	}
	slot := dirInodeNr % InodesPerBlock
	di := decodeDinode(ih.data, slot)
	p.inst.Cache().Put(ih)

	if di.IType == INone {
		return rv.ENOTFOUND
	}
	if di.IType != IDir {
		return rv.ENOTDIR
	}

	offset := 0
	for offset < int(di.ISize) {
		d, n, err := p.readDirentAt(&di, kinds, offset)
		if err != nil {
			return err
		}
		offset += n
		if d.InodeNr == -1 {
			continue
		}
		if err := visit(d); err != nil {
			return err
		}
	}
	return nil
}
