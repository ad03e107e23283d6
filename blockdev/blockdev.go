// Package blockdev is the abstract seekable block device the RV core
// mirrors every read and write through: transfer exactly one block at
// offset nr*BlockSize with positioned I/O, so the host filesystem's own
// file position is never disturbed by the mirrored I/O.
package blockdev

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Device is a fixed block-size seekable byte stream. ReadBlock and
// WriteBlock both use positioned I/O, which leaves the underlying offset
// untouched.
type Device struct {
	f         *os.File
	blockSize int
}

// Open opens path for reading and writing and takes an advisory exclusive
// flock on the whole file for the lifetime of the Device: the offset-
// preserving contract ReadBlock/WriteBlock provide is only meaningful if no
// other process is concurrently repositioning the same descriptor.
func Open(path string, blockSize int) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("blockdev: flock %s: %w", path, err)
	}
	return &Device{f: f, blockSize: blockSize}, nil
}

// Close releases the flock and closes the underlying file.
func (d *Device) Close() error {
	unix.Flock(int(d.f.Fd()), unix.LOCK_UN)
	return d.f.Close()
}

// BlockSize reports the fixed block size this device was opened with.
func (d *Device) BlockSize() int { return d.blockSize }

// ReadBlock reads exactly one block at block number nr into buf, which must
// be BlockSize() bytes long. Positioned I/O (ReadAt) is used instead of
// seek-then-read so the file's own offset — which the host filesystem may
// be relying on for its own sequential I/O — is never disturbed.
func (d *Device) ReadBlock(nr int, buf []byte) error {
	if len(buf) != d.blockSize {
		return fmt.Errorf("blockdev: ReadBlock: buffer is %d bytes, want %d", len(buf), d.blockSize)
	}
	_, err := d.f.ReadAt(buf, int64(nr)*int64(d.blockSize))
	return err
}

// WriteBlock writes exactly one block of buf at block number nr, via
// positioned I/O (WriteAt) for the same reason as ReadBlock.
func (d *Device) WriteBlock(nr int, buf []byte) error {
	if len(buf) != d.blockSize {
		return fmt.Errorf("blockdev: WriteBlock: buffer is %d bytes, want %d", len(buf), d.blockSize)
	}
	_, err := d.f.WriteAt(buf, int64(nr)*int64(d.blockSize))
	return err
}
