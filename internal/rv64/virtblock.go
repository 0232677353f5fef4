package rv64

import (
	"fmt"
	"io"
	"os"
)

// SectorSize is the block I/O unit.
const SectorSize = 512

// Block request types.
const (
	BlkTIn    = 0
	BlkTOut   = 1
	BlkTFlush = 4
	BlkTGetID = 8
)

// Block request status codes.
const (
	BlkSOK     = 0
	BlkSIOErr  = 1
	BlkSUnsupp = 2
)

const blkIDLen = 20

// BlockDevice is the device side of a virtio block device backed by a
// raw image file. It owns the file for the emulator's lifetime.
type BlockDevice struct {
	file     *os.File
	capacity uint64 // in sectors
	serial   string
}

// OpenBlockDevice opens a raw image as the block backing store. The
// file length determines the exposed capacity.
func OpenBlockDevice(path string) (*BlockDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open block image: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat block image: %w", err)
	}
	return &BlockDevice{
		file:     f,
		capacity: uint64(st.Size()) / SectorSize,
		serial:   "rvemu-blk0",
	}, nil
}

// Close releases the backing file.
func (b *BlockDevice) Close() error { return b.file.Close() }

// Capacity returns the device size in 512-byte sectors.
func (b *BlockDevice) Capacity() uint64 { return b.capacity }

func (b *BlockDevice) DeviceID() uint32       { return 2 }
func (b *BlockDevice) DeviceFeatures() uint64 { return 0 }

// Config exposes the capacity field of the block config space.
func (b *BlockDevice) Config() []byte {
	var cfg [8]byte
	guestEndian.PutUint64(cfg[:], b.capacity)
	return cfg[:]
}

// Handle services one request chain: header, data descriptors, then a
// one-byte status. Data faults surface as IOERR in the status byte and
// the request is still retired to the used ring.
func (b *BlockDevice) Handle(chain *DescChain) (uint32, error) {
	if len(chain.Bufs) < 2 {
		return 0, fmt.Errorf("request chain too short: %d buffers", len(chain.Bufs))
	}

	hdrBuf := chain.Bufs[0]
	statusBuf := chain.Bufs[len(chain.Bufs)-1]
	data := chain.Bufs[1 : len(chain.Bufs)-1]

	if hdrBuf.DeviceWritable || hdrBuf.Len < 16 {
		return 0, fmt.Errorf("bad request header descriptor")
	}
	if !statusBuf.DeviceWritable || statusBuf.Len < 1 {
		return 0, fmt.Errorf("bad request status descriptor")
	}

	hdr, err := chain.ReadBuf(hdrBuf)
	if err != nil {
		return b.retire(chain, statusBuf, BlkSIOErr, 0)
	}
	reqType := guestEndian.Uint32(hdr[0:4])
	sector := guestEndian.Uint64(hdr[8:16])

	var written uint32
	status := byte(BlkSOK)

	switch reqType {
	case BlkTIn:
		written, status = b.readSectors(chain, data, sector)
	case BlkTOut:
		status = b.writeSectors(chain, data, sector)
	case BlkTFlush:
		if err := b.file.Sync(); err != nil {
			status = BlkSIOErr
		}
	case BlkTGetID:
		written, status = b.writeID(chain, data)
	default:
		status = BlkSUnsupp
	}

	return b.retire(chain, statusBuf, status, written)
}

// retire writes the status byte; the used length counts every byte the
// device wrote back, status included.
func (b *BlockDevice) retire(chain *DescChain, statusBuf DescBuf, status byte, written uint32) (uint32, error) {
	if err := chain.WriteBuf(statusBuf, []byte{status}); err != nil {
		return written, err
	}
	return written + 1, nil
}

func dataLen(data []DescBuf) (uint32, bool) {
	var total uint32
	for _, d := range data {
		total += d.Len
	}
	return total, total%SectorSize == 0
}

func (b *BlockDevice) readSectors(chain *DescChain, data []DescBuf, sector uint64) (uint32, byte) {
	total, aligned := dataLen(data)
	if !aligned || total == 0 {
		return 0, BlkSIOErr
	}
	if sector+uint64(total)/SectorSize > b.capacity {
		return 0, BlkSIOErr
	}

	var written uint32
	off := int64(sector) * SectorSize
	for _, d := range data {
		if !d.DeviceWritable {
			return written, BlkSIOErr
		}
		buf := make([]byte, d.Len)
		if _, err := b.file.ReadAt(buf, off); err != nil && err != io.EOF {
			return written, BlkSIOErr
		}
		if err := chain.WriteBuf(d, buf); err != nil {
			return written, BlkSIOErr
		}
		written += d.Len
		off += int64(d.Len)
	}
	return written, BlkSOK
}

func (b *BlockDevice) writeSectors(chain *DescChain, data []DescBuf, sector uint64) byte {
	total, aligned := dataLen(data)
	if !aligned || total == 0 {
		return BlkSIOErr
	}
	if sector+uint64(total)/SectorSize > b.capacity {
		return BlkSIOErr
	}

	off := int64(sector) * SectorSize
	for _, d := range data {
		if d.DeviceWritable {
			return BlkSIOErr
		}
		buf, err := chain.ReadBuf(d)
		if err != nil {
			return BlkSIOErr
		}
		if _, err := b.file.WriteAt(buf, off); err != nil {
			return BlkSIOErr
		}
		off += int64(len(buf))
	}
	return BlkSOK
}

// writeID returns the device serial, NUL-padded to 20 bytes.
func (b *BlockDevice) writeID(chain *DescChain, data []DescBuf) (uint32, byte) {
	if len(data) != 1 || !data[0].DeviceWritable || data[0].Len < blkIDLen {
		return 0, BlkSIOErr
	}
	id := make([]byte, blkIDLen)
	copy(id, b.serial)
	if err := chain.WriteBuf(data[0], id); err != nil {
		return 0, BlkSIOErr
	}
	return blkIDLen, BlkSOK
}

var _ VirtIODevice = (*BlockDevice)(nil)
