package rv64

import (
	"fmt"
	"sort"
)

// Device is a memory-mapped peripheral. Offsets are device-local and the
// bus guarantees offset+size lies inside the device's range and that the
// access is naturally aligned.
type Device interface {
	Read(offset uint64, size int) (uint64, error)
	Write(offset uint64, size int, value uint64) error
	Size() uint64
}

// Ticker is implemented by devices that want a callback once per core
// loop iteration.
type Ticker interface {
	Tick(delta uint64)
}

// IRQLine lets a device raise or lower one interrupt input without a
// reference back into the interrupt controller or the hart.
type IRQLine interface {
	Set(level bool)
}

// mipLine drives a single mip bit; used for the CLINT and PLIC outputs.
type mipLine struct {
	cpu *CPU
	bit uint64
}

func (l mipLine) Set(level bool) { l.cpu.SetMIP(l.bit, level) }

// BusFault reports an unserviceable physical access. The CPU converts it
// into the load/store flavored architectural cause.
type BusFault struct {
	Addr       uint64
	Misaligned bool
}

func (e *BusFault) Error() string {
	if e.Misaligned {
		return fmt.Sprintf("misaligned access at 0x%x", e.Addr)
	}
	return fmt.Sprintf("no device at 0x%x", e.Addr)
}

// RAM is a flat little-endian byte array.
type RAM struct {
	Data []byte
}

// NewRAM allocates zeroed RAM of the given size.
func NewRAM(size uint64) *RAM {
	return &RAM{Data: make([]byte, size)}
}

func (m *RAM) Size() uint64 { return uint64(len(m.Data)) }

func (m *RAM) Read(offset uint64, size int) (uint64, error) {
	if offset+uint64(size) > uint64(len(m.Data)) {
		return 0, fmt.Errorf("ram read out of bounds: offset=0x%x size=%d", offset, size)
	}
	switch size {
	case 1:
		return uint64(m.Data[offset]), nil
	case 2:
		return uint64(guestEndian.Uint16(m.Data[offset:])), nil
	case 4:
		return uint64(guestEndian.Uint32(m.Data[offset:])), nil
	case 8:
		return guestEndian.Uint64(m.Data[offset:]), nil
	}
	return 0, fmt.Errorf("invalid read size: %d", size)
}

func (m *RAM) Write(offset uint64, size int, value uint64) error {
	if offset+uint64(size) > uint64(len(m.Data)) {
		return fmt.Errorf("ram write out of bounds: offset=0x%x size=%d", offset, size)
	}
	switch size {
	case 1:
		m.Data[offset] = byte(value)
	case 2:
		guestEndian.PutUint16(m.Data[offset:], uint16(value))
	case 4:
		guestEndian.PutUint32(m.Data[offset:], uint32(value))
	case 8:
		guestEndian.PutUint64(m.Data[offset:], value)
	default:
		return fmt.Errorf("invalid write size: %d", size)
	}
	return nil
}

var _ Device = (*RAM)(nil)

// mapping binds a device to a half-open guest-physical range.
type mapping struct {
	base uint64
	size uint64
	dev  Device
}

// Bus routes guest-physical accesses to RAM or a device. Ranges are kept
// sorted and disjoint; overlap at wiring time is an emulator bug and
// panics.
type Bus struct {
	RAM     *RAM
	ramBase uint64

	maps    []mapping
	tickers []Ticker
}

// NewBus creates a bus with RAM mapped at RAMBase.
func NewBus(ramSize uint64) *Bus {
	bus := &Bus{
		RAM:     NewRAM(ramSize),
		ramBase: RAMBase,
	}
	bus.Map(RAMBase, bus.RAM)
	return bus
}

// Map adds a device at the given base address.
func (bus *Bus) Map(base uint64, dev Device) {
	m := mapping{base: base, size: dev.Size(), dev: dev}
	for _, o := range bus.maps {
		if m.base < o.base+o.size && o.base < m.base+m.size {
			panic(fmt.Sprintf("bus: range 0x%x..0x%x overlaps 0x%x..0x%x",
				m.base, m.base+m.size, o.base, o.base+o.size))
		}
	}
	bus.maps = append(bus.maps, m)
	sort.Slice(bus.maps, func(i, j int) bool { return bus.maps[i].base < bus.maps[j].base })
	if t, ok := dev.(Ticker); ok {
		bus.tickers = append(bus.tickers, t)
	}
}

// Tick forwards one core-loop tick to every device that asked for it.
func (bus *Bus) Tick(delta uint64) {
	for _, t := range bus.tickers {
		t.Tick(delta)
	}
}

func (bus *Bus) find(addr uint64) (Device, uint64, bool) {
	i := sort.Search(len(bus.maps), func(i int) bool {
		return bus.maps[i].base+bus.maps[i].size > addr
	})
	if i < len(bus.maps) && addr >= bus.maps[i].base {
		return bus.maps[i].dev, addr - bus.maps[i].base, true
	}
	return nil, 0, false
}

// Read performs a naturally aligned read of 1, 2, 4 or 8 bytes.
// Misaligned addresses fault: the board models hardware without the
// misaligned-access extension.
func (bus *Bus) Read(addr uint64, size int) (uint64, error) {
	if addr&uint64(size-1) != 0 {
		return 0, &BusFault{Addr: addr, Misaligned: true}
	}
	dev, offset, ok := bus.find(addr)
	if !ok || offset+uint64(size) > dev.Size() {
		return 0, &BusFault{Addr: addr}
	}
	return dev.Read(offset, size)
}

// Write performs a naturally aligned write of 1, 2, 4 or 8 bytes.
func (bus *Bus) Write(addr uint64, size int, value uint64) error {
	if addr&uint64(size-1) != 0 {
		return &BusFault{Addr: addr, Misaligned: true}
	}
	dev, offset, ok := bus.find(addr)
	if !ok || offset+uint64(size) > dev.Size() {
		return &BusFault{Addr: addr}
	}
	return dev.Write(offset, size, value)
}

func (bus *Bus) Read8(addr uint64) (uint8, error) {
	v, err := bus.Read(addr, 1)
	return uint8(v), err
}

func (bus *Bus) Read16(addr uint64) (uint16, error) {
	v, err := bus.Read(addr, 2)
	return uint16(v), err
}

func (bus *Bus) Read32(addr uint64) (uint32, error) {
	v, err := bus.Read(addr, 4)
	return uint32(v), err
}

func (bus *Bus) Read64(addr uint64) (uint64, error) {
	return bus.Read(addr, 8)
}

func (bus *Bus) Write8(addr uint64, value uint8) error {
	return bus.Write(addr, 1, uint64(value))
}

func (bus *Bus) Write16(addr uint64, value uint16) error {
	return bus.Write(addr, 2, uint64(value))
}

func (bus *Bus) Write32(addr uint64, value uint32) error {
	return bus.Write(addr, 4, uint64(value))
}

func (bus *Bus) Write64(addr uint64, value uint64) error {
	return bus.Write(addr, 8, value)
}

// Fetch reads a 32-bit instruction. The PC alignment check happens in
// the machine step before calling this.
func (bus *Bus) Fetch(addr uint64) (uint32, error) {
	return bus.Read32(addr)
}

// DMA is the narrow guest-memory capability handed to devices that move
// bulk data (the virtio transport). Accesses target RAM only; device
// ranges are not valid DMA targets.
type DMA interface {
	ReadBytes(addr uint64, p []byte) error
	WriteBytes(addr uint64, p []byte) error
	ReadU16(addr uint64) (uint16, error)
	WriteU16(addr uint64, v uint16) error
	ReadU32(addr uint64) (uint32, error)
	WriteU32(addr uint64, v uint32) error
}

func (bus *Bus) ramSlice(addr uint64, n uint64) ([]byte, error) {
	if addr < bus.ramBase || addr+n > bus.ramBase+bus.RAM.Size() || addr+n < addr {
		return nil, &BusFault{Addr: addr}
	}
	off := addr - bus.ramBase
	return bus.RAM.Data[off : off+n], nil
}

func (bus *Bus) ReadBytes(addr uint64, p []byte) error {
	src, err := bus.ramSlice(addr, uint64(len(p)))
	if err != nil {
		return err
	}
	copy(p, src)
	return nil
}

func (bus *Bus) WriteBytes(addr uint64, p []byte) error {
	dst, err := bus.ramSlice(addr, uint64(len(p)))
	if err != nil {
		return err
	}
	copy(dst, p)
	return nil
}

func (bus *Bus) ReadU16(addr uint64) (uint16, error) {
	var b [2]byte
	if err := bus.ReadBytes(addr, b[:]); err != nil {
		return 0, err
	}
	return guestEndian.Uint16(b[:]), nil
}

func (bus *Bus) WriteU16(addr uint64, v uint16) error {
	var b [2]byte
	guestEndian.PutUint16(b[:], v)
	return bus.WriteBytes(addr, b[:])
}

func (bus *Bus) ReadU32(addr uint64) (uint32, error) {
	var b [4]byte
	if err := bus.ReadBytes(addr, b[:]); err != nil {
		return 0, err
	}
	return guestEndian.Uint32(b[:]), nil
}

func (bus *Bus) WriteU32(addr uint64, v uint32) error {
	var b [4]byte
	guestEndian.PutUint32(b[:], v)
	return bus.WriteBytes(addr, b[:])
}

var _ DMA = (*Bus)(nil)

// LoadBytes copies a loader segment into RAM.
func (bus *Bus) LoadBytes(addr uint64, data []byte) error {
	return bus.WriteBytes(addr, data)
}
