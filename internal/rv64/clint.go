package rv64

// CLINT register offsets.
const (
	CLINTMsip     = 0x0000
	CLINTMtimecmp = 0x4000
	CLINTMtime    = 0xbff8
)

// CLINT provides the machine timer and software interrupt for hart 0.
// mtime is a virtual clock advanced by the core loop once per iteration
// (retired instruction, trap entry or WFI stall), which keeps runs
// deterministic for a given image.
type CLINT struct {
	mtime    uint64
	mtimecmp uint64
	msip     uint32

	mti IRQLine
	msi IRQLine
}

// NewCLINT creates a CLINT whose timer and software interrupt outputs
// drive the given lines.
func NewCLINT(mti, msi IRQLine) *CLINT {
	return &CLINT{
		mtimecmp: ^uint64(0),
		mti:      mti,
		msi:      msi,
	}
}

func (c *CLINT) Size() uint64 { return CLINTSize }

// Mtime returns the current timer value.
func (c *CLINT) Mtime() uint64 { return c.mtime }

// Tick advances mtime and updates the timer interrupt line. MTI is
// pending exactly while mtime >= mtimecmp.
func (c *CLINT) Tick(delta uint64) {
	c.mtime += delta
	c.mti.Set(c.mtime >= c.mtimecmp)
}

func (c *CLINT) Read(offset uint64, size int) (uint64, error) {
	switch {
	case offset >= CLINTMsip && offset < CLINTMsip+4:
		return uint64(c.msip), nil
	case offset >= CLINTMtimecmp && offset < CLINTMtimecmp+8:
		return readWord(c.mtimecmp, offset-CLINTMtimecmp, size), nil
	case offset >= CLINTMtime && offset < CLINTMtime+8:
		return readWord(c.mtime, offset-CLINTMtime, size), nil
	}
	return 0, nil
}

func (c *CLINT) Write(offset uint64, size int, value uint64) error {
	switch {
	case offset >= CLINTMsip && offset < CLINTMsip+4:
		c.msip = uint32(value) & 1
		c.msi.Set(c.msip != 0)

	case offset >= CLINTMtimecmp && offset < CLINTMtimecmp+8:
		c.mtimecmp = writeWord(c.mtimecmp, offset-CLINTMtimecmp, size, value)
		c.mti.Set(c.mtime >= c.mtimecmp)

	case offset >= CLINTMtime && offset < CLINTMtime+8:
		c.mtime = writeWord(c.mtime, offset-CLINTMtime, size, value)
		c.mti.Set(c.mtime >= c.mtimecmp)
	}
	return nil
}

// readWord extracts a 4-byte half or the full value of a 64-bit register.
func readWord(reg uint64, off uint64, size int) uint64 {
	if size == 8 {
		return reg
	}
	return uint64(uint32(reg >> (off * 8)))
}

// writeWord merges a 4-byte half or replaces the full 64-bit register.
func writeWord(reg uint64, off uint64, size int, value uint64) uint64 {
	if size == 8 {
		return value
	}
	shift := off * 8
	return reg&^(0xffffffff<<shift) | (value&0xffffffff)<<shift
}

var _ Device = (*CLINT)(nil)
