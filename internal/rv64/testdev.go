package rv64

// Test device register offsets.
const (
	testDevCtrl  = 0x0
	testDevMask  = 0x4
	testDevData0 = 0x8
	testDevData1 = 0xc
)

// TestDevice is a tiny MMIO peripheral used by interrupt test guests:
// writing bit 0 of the control register pulses PLIC source 63. Two
// scratch data registers round-trip values.
type TestDevice struct {
	mask  uint32
	data0 uint32
	data1 uint32

	irq IRQLine
}

// NewTestDevice creates the test device on the given PLIC line.
func NewTestDevice(irq IRQLine) *TestDevice {
	return &TestDevice{irq: irq}
}

func (t *TestDevice) Size() uint64 { return TestDevSize }

func (t *TestDevice) Read(offset uint64, size int) (uint64, error) {
	switch offset {
	case testDevCtrl:
		return 0, nil
	case testDevMask:
		return uint64(t.mask), nil
	case testDevData0:
		return uint64(t.data0), nil
	case testDevData1:
		return uint64(t.data1), nil
	}
	return 0, nil
}

func (t *TestDevice) Write(offset uint64, size int, value uint64) error {
	switch offset {
	case testDevCtrl:
		if value&1 != 0 && t.mask&1 == 0 {
			// Pulse: the PLIC latches the edge as pending.
			t.irq.Set(true)
			t.irq.Set(false)
		}
	case testDevMask:
		t.mask = uint32(value)
	case testDevData0:
		t.data0 = uint32(value)
	case testDevData1:
		t.data1 = uint32(value)
	}
	return nil
}

var _ Device = (*TestDevice)(nil)
