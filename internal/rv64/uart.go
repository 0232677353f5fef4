package rv64

import (
	"io"
	"sync"
)

// UART register offsets (16550 subset).
const (
	UARTRegRBR = 0 // receive buffer (read) / transmit holding (write)
	UARTRegTHR = 0
	UARTRegIER = 1
	UARTRegIIR = 2 // read; FCR on write
	UARTRegLCR = 3
	UARTRegMCR = 4
	UARTRegLSR = 5
	UARTRegMSR = 6
	UARTRegSCR = 7
)

// LSR bits.
const (
	UARTLSRDataReady = 1 << 0
	UARTLSRTHREmpty  = 1 << 5
	UARTLSRTxEmpty   = 1 << 6
)

// IER bits.
const uartIERRxAvail = 1 << 0

// UART is a 16550 subset: byte TX to a host sink, byte RX from a host
// queue, LSR status and a receive-available interrupt into the PLIC.
// The transmitter never stalls, so THRE/TEMT are always set.
type UART struct {
	Output io.Writer

	// mu guards the receive queue; the host console pump feeds it from
	// a separate goroutine.
	mu sync.Mutex
	rx []byte

	ier uint8
	scr uint8
	lcr uint8
	mcr uint8

	irq IRQLine
}

// NewUART creates a UART writing TX bytes to output and interrupting on
// the given PLIC line.
func NewUART(output io.Writer, irq IRQLine) *UART {
	return &UART{Output: output, irq: irq}
}

func (u *UART) Size() uint64 { return UARTSize }

func (u *UART) Read(offset uint64, size int) (uint64, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	switch offset {
	case UARTRegRBR:
		if len(u.rx) == 0 {
			return 0, nil
		}
		b := u.rx[0]
		u.rx = u.rx[1:]
		u.updateIRQ()
		return uint64(b), nil
	case UARTRegIER:
		return uint64(u.ier), nil
	case UARTRegIIR:
		if u.ier&uartIERRxAvail != 0 && len(u.rx) > 0 {
			return 0x04, nil // receive data available
		}
		return 0x01, nil // no interrupt pending
	case UARTRegLCR:
		return uint64(u.lcr), nil
	case UARTRegMCR:
		return uint64(u.mcr), nil
	case UARTRegLSR:
		lsr := uint64(UARTLSRTHREmpty | UARTLSRTxEmpty)
		if len(u.rx) > 0 {
			lsr |= UARTLSRDataReady
		}
		return lsr, nil
	case UARTRegSCR:
		return uint64(u.scr), nil
	}
	return 0, nil
}

func (u *UART) Write(offset uint64, size int, value uint64) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	switch offset {
	case UARTRegTHR:
		if u.Output != nil {
			u.Output.Write([]byte{byte(value)})
		}
	case UARTRegIER:
		u.ier = uint8(value)
		u.updateIRQ()
	case UARTRegLCR:
		u.lcr = uint8(value)
	case UARTRegMCR:
		u.mcr = uint8(value)
	case UARTRegSCR:
		u.scr = uint8(value)
	}
	return nil
}

// EnqueueInput appends host input for the guest to read. Safe to call
// from the console pump goroutine; the interrupt line is only touched
// from the core loop via Tick.
func (u *UART) EnqueueInput(data []byte) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.rx = append(u.rx, data...)
}

// Tick re-evaluates the interrupt line once per core-loop iteration, so
// externally enqueued input surfaces at a defined sampling point.
func (u *UART) Tick(delta uint64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.updateIRQ()
}

// updateIRQ drives the PLIC line: high while data is ready and the
// receive interrupt is enabled. Called with mu held.
func (u *UART) updateIRQ() {
	u.irq.Set(u.ier&uartIERRxAvail != 0 && len(u.rx) > 0)
}

var _ Device = (*UART)(nil)
