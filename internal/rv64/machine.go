package rv64

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

// ExitReason says why the core loop stopped.
type ExitReason int

const (
	ExitNone ExitReason = iota
	ExitPowerOff
)

// Machine is a complete virt board: one hart, RAM and the device set.
type Machine struct {
	CPU   *CPU
	Bus   *Bus
	CLINT *CLINT
	PLIC  *PLIC
	UART  *UART

	blocks []*BlockDevice

	log    *slog.Logger
	halted bool
	reason ExitReason
}

// Options configures a new machine.
type Options struct {
	// RAMSize defaults to the board's 128 MiB when zero.
	RAMSize uint64

	// Output receives UART transmit bytes.
	Output io.Writer

	// Blocks are backing stores for virtio block slots, in slot order.
	Blocks []*BlockDevice

	Logger *slog.Logger
}

// NewMachine wires the board: CLINT and PLIC outputs drive mip bits,
// every other device gets an IRQ line or DMA capability but never a
// reference into the hart.
func NewMachine(opts Options) *Machine {
	if opts.RAMSize == 0 {
		opts.RAMSize = RAMSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	bus := NewBus(opts.RAMSize)
	cpu := NewCPU(bus)

	m := &Machine{
		CPU:    cpu,
		Bus:    bus,
		log:    logger,
		blocks: opts.Blocks,
	}

	m.CLINT = NewCLINT(mipLine{cpu, MipMTIP}, mipLine{cpu, MipMSIP})
	m.PLIC = NewPLIC(mipLine{cpu, MipMEIP}, mipLine{cpu, MipSEIP})
	m.UART = NewUART(opts.Output, m.PLIC.Line(UARTIRQ))

	bus.Map(CLINTBase, m.CLINT)
	bus.Map(PLICBase, m.PLIC)
	bus.Map(UARTBase, m.UART)
	bus.Map(PowerBase, NewPower(m.powerOff))
	bus.Map(TestDevBase, NewTestDevice(m.PLIC.Line(TestDevIRQ)))

	for i, blk := range opts.Blocks {
		slot := uint64(i)
		mmio := NewVirtIOMMIO(blk, bus, m.PLIC.Line(VirtIOIRQ0+uint32(i)), logger)
		bus.Map(VirtIOBase+slot*VirtIOSize, mmio)
	}

	return m
}

func (m *Machine) powerOff() {
	m.halted = true
	m.reason = ExitPowerOff
	m.log.Debug("power-off requested by guest")
}

// Close releases device resources (the block backing files).
func (m *Machine) Close() error {
	var firstErr error
	for _, blk := range m.blocks {
		if err := blk.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Halted reports whether the guest has powered off.
func (m *Machine) Halted() bool { return m.halted }

// Reason returns why the machine stopped.
func (m *Machine) Reason() ExitReason { return m.reason }

// SetPC points the hart at the loaded image's entry.
func (m *Machine) SetPC(pc uint64) { m.CPU.PC = pc }

// LoadBytes copies a loader segment into guest RAM.
func (m *Machine) LoadBytes(addr uint64, data []byte) error {
	return m.Bus.LoadBytes(addr, data)
}

// Step runs one core-loop iteration: advance the timer, take a pending
// interrupt or execute exactly one instruction. Device work triggered by
// an MMIO store completes inside the store. A non-nil error is an
// emulator-level failure, never a guest-visible trap.
func (m *Machine) Step() error {
	m.Bus.Tick(1)

	cpu := m.CPU

	if cpu.WFI {
		if cpu.Mip&cpu.Mie == 0 {
			cpu.Cycle++
			return nil
		}
		cpu.WFI = false
	}

	if cause, ok := cpu.PendingInterrupt(); ok {
		// mepc captures the not-yet-executed instruction.
		cpu.Trap(cause, 0)
		return m.checkVector()
	}

	pc := cpu.PC
	if pc&3 != 0 {
		cpu.Trap(CauseInsnAddrMisaligned, pc)
		return m.checkVector()
	}

	insn, err := m.Bus.Fetch(pc)
	if err != nil {
		cpu.Trap(CauseInsnAccessFault, pc)
		return m.checkVector()
	}

	if err := cpu.Execute(insn); err != nil {
		exc, ok := err.(ExceptionError)
		if !ok {
			return fmt.Errorf("at PC=0x%x: %w", pc, err)
		}
		// Exceptions point xepc at the faulting instruction, ECALL
		// included; the handler advances past it.
		cpu.PC = pc
		cpu.Trap(exc.Cause, exc.Tval)
		return m.checkVector()
	}

	if cpu.PC == pc {
		cpu.PC += 4
	}
	cpu.Cycle++
	cpu.Instret++
	return nil
}

// checkVector aborts when a trap lands at PC 0: the guest installed no
// handler and would spin through reset forever.
func (m *Machine) checkVector() error {
	if m.CPU.PC == 0 {
		return fmt.Errorf("trap with no handler: mcause=%#x mtval=%#x mepc=%#x\n%s",
			m.CPU.Mcause, m.CPU.Mtval, m.CPU.Mepc, m.DumpState())
	}
	return nil
}

// Run executes until power-off, an emulator error, or ctx cancellation.
func (m *Machine) Run(ctx context.Context) error {
	const pollEvery = 65536
	for !m.halted {
		for i := 0; i < pollEvery && !m.halted; i++ {
			if err := m.Step(); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

var regNames = [32]string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

// DumpState formats the hart state for diagnostics.
func (m *Machine) DumpState() string {
	cpu := m.CPU
	s := fmt.Sprintf("pc=%016x priv=%d mstatus=%016x mcause=%016x mepc=%016x mtval=%016x\n",
		cpu.PC, cpu.Priv, cpu.Mstatus, cpu.Mcause, cpu.Mepc, cpu.Mtval)
	for i := 0; i < 32; i += 4 {
		s += fmt.Sprintf("%-4s=%016x %-4s=%016x %-4s=%016x %-4s=%016x\n",
			regNames[i], cpu.X[i], regNames[i+1], cpu.X[i+1],
			regNames[i+2], cpu.X[i+2], regNames[i+3], cpu.X[i+3])
	}
	return s
}
