package rv64

// Interrupt delivery order: MEI > MSI > MTI > SEI > SSI > STI.
var interruptPriority = []struct {
	bit   uint64
	cause uint64
}{
	{MipMEIP, CauseMExternalInt},
	{MipMSIP, CauseMSoftwareInt},
	{MipMTIP, CauseMTimerInt},
	{MipSEIP, CauseSExternalInt},
	{MipSSIP, CauseSSoftwareInt},
	{MipSTIP, CauseSTimerInt},
}

// PendingInterrupt selects the interrupt to take before the next fetch,
// honoring mstatus.MIE/SIE for the current privilege and mideleg.
func (cpu *CPU) PendingInterrupt() (uint64, bool) {
	pending := cpu.Mip & cpu.Mie
	if pending == 0 {
		return 0, false
	}

	mEnabled := cpu.Priv < PrivMachine || cpu.Mstatus&MstatusMIE != 0
	sEnabled := cpu.Priv < PrivSupervisor ||
		(cpu.Priv == PrivSupervisor && cpu.Mstatus&MstatusSIE != 0)

	for _, p := range interruptPriority {
		if pending&p.bit == 0 {
			continue
		}
		if cpu.Mideleg&p.bit != 0 {
			if sEnabled {
				return p.cause, true
			}
		} else if mEnabled {
			return p.cause, true
		}
	}
	return 0, false
}

// Trap performs trap entry for an interrupt or synchronous exception.
// cpu.PC must hold the address the relevant xepc should capture: the
// not-yet-executed instruction for interrupts, the faulting instruction
// (including ECALL itself) for exceptions.
func (cpu *CPU) Trap(cause uint64, tval uint64) {
	isInterrupt := cause&interruptFlag != 0
	code := cause &^ interruptFlag

	delegated := false
	if cpu.Priv <= PrivSupervisor {
		if isInterrupt {
			delegated = cpu.Mideleg&(1<<code) != 0
		} else {
			delegated = cpu.Medeleg&(1<<code) != 0
		}
	}

	if delegated {
		cpu.Sepc = cpu.PC
		cpu.Scause = cause
		cpu.Stval = tval

		if cpu.Mstatus&MstatusSIE != 0 {
			cpu.Mstatus |= MstatusSPIE
		} else {
			cpu.Mstatus &^= MstatusSPIE
		}
		cpu.Mstatus &^= MstatusSIE

		if cpu.Priv == PrivSupervisor {
			cpu.Mstatus |= MstatusSPP
		} else {
			cpu.Mstatus &^= MstatusSPP
		}
		cpu.Priv = PrivSupervisor
		cpu.PC = trapVector(cpu.Stvec, isInterrupt, code)
		return
	}

	cpu.Mepc = cpu.PC
	cpu.Mcause = cause
	cpu.Mtval = tval

	if cpu.Mstatus&MstatusMIE != 0 {
		cpu.Mstatus |= MstatusMPIE
	} else {
		cpu.Mstatus &^= MstatusMPIE
	}
	cpu.Mstatus &^= MstatusMIE

	cpu.Mstatus = cpu.Mstatus&^MstatusMPP | uint64(cpu.Priv)<<MstatusMPPShift
	cpu.Priv = PrivMachine
	cpu.PC = trapVector(cpu.Mtvec, isInterrupt, code)
}

// trapVector applies Direct or Vectored addressing. Only interrupts
// vector; exceptions always enter at the base.
func trapVector(tvec uint64, isInterrupt bool, code uint64) uint64 {
	base := tvec &^ 3
	if isInterrupt && tvec&3 == 1 {
		return base + 4*code
	}
	return base
}

// Mret returns from a machine-mode trap.
func (cpu *CPU) Mret() error {
	if cpu.Priv < PrivMachine {
		return Exception(CauseIllegalInsn, 0)
	}
	cpu.Priv = uint8(cpu.Mstatus >> MstatusMPPShift & 3)
	if cpu.Mstatus&MstatusMPIE != 0 {
		cpu.Mstatus |= MstatusMIE
	} else {
		cpu.Mstatus &^= MstatusMIE
	}
	cpu.Mstatus |= MstatusMPIE
	cpu.Mstatus &^= MstatusMPP
	cpu.PC = cpu.Mepc
	return nil
}

// Sret returns from a supervisor-mode trap.
func (cpu *CPU) Sret() error {
	if cpu.Priv < PrivSupervisor {
		return Exception(CauseIllegalInsn, 0)
	}
	if cpu.Mstatus&MstatusSPP != 0 {
		cpu.Priv = PrivSupervisor
	} else {
		cpu.Priv = PrivUser
	}
	if cpu.Mstatus&MstatusSPIE != 0 {
		cpu.Mstatus |= MstatusSIE
	} else {
		cpu.Mstatus &^= MstatusSIE
	}
	cpu.Mstatus |= MstatusSPIE
	cpu.Mstatus &^= MstatusSPP
	cpu.PC = cpu.Sepc
	return nil
}
