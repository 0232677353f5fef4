package rv64

// AMO funct5 values.
const (
	amoAdd  = 0b00000
	amoSwap = 0b00001
	amoLr   = 0b00010
	amoSc   = 0b00011
	amoXor  = 0b00100
	amoOr   = 0b01000
	amoAnd  = 0b01100
	amoMin  = 0b10000
	amoMax  = 0b10100
	amoMinu = 0b11000
	amoMaxu = 0b11100
)

// execAMO executes LR/SC and the AMO read-modify-writes. AMO addresses
// must be naturally aligned; misalignment reports the store/AMO cause
// even for the load half.
func (cpu *CPU) execAMO(insn uint32) error {
	addr := cpu.ReadReg(rs1(insn))
	src := cpu.ReadReg(rs2(insn))
	f5 := funct7(insn) >> 2

	var width int
	switch funct3(insn) {
	case 0b010:
		width = 4
	case 0b011:
		width = 8
	default:
		return Exception(CauseIllegalInsn, uint64(insn))
	}
	if addr&uint64(width-1) != 0 {
		return Exception(CauseStoreAddrMisaligned, addr)
	}

	load := func() (uint64, error) {
		v, err := cpu.Bus.Read(addr, width)
		if err != nil {
			return 0, Exception(CauseLoadAccessFault, addr)
		}
		if width == 4 {
			v = uint64(int32(v))
		}
		return v, nil
	}
	store := func(v uint64) error {
		if err := cpu.Bus.Write(addr, width, v); err != nil {
			return Exception(CauseStoreAccessFault, addr)
		}
		return nil
	}

	switch f5 {
	case amoLr:
		val, err := load()
		if err != nil {
			return err
		}
		cpu.WriteReg(rd(insn), val)
		cpu.Reservation = addr
		cpu.ReservationValid = true
		return nil

	case amoSc:
		if !cpu.ReservationValid || cpu.Reservation != addr {
			cpu.ReservationValid = false
			cpu.WriteReg(rd(insn), 1)
			return nil
		}
		if err := store(src); err != nil {
			return err
		}
		cpu.ReservationValid = false
		cpu.WriteReg(rd(insn), 0)
		return nil
	}

	old, err := load()
	if err != nil {
		return err
	}

	var newVal uint64
	switch f5 {
	case amoSwap:
		newVal = src
	case amoAdd:
		newVal = old + src
	case amoXor:
		newVal = old ^ src
	case amoAnd:
		newVal = old & src
	case amoOr:
		newVal = old | src
	case amoMin:
		newVal = pick(int64(old) < int64(asWidth(src, width)), old, src)
	case amoMax:
		newVal = pick(int64(old) > int64(asWidth(src, width)), old, src)
	case amoMinu:
		newVal = pick(uintWidth(old, width) < uintWidth(src, width), old, src)
	case amoMaxu:
		newVal = pick(uintWidth(old, width) > uintWidth(src, width), old, src)
	default:
		return Exception(CauseIllegalInsn, uint64(insn))
	}

	if err := store(newVal); err != nil {
		return err
	}
	cpu.invalidateReservation(addr)
	cpu.WriteReg(rd(insn), old)
	return nil
}

// invalidateReservation drops the LR reservation when a store hits the
// reserved address.
func (cpu *CPU) invalidateReservation(addr uint64) {
	if cpu.ReservationValid && cpu.Reservation&^7 == addr&^7 {
		cpu.ReservationValid = false
	}
}

func pick(cond bool, a, b uint64) uint64 {
	if cond {
		return a
	}
	return b
}

// asWidth sign-extends a W-operation operand for signed comparison.
func asWidth(v uint64, width int) uint64 {
	if width == 4 {
		return uint64(int64(int32(v)))
	}
	return v
}

// uintWidth truncates a W-operation operand for unsigned comparison.
func uintWidth(v uint64, width int) uint64 {
	if width == 4 {
		return uint64(uint32(v))
	}
	return v
}
