package rv64

// Minimal instruction encoders so tests assemble their guest programs
// inline. Registers are plain numbers (10 = a0, 11 = a1, ...).

func encR(f7, rs2, rs1, f3, rd, op uint32) uint32 {
	return f7<<25 | rs2<<20 | rs1<<15 | f3<<12 | rd<<7 | op
}

func encI(imm int32, rs1, f3, rd, op uint32) uint32 {
	return uint32(imm)<<20 | rs1<<15 | f3<<12 | rd<<7 | op
}

func encS(imm int32, rs2, rs1, f3, op uint32) uint32 {
	u := uint32(imm)
	return u>>5&0x7f<<25 | rs2<<20 | rs1<<15 | f3<<12 | u&0x1f<<7 | op
}

func encB(imm int32, rs2, rs1, f3, op uint32) uint32 {
	u := uint32(imm)
	return u>>12&1<<31 | u>>5&0x3f<<25 | rs2<<20 | rs1<<15 |
		f3<<12 | u>>1&0xf<<8 | u>>11&1<<7 | op
}

func encU(imm20, rd, op uint32) uint32 {
	return imm20<<12 | rd<<7 | op
}

func encJ(imm int32, rd, op uint32) uint32 {
	u := uint32(imm)
	return u>>20&1<<31 | u>>1&0x3ff<<21 | u>>11&1<<20 | u>>12&0xff<<12 | rd<<7 | op
}

func insnADDI(rd, rs1 uint32, imm int32) uint32 { return encI(imm, rs1, 0b000, rd, OpOpImm) }
func insnANDI(rd, rs1 uint32, imm int32) uint32 { return encI(imm, rs1, 0b111, rd, OpOpImm) }
func insnLUI(rd, imm20 uint32) uint32           { return encU(imm20, rd, OpLui) }
func insnADD(rd, rs1, rs2 uint32) uint32        { return encR(0, rs2, rs1, 0b000, rd, OpOp) }
func insnSUB(rd, rs1, rs2 uint32) uint32        { return encR(0b0100000, rs2, rs1, 0b000, rd, OpOp) }
func insnMUL(rd, rs1, rs2 uint32) uint32        { return encR(1, rs2, rs1, 0b000, rd, OpOp) }
func insnDIV(rd, rs1, rs2 uint32) uint32        { return encR(1, rs2, rs1, 0b100, rd, OpOp) }
func insnREM(rd, rs1, rs2 uint32) uint32        { return encR(1, rs2, rs1, 0b110, rd, OpOp) }

func insnLB(rd, rs1 uint32, imm int32) uint32  { return encI(imm, rs1, 0b000, rd, OpLoad) }
func insnLW(rd, rs1 uint32, imm int32) uint32  { return encI(imm, rs1, 0b010, rd, OpLoad) }
func insnLD(rd, rs1 uint32, imm int32) uint32  { return encI(imm, rs1, 0b011, rd, OpLoad) }
func insnSB(rs2, rs1 uint32, imm int32) uint32 { return encS(imm, rs2, rs1, 0b000, OpStore) }
func insnSH(rs2, rs1 uint32, imm int32) uint32 { return encS(imm, rs2, rs1, 0b001, OpStore) }
func insnSW(rs2, rs1 uint32, imm int32) uint32 { return encS(imm, rs2, rs1, 0b010, OpStore) }
func insnSD(rs2, rs1 uint32, imm int32) uint32 { return encS(imm, rs2, rs1, 0b011, OpStore) }

func insnJAL(rd uint32, imm int32) uint32       { return encJ(imm, rd, OpJal) }
func insnBNE(rs1, rs2 uint32, imm int32) uint32 { return encB(imm, rs2, rs1, 0b001, OpBranch) }
func insnBEQ(rs1, rs2 uint32, imm int32) uint32 { return encB(imm, rs2, rs1, 0b000, OpBranch) }

func insnCSRRW(rd, csr, rs1 uint32) uint32 { return encI(int32(csr), rs1, 0b001, rd, OpSystem) }
func insnCSRRS(rd, csr, rs1 uint32) uint32 { return encI(int32(csr), rs1, 0b010, rd, OpSystem) }

const (
	insnECALL  uint32 = 0x00000073
	insnEBREAK uint32 = 0x00100073
	insnMRET   uint32 = 0x30200073
	insnWFI    uint32 = 0x10500073
)

func insnSLLI(rd, rs1, sh uint32) uint32 { return encI(int32(sh), rs1, 0b001, rd, OpOpImm) }
func insnSRLI(rd, rs1, sh uint32) uint32 { return encI(int32(sh), rs1, 0b101, rd, OpOpImm) }

// li64 materializes any 64-bit constant with shift-and-add chunks.
func li64(rd uint32, val uint64) []uint32 {
	prog := []uint32{insnADDI(rd, 0, int32(val>>55))}
	for shift := 44; shift >= 0; shift -= 11 {
		prog = append(prog, insnSLLI(rd, rd, 11))
		if chunk := int32(val >> uint(shift) & 0x7ff); chunk != 0 {
			prog = append(prog, insnADDI(rd, rd, chunk))
		}
	}
	return prog
}

// li32 loads a 32-bit constant into rd with LUI/ADDI. The low 32 bits of
// rd equal val; the upper 32 bits are all ones when val >= 0x7ffff800
// (LUI sign-extends) and zero otherwise.
func li32(rd uint32, val uint32) []uint32 {
	upper := val >> 12
	lower := int32(val & 0xfff)
	if lower >= 0x800 {
		upper++
		lower -= 0x1000
	}
	if upper == 0 {
		return []uint32{insnADDI(rd, 0, lower)}
	}
	return []uint32{insnLUI(rd, upper&0xfffff), insnADDI(rd, rd, lower)}
}

// powerOff stores the shutdown code to the power controller.
func powerOff() []uint32 {
	prog := li32(10, uint32(PowerBase))
	prog = append(prog, li32(11, PowerOffCode)...)
	return append(prog, insnSH(11, 10, 0))
}
