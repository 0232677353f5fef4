// Package loader places guest ELF images into machine RAM.
package loader

import (
	"debug/elf"
	"fmt"
)

// Memory is the loader's view of the target: segment placement only.
type Memory interface {
	LoadBytes(addr uint64, data []byte) error
}

// LoadELF reads a 64-bit little-endian RISC-V ELF and copies every
// PT_LOAD segment to its guest-physical address. Returns the entry
// point for the hart's reset PC.
func LoadELF(path string, mem Memory) (uint64, error) {
	f, err := elf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open ELF %q: %w", path, err)
	}
	defer f.Close()

	if f.Machine != elf.EM_RISCV {
		return 0, fmt.Errorf("ELF is not RISC-V, got %s", f.Machine)
	}
	if f.Class != elf.ELFCLASS64 {
		return 0, fmt.Errorf("ELF is not 64-bit, got %s", f.Class)
	}
	if f.Data != elf.ELFDATA2LSB {
		return 0, fmt.Errorf("ELF is not little-endian, got %s", f.Data)
	}

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD || prog.Memsz == 0 {
			continue
		}

		data := make([]byte, prog.Memsz)
		if prog.Filesz > 0 {
			if _, err := prog.ReadAt(data[:prog.Filesz], 0); err != nil {
				return 0, fmt.Errorf("read segment at 0x%x: %w", prog.Paddr, err)
			}
		}
		// Memsz beyond Filesz stays zero (BSS).

		if err := mem.LoadBytes(prog.Paddr, data); err != nil {
			return 0, fmt.Errorf("place segment at 0x%x: %w", prog.Paddr, err)
		}
	}

	return f.Entry, nil
}
