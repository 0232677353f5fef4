package debug

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WanDejun/riscv-emulator/internal/rv64"
)

// guestProgram assembles: a few adds, then the power-off store.
func guestProgram(t *testing.T) *rv64.Machine {
	t.Helper()
	code := []uint32{
		0x00500293, // addi t0, zero, 5
		0x00628313, // addi t1, t0, 6
		0x00100537, // lui a0, 0x100     (power base)
		0x000055b7, // lui a1, 0x5
		0x55558593, // addi a1, a1, 0x555
		0x00b51023, // sh a1, 0(a0)
	}
	data := make([]byte, len(code)*4)
	for i, insn := range code {
		data[i*4] = byte(insn)
		data[i*4+1] = byte(insn >> 8)
		data[i*4+2] = byte(insn >> 16)
		data[i*4+3] = byte(insn >> 24)
	}

	m := rv64.NewMachine(rv64.Options{RAMSize: 1 << 20})
	require.NoError(t, m.LoadBytes(0x8000_0000, data))
	m.SetPC(0x8000_0000)
	return m
}

func TestDebuggerStepAndContinue(t *testing.T) {
	m := guestProgram(t)
	out := &bytes.Buffer{}
	d := New(m, strings.NewReader("s\nr\nc\n"), out, false)

	require.NoError(t, d.Run())
	assert.True(t, m.Halted())
	assert.Equal(t, uint64(5), m.CPU.X[5])
	assert.Equal(t, uint64(11), m.CPU.X[6])
	assert.Contains(t, out.String(), "powered off")
}

func TestDebuggerQuit(t *testing.T) {
	m := guestProgram(t)
	d := New(m, strings.NewReader("q\n"), &bytes.Buffer{}, false)
	assert.ErrorIs(t, d.Run(), ErrQuit)
}

func TestDebuggerBreakpoint(t *testing.T) {
	m := guestProgram(t)
	out := &bytes.Buffer{}
	// Break at the third instruction, continue to it, then quit.
	d := New(m, strings.NewReader("b 80000008\nc\nq\n"), out, false)

	assert.ErrorIs(t, d.Run(), ErrQuit)
	assert.False(t, m.Halted())
	assert.Equal(t, uint64(0x8000_0008), m.CPU.PC)
	assert.Contains(t, out.String(), "breakpoint")
}

func TestDebuggerEOFQuits(t *testing.T) {
	m := guestProgram(t)
	d := New(m, strings.NewReader(""), &bytes.Buffer{}, false)
	assert.ErrorIs(t, d.Run(), ErrQuit)
}
