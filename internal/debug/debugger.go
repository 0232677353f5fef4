// Package debug is the interactive single-step debugger REPL.
package debug

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/x/ansi"

	"github.com/WanDejun/riscv-emulator/internal/rv64"
)

// ErrQuit is returned when the user asks to leave the debugger; the CLI
// maps it to exit code 1.
var ErrQuit = errors.New("debugger quit")

// Debugger drives a machine one instruction at a time from a command
// prompt.
type Debugger struct {
	m   *rv64.Machine
	in  *bufio.Scanner
	out io.Writer

	breakpoints map[uint64]bool
	color       bool
}

// New creates a debugger reading commands from in and printing to out.
func New(m *rv64.Machine, in io.Reader, out io.Writer, color bool) *Debugger {
	return &Debugger{
		m:           m,
		in:          bufio.NewScanner(in),
		out:         out,
		breakpoints: make(map[uint64]bool),
		color:       color,
	}
}

func (d *Debugger) printf(format string, args ...any) {
	fmt.Fprintf(d.out, format, args...)
}

func (d *Debugger) prompt() string {
	p := fmt.Sprintf("(rvemu) pc=%016x> ", d.m.CPU.PC)
	if d.color {
		return ansi.Style{}.ForegroundColor(ansi.Cyan).Styled(p)
	}
	return p
}

// Run is the REPL loop. It returns nil on guest power-off, ErrQuit on a
// quit command, or the machine's error.
func (d *Debugger) Run() error {
	d.printf("single-step debugger; 'h' for help\n")

	for {
		if d.m.Halted() {
			d.printf("guest powered off\n")
			return nil
		}

		d.printf("%s", d.prompt())
		if !d.in.Scan() {
			return ErrQuit
		}
		fields := strings.Fields(d.in.Text())
		if len(fields) == 0 {
			fields = []string{"s"}
		}

		var err error
		switch fields[0] {
		case "s", "step":
			err = d.step(fields[1:])
		case "c", "continue":
			err = d.cont()
		case "r", "regs":
			d.printf("%s", d.m.DumpState())
		case "m", "mem":
			d.mem(fields[1:])
		case "b", "break":
			d.setBreak(fields[1:])
		case "d", "delete":
			d.breakpoints = make(map[uint64]bool)
			d.printf("breakpoints cleared\n")
		case "q", "quit":
			return ErrQuit
		case "h", "help":
			d.help()
		default:
			d.printf("unknown command %q; 'h' for help\n", fields[0])
		}
		if err != nil {
			return err
		}
	}
}

func (d *Debugger) help() {
	d.printf(`commands:
  s [n]      step one (or n) instructions (default on empty line)
  c          continue until breakpoint or power-off
  r          dump registers
  m addr n   dump n bytes of memory at addr
  b addr     set breakpoint
  d          delete all breakpoints
  q          quit (exit code 1)
`)
}

func (d *Debugger) step(args []string) error {
	n := uint64(1)
	if len(args) > 0 {
		v, err := parseNum(args[0])
		if err != nil {
			d.printf("bad count %q\n", args[0])
			return nil
		}
		n = v
	}
	for i := uint64(0); i < n && !d.m.Halted(); i++ {
		if err := d.m.Step(); err != nil {
			return err
		}
	}
	return nil
}

func (d *Debugger) cont() error {
	for !d.m.Halted() {
		if err := d.m.Step(); err != nil {
			return err
		}
		if d.breakpoints[d.m.CPU.PC] {
			d.printf("breakpoint at %016x\n", d.m.CPU.PC)
			return nil
		}
	}
	return nil
}

func (d *Debugger) mem(args []string) {
	if len(args) < 1 {
		d.printf("usage: m addr [n]\n")
		return
	}
	addr, err := parseNum(args[0])
	if err != nil {
		d.printf("bad address %q\n", args[0])
		return
	}
	n := uint64(64)
	if len(args) > 1 {
		if v, err := parseNum(args[1]); err == nil {
			n = v
		}
	}

	for line := uint64(0); line < n; line += 16 {
		d.printf("%016x: ", addr+line)
		for i := uint64(0); i < 16 && line+i < n; i++ {
			b, err := d.m.Bus.Read8(addr + line + i)
			if err != nil {
				d.printf("?? ")
				continue
			}
			d.printf("%02x ", b)
		}
		d.printf("\n")
	}
}

func (d *Debugger) setBreak(args []string) {
	if len(args) < 1 {
		d.printf("usage: b addr\n")
		return
	}
	addr, err := parseNum(args[0])
	if err != nil {
		d.printf("bad address %q\n", args[0])
		return
	}
	d.breakpoints[addr] = true
	d.printf("breakpoint set at %016x\n", addr)
}

func parseNum(s string) (uint64, error) {
	return strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
}
