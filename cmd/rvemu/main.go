// Command rvemu runs a free-standing RV64 ELF on an emulated virt board.
//
// Exit codes: 0 guest power-off, 1 debugger quit, 2 emulator error.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/pkg/profile"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	"github.com/WanDejun/riscv-emulator/internal/config"
	"github.com/WanDejun/riscv-emulator/internal/debug"
	"github.com/WanDejun/riscv-emulator/internal/loader"
	"github.com/WanDejun/riscv-emulator/internal/rv64"
)

func main() {
	app := &cli.App{
		Name:      "rvemu",
		Usage:     "RV64 virt-board emulator",
		ArgsUsage: "<elf>",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "device",
				Usage: "attach a device, e.g. virtio-block:disk.img",
			},
			&cli.BoolFlag{
				Name:    "debugger",
				Aliases: []string{"g"},
				Usage:   "start in the single-step debugger",
			},
			&cli.StringFlag{
				Name:  "loglevel",
				Value: "warn",
				Usage: "log level: debug, info, warn, error",
			},
			&cli.PathFlag{
				Name:  "config",
				Usage: "YAML board configuration",
			},
			&cli.BoolFlag{
				Name:  "cpuprofile",
				Usage: "write a CPU profile to the current directory",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		if errors.Is(err, debug.ErrQuit) {
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "rvemu: %v\n", err)
		os.Exit(2)
	}
}

func run(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("expected exactly one ELF image, got %d args", ctx.NArg())
	}

	if ctx.Bool("cpuprofile") {
		defer profile.Start(profile.ProfilePath("."), profile.CPUProfile).Stop()
	}

	logger, err := newLogger(ctx.String("loglevel"))
	if err != nil {
		return err
	}

	cfg := &config.Config{}
	if path := ctx.Path("config"); path != "" {
		cfg, err = config.Load(path)
		if err != nil {
			return err
		}
	}
	for _, val := range ctx.StringSlice("device") {
		dev, err := config.ParseDeviceFlag(val)
		if err != nil {
			return err
		}
		cfg.Devices = append(cfg.Devices, dev)
	}

	var blocks []*rv64.BlockDevice
	for _, dev := range cfg.Devices {
		blk, err := rv64.OpenBlockDevice(dev.Path)
		if err != nil {
			return err
		}
		blocks = append(blocks, blk)
		logger.Info("attached virtio block device",
			"path", dev.Path, "sectors", blk.Capacity())
	}

	m := rv64.NewMachine(rv64.Options{
		RAMSize: cfg.RAMSize,
		Output:  os.Stdout,
		Blocks:  blocks,
		Logger:  logger,
	})
	defer m.Close()

	entry, err := loader.LoadELF(ctx.Args().First(), m)
	if err != nil {
		return err
	}
	m.SetPC(entry)
	logger.Info("image loaded", "entry", fmt.Sprintf("0x%x", entry))

	if ctx.Bool("debugger") {
		color := term.IsTerminal(int(os.Stdout.Fd()))
		return debug.New(m, os.Stdin, os.Stdout, color).Run()
	}

	restore := startConsole(m, logger)
	defer restore()

	return m.Run(context.Background())
}

// startConsole pumps stdin into the UART receive queue. With a TTY the
// terminal switches to raw mode so the guest sees individual keys.
func startConsole(m *rv64.Machine, logger *slog.Logger) func() {
	fd := int(os.Stdin.Fd())
	restore := func() {}

	if term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err != nil {
			logger.Warn("raw mode unavailable", "err", err)
		} else {
			restore = func() { term.Restore(fd, state) }
		}
	}

	go func() {
		buf := make([]byte, 256)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				m.UART.EnqueueInput(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()

	return restore
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn", "":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}
