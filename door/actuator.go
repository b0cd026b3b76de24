// Package door drives a physical lock from access notifications.
package door

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
)

// Actuator opens and closes the lock.
type Actuator interface {
	Engage(ctx context.Context) error
	Release(ctx context.Context) error
}

// LogActuator only logs. It stands in for hardware on development hosts.
type LogActuator struct {
	Logger *slog.Logger
}

func (a LogActuator) Engage(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "lock engaged")
	return nil
}

func (a LogActuator) Release(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "lock released")
	return nil
}

// Command is an external program and its arguments.
type Command struct {
	Binary string
	Args   []string
	Env    []string
}

// ParseCommand splits argv into a Command. An empty argv yields the zero
// Command, which runs nothing.
func ParseCommand(argv []string) Command {
	if len(argv) == 0 {
		return Command{}
	}

	return Command{Binary: argv[0], Args: argv[1:]}
}

// CommandActuator runs one program to engage the lock and another to
// release it, such as a GPIO helper.
type CommandActuator struct {
	EngageCmd  Command
	ReleaseCmd Command
	Logger     *slog.Logger
}

func (a CommandActuator) Engage(ctx context.Context) error {
	return a.run(ctx, "engage", a.EngageCmd)
}

func (a CommandActuator) Release(ctx context.Context) error {
	return a.run(ctx, "release", a.ReleaseCmd)
}

func (a CommandActuator) run(ctx context.Context, step string, c Command) error {
	if c.Binary == "" {
		return nil
	}

	cmd := exec.CommandContext(ctx, c.Binary, c.Args...)
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	var stderr bytes.Buffer
	cmd.Stdout = os.Stderr
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s lock: %w\nstderr: %s", step, err, stderr.String())
	}

	if a.Logger != nil {
		a.Logger.DebugContext(ctx, "lock command finished",
			slog.String("step", step),
			slog.String("binary", c.Binary),
		)
	}

	return nil
}
