// Package notify plays the audible alert raised for slow samples.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Notifier fires one alert. Callers treat errors as non-fatal.
type Notifier interface {
	Notify(ctx context.Context) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context) error

// Notify implements Notifier.
func (f Func) Notify(ctx context.Context) error {
	return f(ctx)
}

// New builds a notifier by kind: "bell" writes BEL to w, "command" runs
// command, "log" only logs, "none" does nothing.
func New(kind string, command []string, w io.Writer) (Notifier, error) {
	switch kind {
	case "bell", "":
		return NewBell(w), nil
	case "command":
		if len(command) == 0 {
			return nil, errors.New("command notifier needs a command")
		}
		return NewCommand(command[0], command[1:]...), nil
	case "log":
		return Log{}, nil
	case "none":
		return Func(func(context.Context) error { return nil }), nil
	default:
		return nil, fmt.Errorf("unknown notifier: %s", kind)
	}
}

// Bell rings the terminal bell.
type Bell struct {
	w  io.Writer
	mu sync.Mutex
}

// NewBell returns a Bell writing to w.
func NewBell(w io.Writer) *Bell {
	return &Bell{w: w}
}

// Notify implements Notifier.
func (b *Bell) Notify(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, err := b.w.Write([]byte{'\a'})
	return err
}

// Command runs an external player, e.g. paplay with a sound file.
type Command struct {
	name string
	args []string
}

// NewCommand returns a Command running name with args.
func NewCommand(name string, args ...string) *Command {
	return &Command{name: name, args: args}
}

// Notify implements Notifier. It waits for the command to exit.
func (c *Command) Notify(ctx context.Context) error {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, c.name, c.args...)
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", c.name, err, strings.TrimSpace(out.String()))
	}
	return nil
}

// Log records the alert in the log only.
type Log struct{}

// Notify implements Notifier.
func (Log) Notify(ctx context.Context) error {
	log.Warnln("latency above threshold")
	return nil
}
