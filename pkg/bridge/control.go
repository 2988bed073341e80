package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Command is one control request.
type Command struct {
	Command string `json:"command"`
	// Port pins the bridge for "start". Zero selects automatic mode.
	Port int `json:"port,omitempty"`
}

// Control commands.
const (
	CmdStart  = "start"
	CmdStop   = "stop"
	CmdStatus = "status"
)

// Controller drives a Bridge from newline-delimited JSON commands and
// answers each with one Status line.
type Controller struct {
	bridge *Bridge

	mu  sync.Mutex
	out *json.Encoder
}

// NewController returns a controller writing replies to w.
func NewController(b *Bridge, w io.Writer) *Controller {
	return &Controller{bridge: b, out: json.NewEncoder(w)}
}

// Run reads commands from r until EOF or ctx is done. Malformed lines are
// answered with an error status and do not stop the loop.
func (c *Controller) Run(ctx context.Context, r io.Reader) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := c.reply(c.Handle(ctx, line)); err != nil {
			return fmt.Errorf("write status: %w", err)
		}
	}
	return sc.Err()
}

// Handle executes one encoded command.
func (c *Controller) Handle(ctx context.Context, line []byte) Status {
	var cmd Command
	if err := json.Unmarshal(line, &cmd); err != nil {
		return Status{Error: fmt.Sprintf("malformed command: %v", err)}
	}
	switch cmd.Command {
	case CmdStart:
		return c.bridge.Start(ctx, cmd.Port)
	case CmdStop:
		return c.bridge.Stop()
	case CmdStatus:
		return c.bridge.Status()
	}
	return Status{Error: fmt.Sprintf("unknown command %q", cmd.Command)}
}

func (c *Controller) reply(st Status) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.Encode(st)
}
