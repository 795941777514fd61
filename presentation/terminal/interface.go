// Package terminal is the interactive console: a chat loop over the dispatcher and the
// prompt that releases a run paused on a challenge page.
package terminal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"shop_automation/application/agent"
	"shop_automation/application/workflow"
	"shop_automation/domain/entities"

	"github.com/sirupsen/logrus"
)

const (
	prompt          = "You> "
	interruptNotice = "CAPTCHA or verification page detected. Solve it in the browser window, then press Enter to continue."
)

// Handler answers one line of input
type Handler interface {
	Handle(ctx context.Context, input string) agent.Reply
}

// TerminalInterface reads commands and acknowledgments from one reader.
// The workflow runs on the reading goroutine, so a pause prompt never races the chat prompt.
type TerminalInterface struct {
	reader *bufio.Reader
	out    io.Writer
	logger *logrus.Logger
}

// NewTerminalInterface - wraps in and out
func NewTerminalInterface(in io.Reader, out io.Writer, logger *logrus.Logger) *TerminalInterface {
	return &TerminalInterface{
		reader: bufio.NewReader(in),
		out:    out,
		logger: logger,
	}
}

// Acknowledger returns an observer that prints the interrupt notice when a run enters
// AwaitingAcknowledgment and calls ack once the operator presses Enter
func (t *TerminalInterface) Acknowledger(ack func()) workflow.Observer {
	return func(runID string, from, to entities.WorkflowState) {
		if to != entities.StateAwaitingAcknowledgment {
			return
		}
		fmt.Fprintf(t.out, "\n%s\n", interruptNotice)
		if _, err := t.reader.ReadString('\n'); err != nil {
			// nobody left to press Enter; let the run carry on and fail on its own if the page is still blocked
			t.logger.WithError(err).WithField("run_id", runID).Warn("input closed while waiting for acknowledgment")
		}
		ack()
	}
}

// Run is the chat loop. It returns nil on "exit" or end of input.
func (t *TerminalInterface) Run(ctx context.Context, h Handler) error {
	fmt.Fprintln(t.out, "Shop automation agent")
	fmt.Fprintln(t.out, "=====================")
	fmt.Fprintln(t.out, "Commands: 'login', 'search <product>', 'exit'")
	fmt.Fprintln(t.out)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fmt.Fprint(t.out, prompt)
		line, err := t.reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		input := strings.TrimSpace(line)
		if input == "" {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(t.out)
				return nil
			}
			continue
		}

		reply := h.Handle(ctx, input)
		fmt.Fprintf(t.out, "Agent: %s\n", reply.Message)
		if reply.Exit || errors.Is(err, io.EOF) {
			return nil
		}
	}
}
