package terminal

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"shop_automation/application/agent"
	"shop_automation/application/workflow"
	"shop_automation/domain/entities"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedHandler struct {
	inputs  []string
	replies map[string]agent.Reply
}

func (h *scriptedHandler) Handle(_ context.Context, input string) agent.Reply {
	h.inputs = append(h.inputs, input)
	if r, ok := h.replies[input]; ok {
		return r
	}
	return agent.Reply{Message: "ok"}
}

func quiet() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestRunStopsOnExit(t *testing.T) {
	in := strings.NewReader("\n  search Samsung  \nexit\nlogin\n")
	var out bytes.Buffer
	h := &scriptedHandler{replies: map[string]agent.Reply{
		"exit": {Message: "Conversation ended.", Exit: true},
	}}

	term := NewTerminalInterface(in, &out, quiet())
	require.NoError(t, term.Run(context.Background(), h))

	assert.Equal(t, []string{"search Samsung", "exit"}, h.inputs, "blank lines skipped, nothing read after exit")
	assert.Contains(t, out.String(), "You> ")
	assert.Contains(t, out.String(), "Agent: ok\n")
	assert.Contains(t, out.String(), "Agent: Conversation ended.\n")
}

func TestRunEndsOnEOF(t *testing.T) {
	h := &scriptedHandler{}
	var out bytes.Buffer
	term := NewTerminalInterface(strings.NewReader("login"), &out, quiet())

	require.NoError(t, term.Run(context.Background(), h))
	assert.Equal(t, []string{"login"}, h.inputs, "last line without newline is still handled")
}

func TestRunWithDispatcher(t *testing.T) {
	d := agent.NewDispatcher(nil, "https://www.demoblaze.com/", entities.Credentials{}, quiet())
	var out bytes.Buffer
	term := NewTerminalInterface(strings.NewReader("hello\nsearch\nexit\n"), &out, quiet())

	require.NoError(t, term.Run(context.Background(), d))
	assert.Contains(t, out.String(), "Agent: I didn't understand. Try 'login', 'search <something>', or 'exit'.")
	assert.Contains(t, out.String(), "Agent: Could not parse a search term")
	assert.Contains(t, out.String(), "Agent: Conversation ended.")
	assert.Equal(t, []string{"hello", "search", "exit"}, d.Conversation().History())
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	term := NewTerminalInterface(strings.NewReader("login\n"), io.Discard, quiet())
	assert.ErrorIs(t, term.Run(ctx, &scriptedHandler{}), context.Canceled)
}

func TestAcknowledgerWaitsForEnter(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminalInterface(strings.NewReader("\nsearch Nokia\n"), &out, quiet())
	gate := workflow.NewGate()
	acks := 0
	observe := term.Acknowledger(func() {
		acks++
		gate.Acknowledge()
	})

	observe("run-1", entities.StateInitializing, entities.StateAuthenticating)
	assert.Equal(t, 0, acks)
	assert.Empty(t, out.String())

	observe("run-1", entities.StateAuthenticating, entities.StateAwaitingAcknowledgment)
	assert.Equal(t, 1, acks)
	assert.Contains(t, out.String(), "press Enter to continue")
	require.NoError(t, gate.Wait(context.Background()))

	// the next chat line is still available to the loop
	h := &scriptedHandler{}
	require.NoError(t, term.Run(context.Background(), h))
	assert.Equal(t, []string{"search Nokia"}, h.inputs)
}

func TestAcknowledgerOnClosedInput(t *testing.T) {
	term := NewTerminalInterface(strings.NewReader(""), io.Discard, quiet())
	acked := false
	term.Acknowledger(func() { acked = true })("run-2", entities.StateLocating, entities.StateAwaitingAcknowledgment)
	assert.True(t, acked)
}
