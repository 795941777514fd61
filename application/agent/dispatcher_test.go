package agent

import (
	"context"
	"errors"
	"io"
	"testing"

	"shop_automation/application/workflow"
	"shop_automation/domain/entities"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input string
		kind  entities.CommandKind
		term  string
		err   error
	}{
		{"search Samsung Galaxy", entities.CommandSearch, "Samsung Galaxy", nil},
		{"  SEARCH   nexus 6  ", entities.CommandSearch, "nexus 6", nil},
		{"please search for iphone", entities.CommandSearch, "for iphone", nil},
		{"search", entities.CommandSearch, "", ErrCouldNotParseTerm},
		{"search    ", entities.CommandSearch, "", ErrCouldNotParseTerm},
		{"login", entities.CommandLogin, "", nil},
		{"Please LOGIN now", entities.CommandLogin, "", nil},
		{"exit", entities.CommandExit, "", nil},
		{"EXIT", entities.CommandExit, "", nil},
		{"I want to exit now", entities.CommandExit, "", nil},
		{"login then exit", entities.CommandExit, "", nil},
		{"search exit strategies", entities.CommandExit, "", nil},
		{"add to cart", entities.CommandUnrecognized, "", nil},
		{"", entities.CommandUnrecognized, "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			cmd, err := ParseCommand(tt.input)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.kind, cmd.Kind)
			assert.Equal(t, tt.term, cmd.Term)
		})
	}
}

type runCall struct {
	plan entities.Plan
	wctx entities.WorkflowContext
}

type stubRunner struct {
	calls   []runCall
	err     error
	product *entities.ExtractedProduct
	// pendingDuringRun captures what the conversation looked like while the plan ran
	conv             *entities.ConversationContext
	pendingDuringRun []string
}

func (s *stubRunner) Run(ctx context.Context, plan entities.Plan, wctx *entities.WorkflowContext) (*workflow.Result, error) {
	s.calls = append(s.calls, runCall{plan: plan, wctx: *wctx})
	if s.conv != nil {
		if p, ok := s.conv.Pending(); ok {
			s.pendingDuringRun = append(s.pendingDuringRun, p.String())
		}
	}
	state := entities.StateCompleted
	if s.err != nil {
		state = entities.StateFailed
	}
	return &workflow.Result{Plan: plan, State: state, Product: s.product}, s.err
}

func newDispatcher(runner *stubRunner) *Dispatcher {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	d := NewDispatcher(runner, "https://www.demoblaze.com/", entities.Credentials{Username: "testuser", Password: "hunter2"}, logger)
	runner.conv = d.Conversation()
	return d
}

func TestHandleSearchRunsSearchPlan(t *testing.T) {
	product := entities.NewExtractedProduct("Samsung galaxy s6", "$360 *includes tax", "")
	runner := &stubRunner{product: &product}
	d := newDispatcher(runner)

	reply := d.Handle(context.Background(), "search Samsung Galaxy")
	require.NoError(t, reply.Err)
	assert.False(t, reply.Exit)
	assert.Contains(t, reply.Message, `"Samsung galaxy s6"`)

	require.Len(t, runner.calls, 1)
	call := runner.calls[0]
	assert.Equal(t, entities.PlanSearch, call.plan)
	assert.Equal(t, "Samsung Galaxy", call.wctx.SearchTerm)
	assert.Empty(t, call.wctx.Credentials.Password, "search does not need credentials")
	assert.Equal(t, []string{"search[Samsung Galaxy]"}, runner.pendingDuringRun)

	_, pending := d.Conversation().Pending()
	assert.False(t, pending)
}

func TestHandleLoginRunsLoginPlan(t *testing.T) {
	runner := &stubRunner{}
	d := newDispatcher(runner)

	reply := d.Handle(context.Background(), "login")
	require.NoError(t, reply.Err)
	assert.Equal(t, "Login steps completed.", reply.Message)
	require.Len(t, runner.calls, 1)
	assert.Equal(t, entities.PlanLogin, runner.calls[0].plan)
	assert.Equal(t, "testuser", runner.calls[0].wctx.Credentials.Username)
}

func TestHandleFailureClearsPending(t *testing.T) {
	runner := &stubRunner{err: errors.New("Login failed: authenticated marker never appeared")}
	d := newDispatcher(runner)

	reply := d.Handle(context.Background(), "login")
	assert.Error(t, reply.Err)
	assert.Contains(t, reply.Message, "login did not complete")
	_, pending := d.Conversation().Pending()
	assert.False(t, pending)
}

func TestHandleWithoutRunning(t *testing.T) {
	runner := &stubRunner{}
	d := newDispatcher(runner)

	reply := d.Handle(context.Background(), "search")
	assert.Equal(t, "Could not parse a search term, e.g. 'search Samsung'", reply.Message)

	reply = d.Handle(context.Background(), "buy everything")
	assert.Equal(t, helpMessage, reply.Message)

	reply = d.Handle(context.Background(), "Exit please")
	assert.True(t, reply.Exit)
	assert.Equal(t, exitMessage, reply.Message)

	assert.Empty(t, runner.calls)
}

func TestHistoryIsAppendOnly(t *testing.T) {
	runner := &stubRunner{}
	d := newDispatcher(runner)

	d.Handle(context.Background(), "login")
	d.Handle(context.Background(), "search nexus")
	d.Handle(context.Background(), "hello")

	assert.Equal(t, []string{"login", "search nexus", "hello"}, d.Conversation().History())
	assert.Equal(t, "hello", d.Conversation().LastCommand())
}
