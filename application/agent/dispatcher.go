// Package agent turns short free-text commands into workflow runs.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"shop_automation/application/workflow"
	"shop_automation/domain/entities"

	"github.com/sirupsen/logrus"
)

// ErrCouldNotParseTerm is returned for a search command without a term
var ErrCouldNotParseTerm = errors.New("could not parse a search term, e.g. 'search Samsung'")

const (
	helpMessage = "I didn't understand. Try 'login', 'search <something>', or 'exit'."
	exitMessage = "Conversation ended."
)

// ParseCommand recognises exit, login and search, in that order of precedence.
// Matching is case-insensitive and keywords may appear anywhere in the input.
func ParseCommand(input string) (entities.Command, error) {
	cmd := entities.Command{Raw: input}
	switch {
	case indexFold(input, "exit") >= 0:
		cmd.Kind = entities.CommandExit
	case indexFold(input, "login") >= 0:
		cmd.Kind = entities.CommandLogin
	case indexFold(input, "search") >= 0:
		cmd.Kind = entities.CommandSearch
		i := indexFold(input, "search")
		cmd.Term = strings.TrimSpace(input[i+len("search"):])
		if cmd.Term == "" {
			return cmd, ErrCouldNotParseTerm
		}
	default:
		cmd.Kind = entities.CommandUnrecognized
	}
	return cmd, nil
}

// indexFold is strings.Index with ASCII case folding on the keyword
func indexFold(s, keyword string) int {
	for i := 0; i+len(keyword) <= len(s); i++ {
		if strings.EqualFold(s[i:i+len(keyword)], keyword) {
			return i
		}
	}
	return -1
}

// WorkflowRunner executes one workflow plan
type WorkflowRunner interface {
	Run(ctx context.Context, plan entities.Plan, wctx *entities.WorkflowContext) (*workflow.Result, error)
}

// Reply is the outcome of one handled command
type Reply struct {
	Message string
	Exit    bool
	Result  *workflow.Result
	Err     error
}

// Dispatcher holds the conversation and runs the workflow subset each command asks for
type Dispatcher struct {
	runner      WorkflowRunner
	conv        *entities.ConversationContext
	targetURL   string
	credentials entities.Credentials
	logger      *logrus.Logger
}

// NewDispatcher - creates a dispatcher that runs plans through runner
func NewDispatcher(runner WorkflowRunner, targetURL string, credentials entities.Credentials, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		runner:      runner,
		conv:        &entities.ConversationContext{},
		targetURL:   targetURL,
		credentials: credentials,
		logger:      logger,
	}
}

// Conversation exposes the accumulated history and pending action
func (d *Dispatcher) Conversation() *entities.ConversationContext {
	return d.conv
}

// Handle records input, parses it and, for login and search, runs the matching plan synchronously
func (d *Dispatcher) Handle(ctx context.Context, input string) Reply {
	input = strings.TrimSpace(input)
	d.conv.Record(input)

	cmd, err := ParseCommand(input)
	if err != nil {
		return Reply{Message: capitalize(err.Error())}
	}

	switch cmd.Kind {
	case entities.CommandExit:
		return Reply{Message: exitMessage, Exit: true}
	case entities.CommandLogin:
		d.conv.SetPending(entities.PendingAction{Kind: entities.CommandLogin})
	case entities.CommandSearch:
		d.conv.SetPending(entities.PendingAction{Kind: entities.CommandSearch, Term: cmd.Term})
	default:
		return Reply{Message: helpMessage}
	}

	return d.executePending(ctx)
}

func (d *Dispatcher) executePending(ctx context.Context) Reply {
	pending, ok := d.conv.Pending()
	if !ok {
		return Reply{Message: helpMessage}
	}
	defer d.conv.ClearPending()

	plan, _ := pending.Plan()
	wctx := &entities.WorkflowContext{TargetURL: d.targetURL}
	if plan.Authenticates() {
		wctx.Credentials = d.credentials
	}
	if plan.Locates() {
		wctx.SearchTerm = pending.Term
	}

	d.logger.WithFields(logrus.Fields{"action": pending.String(), "plan": plan}).Info("executing command")
	result, err := d.runner.Run(ctx, plan, wctx)

	reply := Reply{Result: result, Err: err}
	switch {
	case err != nil:
		reply.Message = fmt.Sprintf("%s did not complete: %v", pending, err)
	case plan == entities.PlanLogin:
		reply.Message = "Login steps completed."
	case result != nil && result.Product != nil:
		p := result.Product
		reply.Message = fmt.Sprintf("Found %q, price %s. %s", p.Name, p.Price, p.Description)
	default:
		reply.Message = fmt.Sprintf("Search for '%s' completed.", pending.Term)
	}
	return reply
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
