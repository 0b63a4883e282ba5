package gateway

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/skyliftcoin/gemini-web-browser/internal/agent"
	"github.com/skyliftcoin/gemini-web-browser/internal/executor"
	"github.com/skyliftcoin/gemini-web-browser/internal/observability"
	"github.com/skyliftcoin/gemini-web-browser/internal/planner"
)

// TaskService is the slice of the runner the gateways drive.
type TaskService interface {
	Submit(instruction string) (*agent.Task, error)
	Abort() bool
}

// TerminalGateway reads instructions from stdin and prints task progress.
// It doubles as the StatusSink for tasks it submits.
type TerminalGateway struct {
	Tasks  TaskService
	In     io.Reader
	Out    io.Writer
	Logger *zap.Logger
}

func NewTerminalGateway(tasks TaskService, logger *zap.Logger) *TerminalGateway {
	return &TerminalGateway{
		Tasks:  tasks,
		In:     os.Stdin,
		Out:    os.Stdout,
		Logger: logger.Named("terminal"),
	}
}

func (t *TerminalGateway) Start(ctx context.Context) error {
	scanner := bufio.NewScanner(t.In)
	fmt.Fprintln(t.Out, "Type an instruction, /abort to cancel the running task, or /quit to exit.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		fmt.Fprint(t.Out, "> ")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return scanner.Err()
			}
			line = strings.TrimSpace(line)
			switch {
			case line == "":
				continue
			case line == "/quit" || line == "/exit":
				return nil
			case line == "/abort":
				if !t.Tasks.Abort() {
					fmt.Fprintln(t.Out, "no task running")
				}
			default:
				if err := t.submit(ctx, line); err != nil {
					fmt.Fprintf(t.Out, "error: %v\n", err)
				}
			}
		}
	}
}

func (t *TerminalGateway) submit(ctx context.Context, instruction string) error {
	task, err := t.Tasks.Submit(instruction)
	if err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case result := <-task.Done:
		t.printResult(result)
	}
	return nil
}

func (t *TerminalGateway) printResult(result agent.TaskResult) {
	fmt.Fprintln(t.Out, observability.Rule())
	switch result.Status {
	case agent.StatusSucceeded:
		fmt.Fprintf(t.Out, "done in %s", result.Duration.Round(time.Millisecond))
		if result.Replans > 0 {
			fmt.Fprintf(t.Out, " (replanned)")
		}
		fmt.Fprintln(t.Out)
		if result.Response != "" {
			fmt.Fprintln(t.Out, result.Response)
		}
	case agent.StatusAborted:
		fmt.Fprintln(t.Out, "task aborted")
	default:
		fmt.Fprintf(t.Out, "task failed: %s\n", result.Reason)
	}
	fmt.Fprintln(t.Out, observability.Rule())
}

func (t *TerminalGateway) Stop() error {
	return nil
}

// StatusSink implementation.

func (t *TerminalGateway) TaskStarted(taskID, instruction string) {
	fmt.Fprintf(t.Out, "working on: %s\n", instruction)
}

func (t *TerminalGateway) PlanReady(taskID string, plan planner.Plan) {
	label := "plan"
	if plan.Replan {
		label = "revised plan"
	}
	fmt.Fprintf(t.Out, "%s (%d steps):\n", label, len(plan.Steps))
	for i, step := range plan.Steps {
		fmt.Fprintf(t.Out, "  %d. %s\n", i+1, step.String())
	}
}

func (t *TerminalGateway) StepFinished(taskID string, index int, res executor.ExecutionResult) {
	mark := "ok"
	if !res.Success {
		mark = "failed"
	}
	fmt.Fprintf(t.Out, "  step %d %s: %s\n", index+1, mark, res.Detail)
}

func (t *TerminalGateway) TaskFinished(result agent.TaskResult) {}
