package agent

import (
	"github.com/skyliftcoin/gemini-web-browser/internal/executor"
	"github.com/skyliftcoin/gemini-web-browser/internal/planner"
)

// MultiSink fans status updates out to several sinks.
type MultiSink []StatusSink

func (m MultiSink) TaskStarted(taskID, instruction string) {
	for _, s := range m {
		s.TaskStarted(taskID, instruction)
	}
}

func (m MultiSink) PlanReady(taskID string, plan planner.Plan) {
	for _, s := range m {
		s.PlanReady(taskID, plan)
	}
}

func (m MultiSink) StepFinished(taskID string, index int, res executor.ExecutionResult) {
	for _, s := range m {
		s.StepFinished(taskID, index, res)
	}
}

func (m MultiSink) TaskFinished(result TaskResult) {
	for _, s := range m {
		s.TaskFinished(result)
	}
}
