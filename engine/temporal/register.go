package temporal

import (
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
)

// Register wires RunDefinition and acts.InvokeProcedure into w under
// WorkflowName/ActivityName, the names a starting client uses to address
// them and the names runParallel/RunDefinition reference internally.
func Register(w worker.Worker, acts *Activities) {
	w.RegisterWorkflowWithOptions(RunDefinition, workflow.RegisterOptions{Name: WorkflowName})
	w.RegisterActivityWithOptions(acts.InvokeProcedure, activity.RegisterOptions{Name: ActivityName})
}
