package loader

import (
	"time"

	"github.com/weavegraph/weavegraph/contract"
	"github.com/weavegraph/weavegraph/workflow"
)

// procedureDoc is the on-disk YAML shape of a procedure contract, discovered
// structurally (by file suffix, not duck-typed at runtime) and bound to a
// handler supplied by the embedding program, since Go cannot load executable
// code from a data file — only the contract side of a procedure is
// declarative. The loader validates this shape once at discovery time
// rather than trusting an arbitrary map at call time.
type procedureDoc struct {
	Name         string             `yaml:"name"`
	Category     string             `yaml:"category"`
	Tags         []string           `yaml:"tags"`
	Roles        []string           `yaml:"roles"`
	Exposure     string             `yaml:"exposure"`
	Kind         string             `yaml:"kind"`
	InputSchema  map[string]any     `yaml:"inputSchema"`
	OutputSchema map[string]any     `yaml:"outputSchema"`
	Trigger      *triggerDoc        `yaml:"trigger"`
}

type triggerDoc struct {
	Provider            string   `yaml:"provider"`
	Transport           string   `yaml:"transport"`
	EventTypes          []string `yaml:"eventTypes"`
	StopProcedure       string   `yaml:"stopProcedure"`
	PollIntervalSeconds int      `yaml:"pollIntervalSeconds"`
	SupportsFiltering   bool     `yaml:"supportsFiltering"`
}

// workflowDoc is the on-disk YAML shape of a workflow.Definition. Condition
// and await nodes may only use their expression-string predicate/filter form
// here; the closure forms are only constructible from Go code directly.
type workflowDoc struct {
	ID          string            `yaml:"id"`
	Version     int               `yaml:"version"`
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	StartNode   string            `yaml:"startNode"`
	Variables   map[string]any    `yaml:"variables"`
	Trigger     *workflowTriggerDoc `yaml:"trigger"`
	Nodes       []nodeDoc         `yaml:"nodes"`
}

type workflowTriggerDoc struct {
	ProcedureName string `yaml:"procedureName"`
}

type nodeDoc struct {
	ID             string         `yaml:"id"`
	Kind           string         `yaml:"kind"`
	OnError        string         `yaml:"onError"`
	OnTimeout      string         `yaml:"onTimeout"`
	TimeoutSeconds float64        `yaml:"timeoutSeconds"`
	Procedure      *procedureCfgDoc `yaml:"procedure"`
	Condition      *conditionCfgDoc `yaml:"condition"`
	Parallel       *parallelCfgDoc  `yaml:"parallel"`
	Sequential     *successorCfgDoc `yaml:"sequential"`
	Trigger        *successorCfgDoc `yaml:"trigger"`
	Await          *awaitCfgDoc     `yaml:"await"`
	Subworkflow    *subworkflowCfgDoc `yaml:"subworkflow"`
}

type procedureCfgDoc struct {
	ProcedureName   string            `yaml:"procedureName"`
	Config          map[string]any    `yaml:"config"`
	ExplicitMapping map[string]string `yaml:"explicitMapping"`
	OutputVariable  string            `yaml:"outputVariable"`
	Successor       string            `yaml:"successor"`
}

type conditionCfgDoc struct {
	Expression  string `yaml:"expression"`
	TrueBranch  string `yaml:"trueBranch"`
	FalseBranch string `yaml:"falseBranch"`
}

type parallelCfgDoc struct {
	Branches  []string `yaml:"branches"`
	Mode      string   `yaml:"mode"`
	Successor string   `yaml:"successor"`
}

type successorCfgDoc struct {
	Successor string `yaml:"successor"`
}

type awaitCfgDoc struct {
	Provider         string  `yaml:"provider"`
	EventType        string  `yaml:"eventType"`
	FilterExpression string  `yaml:"filterExpression"`
	TimeoutSeconds   float64 `yaml:"timeoutSeconds"`
	Successor        string  `yaml:"successor"`
}

type subworkflowCfgDoc struct {
	WorkflowID   string            `yaml:"workflowId"`
	InputMapping map[string]string `yaml:"inputMapping"`
	Successor    string            `yaml:"successor"`
}

// toDefinition converts a parsed workflowDoc into a workflow.Definition.
func (d workflowDoc) toDefinition() (workflow.Definition, error) {
	def := workflow.Definition{
		ID:          d.ID,
		Version:     d.Version,
		Name:        d.Name,
		Description: d.Description,
		StartNode:   d.StartNode,
		Variables:   d.Variables,
	}
	if d.Trigger != nil {
		def.Trigger = &workflow.TriggerBinding{ProcedureName: d.Trigger.ProcedureName}
	}
	for _, nd := range d.Nodes {
		node, err := nd.toNode()
		if err != nil {
			return workflow.Definition{}, err
		}
		def.Nodes = append(def.Nodes, node)
	}
	return def, nil
}

func (nd nodeDoc) toNode() (workflow.Node, error) {
	node := workflow.Node{
		ID:        nd.ID,
		Kind:      workflow.Kind(nd.Kind),
		OnError:   nd.OnError,
		OnTimeout: nd.OnTimeout,
		Timeout:   time.Duration(nd.TimeoutSeconds * float64(time.Second)),
	}
	switch node.Kind {
	case workflow.KindProcedure:
		if nd.Procedure == nil {
			return node, errFieldRequired(nd.ID, "procedure")
		}
		node.Procedure = &workflow.ProcedureConfig{
			ProcedureName:   contract.Name(nd.Procedure.ProcedureName),
			Config:          nd.Procedure.Config,
			ExplicitMapping: nd.Procedure.ExplicitMapping,
			OutputVariable:  nd.Procedure.OutputVariable,
			Successor:       nd.Procedure.Successor,
		}
	case workflow.KindCondition:
		if nd.Condition == nil {
			return node, errFieldRequired(nd.ID, "condition")
		}
		node.Condition = &workflow.ConditionConfig{
			Expression:  nd.Condition.Expression,
			TrueBranch:  nd.Condition.TrueBranch,
			FalseBranch: nd.Condition.FalseBranch,
		}
	case workflow.KindParallel:
		if nd.Parallel == nil {
			return node, errFieldRequired(nd.ID, "parallel")
		}
		node.Parallel = &workflow.ParallelConfig{
			Branches:  nd.Parallel.Branches,
			Mode:      workflow.ParallelMode(nd.Parallel.Mode),
			Successor: nd.Parallel.Successor,
		}
	case workflow.KindSequential:
		if nd.Sequential == nil {
			return node, errFieldRequired(nd.ID, "sequential")
		}
		node.Sequential = &workflow.SequentialConfig{Successor: nd.Sequential.Successor}
	case workflow.KindTrigger:
		if nd.Trigger == nil {
			return node, errFieldRequired(nd.ID, "trigger")
		}
		node.Trigger = &workflow.TriggerConfig{Successor: nd.Trigger.Successor}
	case workflow.KindAwait:
		if nd.Await == nil {
			return node, errFieldRequired(nd.ID, "await")
		}
		node.Await = &workflow.AwaitConfig{
			Provider:         nd.Await.Provider,
			EventType:        nd.Await.EventType,
			FilterExpression: nd.Await.FilterExpression,
			Timeout:          time.Duration(nd.Await.TimeoutSeconds * float64(time.Second)),
			Successor:        nd.Await.Successor,
		}
	case workflow.KindSubworkflow:
		if nd.Subworkflow == nil {
			return node, errFieldRequired(nd.ID, "subworkflow")
		}
		node.Subworkflow = &workflow.SubworkflowConfig{
			WorkflowID:   nd.Subworkflow.WorkflowID,
			InputMapping: nd.Subworkflow.InputMapping,
			Successor:    nd.Subworkflow.Successor,
		}
	}
	return node, nil
}
