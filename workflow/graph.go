package workflow

// Definition is a versioned, named workflow graph. Cycles are permitted —
// the graph is not assumed to be a DAG; cyclic executions are bounded by
// cancellation and per-node/per-execution timeouts, not by graph shape.
type Definition struct {
	ID          string
	Version     int
	Name        string
	Description string
	Nodes       []Node
	StartNode   string
	// Variables seeds the execution context before the start node runs.
	Variables map[string]any
	// Trigger, if set, marks this definition as eligible for deployment by
	// the Trigger Manager.
	Trigger *TriggerBinding
}

// TriggerBinding names the procedure whose contract.Metadata.Trigger
// descriptor supplies the external subscription this definition should be
// deployed against.
type TriggerBinding struct {
	ProcedureName string
}

// NodeByID returns the node with the given id, if present.
func (d Definition) NodeByID(id string) (Node, bool) {
	for _, n := range d.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}
