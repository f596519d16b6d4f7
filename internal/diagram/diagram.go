package diagram

import (
	"fmt"
	"sort"
	"strings"

	"github.com/loomhq/loom/pkg/schema"
)

// NodeKind classifies a diagram node by its step variant.
type NodeKind string

const (
	NodeKindAgent     NodeKind = "agent"
	NodeKindLLM       NodeKind = "llm"
	NodeKindCondition NodeKind = "condition"
	NodeKindWait      NodeKind = "wait"
	NodeKindTransform NodeKind = "transform"
	NodeKindStart     NodeKind = "start"
	NodeKindEnd       NodeKind = "end"
)

// Model is the intermediate representation the renderer consumes.
type Model struct {
	Title string
	Nodes []Node
	Edges []Edge
}

// Node is a single workflow step (plus synthetic start/end markers).
type Node struct {
	ID     string
	Label  string
	Kind   NodeKind
	Status string // from schema.StepStatus, empty without a run overlay
}

// Edge connects two nodes in execution order. Label annotates condition
// branch targets.
type Edge struct {
	From  string
	To    string
	Label string
}

// Build lays out a workflow as a linear flow in step order. A non-nil run
// overlays each step's result status. Condition steps get extra labeled
// edges pointing at their then/else targets.
func Build(wf *schema.Workflow, run *schema.Run) *Model {
	steps := make([]schema.Step, len(wf.Steps))
	copy(steps, wf.Steps)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })

	statuses := map[string]string{}
	if run != nil {
		for _, r := range run.StepResults {
			statuses[r.StepID] = string(r.Status)
		}
	}

	m := &Model{Title: wf.Name}
	m.Nodes = append(m.Nodes, Node{ID: "start", Label: "start", Kind: NodeKindStart})

	prev := "start"
	for _, step := range steps {
		m.Nodes = append(m.Nodes, Node{
			ID:     step.StepID,
			Label:  nodeLabel(step),
			Kind:   nodeKind(step),
			Status: statuses[step.StepID],
		})
		m.Edges = append(m.Edges, Edge{From: prev, To: step.StepID})

		if step.Type == schema.StepTypeLogic && step.LogicType == schema.LogicCondition && step.Condition != nil {
			if step.Condition.Then != "" {
				m.Edges = append(m.Edges, Edge{From: step.StepID, To: step.Condition.Then, Label: "then"})
			}
			if step.Condition.Else != "" {
				m.Edges = append(m.Edges, Edge{From: step.StepID, To: step.Condition.Else, Label: "else"})
			}
		}
		prev = step.StepID
	}

	m.Nodes = append(m.Nodes, Node{ID: "end", Label: "end", Kind: NodeKindEnd})
	m.Edges = append(m.Edges, Edge{From: prev, To: "end"})
	return m
}

// RenderMermaid renders the model as a Mermaid flowchart.
func RenderMermaid(m *Model) string {
	var b strings.Builder

	b.WriteString("graph TD\n")
	if m.Title != "" {
		b.WriteString(fmt.Sprintf("    %%%% %s\n", m.Title))
	}

	for _, node := range m.Nodes {
		b.WriteString(fmt.Sprintf("    %s\n", mermaidNodeDef(node)))
	}
	for _, edge := range m.Edges {
		label := ""
		if edge.Label != "" {
			label = fmt.Sprintf("|%s|", edge.Label)
		}
		b.WriteString(fmt.Sprintf("    %s -->%s %s\n",
			mermaidSafeID(edge.From), label, mermaidSafeID(edge.To)))
	}

	b.WriteString("\n")
	b.WriteString("    classDef success fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef failed fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
	b.WriteString("    classDef waiting fill:#b7791a,stroke:#8a5c14,color:#fff\n")

	for _, node := range m.Nodes {
		if cls := mermaidStatusClass(node.Status); cls != "" {
			b.WriteString(fmt.Sprintf("    class %s %s\n", mermaidSafeID(node.ID), cls))
		}
	}

	return b.String()
}

func nodeKind(step schema.Step) NodeKind {
	switch step.Type {
	case schema.StepTypeAgent:
		return NodeKindAgent
	case schema.StepTypeLLM:
		return NodeKindLLM
	case schema.StepTypeLogic:
		switch step.LogicType {
		case schema.LogicCondition:
			return NodeKindCondition
		case schema.LogicUserInput:
			return NodeKindWait
		}
		return NodeKindTransform
	}
	return NodeKindTransform
}

func nodeLabel(step schema.Step) string {
	switch step.Type {
	case schema.StepTypeAgent:
		return step.AgentID
	case schema.StepTypeLLM:
		return firstLine(step.Prompt)
	case schema.StepTypeLogic:
		if step.LogicType == schema.LogicCondition && step.Condition != nil {
			return step.Condition.If
		}
		if step.LogicType == schema.LogicUserInput && step.Question != "" {
			return firstLine(step.Question)
		}
		return string(step.LogicType)
	}
	return step.StepID
}

func mermaidNodeDef(node Node) string {
	id := mermaidSafeID(node.ID)
	label := firstLine(node.Label)
	if label == "" {
		label = node.ID
	}

	switch node.Kind {
	case NodeKindCondition:
		return fmt.Sprintf("%s{%q}", id, label)
	case NodeKindLLM:
		return fmt.Sprintf("%s{{%q}}", id, label)
	case NodeKindWait:
		return fmt.Sprintf("%s([%q])", id, label)
	case NodeKindStart, NodeKindEnd:
		return fmt.Sprintf("%s((%q))", id, label)
	default:
		return fmt.Sprintf("%s[%q]", id, label)
	}
}

// mermaidSafeID replaces characters Mermaid treats as syntax.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return r.Replace(id)
}

func mermaidStatusClass(status string) string {
	switch status {
	case string(schema.StepStatusSuccess):
		return "success"
	case string(schema.StepStatusFailed):
		return "failed"
	case string(schema.StepStatusWaiting):
		return "waiting"
	default:
		return ""
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
