package definition

import (
	"fmt"
	"time"

	"github.com/eleven-am/conduit/internal/adapters/template"
	"github.com/eleven-am/conduit/internal/domain"
	"github.com/eleven-am/conduit/internal/xjson"
)

// Normalize turns either document shape into a validated graph. Every
// problem found is collected into one *domain.DefinitionError.
func Normalize(doc *Document) (*domain.WorkflowGraph, error) {
	return NormalizeWith(doc, template.NewResolver())
}

// NormalizeWith is Normalize with a caller supplied template resolver, so the
// parse cache can be shared.
func NormalizeWith(doc *Document, resolver *template.Resolver) (*domain.WorkflowGraph, error) {
	name := doc.WorkflowName()

	var problems []string
	addProblem := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	spec := domain.GraphSpec{
		Name:            name,
		Description:     doc.Description,
		Version:         doc.Version,
		DefaultStrategy: doc.ErrorHandling.DefaultStrategy,
		DefaultRetry:    doc.Defaults.Retry.policy(),
		ErrorHandling:   make(map[string]domain.ErrorHandling),
		Outputs:         make(map[string]domain.OutputRef, len(doc.Outputs)),
	}

	for _, n := range doc.Nodes {
		config, err := domain.MergeConfig(doc.Defaults.Config, n.Config)
		if err != nil {
			addProblem("node %q config: %v", n.ID, err)
			continue
		}
		normalized, err := xjson.Normalize(config)
		if err != nil {
			addProblem("node %q config is not JSON-compatible: %v", n.ID, err)
			continue
		}
		config, _ = normalized.(map[string]interface{})

		spec.Nodes = append(spec.Nodes, domain.NodeDefinition{
			ID:           n.ID,
			Type:         n.Type,
			Description:  n.Description,
			Config:       config,
			Retry:        n.Retry.policy(),
			InputSchema:  n.InputSchema,
			OutputSchema: n.OutputSchema,
			Timeout:      time.Duration(n.Timeout),
		})
	}

	for _, c := range append(append([]Connection(nil), doc.Connections...), doc.Edges...) {
		spec.Edges = append(spec.Edges, domain.Edge{
			Source:       c.Source,
			SourceOutput: c.SourceOutput,
			Target:       c.Target,
			TargetInput:  c.TargetInput,
			Fallback:     c.Default.Value,
			HasFallback:  c.Default.Set,
		})
	}

	for _, n := range doc.Nodes {
		if n.NextNodeID != "" {
			spec.Edges = append(spec.Edges, domain.Edge{
				Source:       n.ID,
				SourceOutput: "output",
				Target:       n.NextNodeID,
				TargetInput:  n.ID,
			})
		}
	}

	for id, h := range doc.ErrorHandling.Nodes {
		spec.ErrorHandling[id] = domain.ErrorHandling{Strategy: h.Strategy, Redirect: h.Redirect}
	}

	for _, n := range doc.Nodes {
		handling := spec.ErrorHandling[n.ID]
		if n.ErrorHandling != nil {
			if n.ErrorHandling.Strategy != "" {
				handling.Strategy = n.ErrorHandling.Strategy
			}
			if n.ErrorHandling.Redirect != "" {
				handling.Redirect = n.ErrorHandling.Redirect
			}
		}
		if n.OnFailureNodeID != "" {
			if handling.Redirect != "" && handling.Redirect != n.OnFailureNodeID {
				addProblem("node %q declares two failure handlers: %q and %q", n.ID, handling.Redirect, n.OnFailureNodeID)
			}
			handling.Redirect = n.OnFailureNodeID
		}
		if n.Required != nil && !*n.Required && handling.Strategy == "" {
			handling.Strategy = domain.StrategyContinue
		}
		if handling != (domain.ErrorHandling{}) {
			spec.ErrorHandling[n.ID] = handling
		}
	}

	switch {
	case len(doc.Start) > 0:
		spec.Entry = append(spec.Entry, doc.Start...)
	case len(doc.Entry) > 0:
		spec.Entry = append(spec.Entry, doc.Entry...)
	case doc.StartNodeID != "":
		spec.Entry = []string{doc.StartNodeID}
	}

	for outName, out := range doc.Outputs {
		spec.Outputs[outName] = domain.OutputRef{Node: out.Node, Path: out.Path}
	}

	if len(problems) > 0 {
		return nil, &domain.DefinitionError{Workflow: name, Problems: problems}
	}

	graph, err := domain.NewWorkflowGraph(spec)
	if err != nil {
		return nil, err
	}

	if problems := checkTemplateReferences(graph, resolver); len(problems) > 0 {
		return nil, &domain.DefinitionError{Workflow: name, Problems: problems}
	}
	return graph, nil
}

// checkTemplateReferences rejects configs that read outputs of nodes which
// are not guaranteed to have finished first.
func checkTemplateReferences(graph *domain.WorkflowGraph, resolver *template.Resolver) []string {
	var problems []string
	for _, id := range graph.NodeIDs() {
		def, _ := graph.Node(id)
		refs, err := resolver.NodeReferences(def.Config)
		if err != nil {
			problems = append(problems, fmt.Sprintf("node %q config: %v", id, err))
			continue
		}
		for _, ref := range refs {
			if _, ok := graph.Node(ref); !ok {
				problems = append(problems, fmt.Sprintf("node %q config references unknown node %q", id, ref))
				continue
			}
			if !graph.IsAncestor(id, ref) {
				problems = append(problems, fmt.Sprintf("node %q config references %q, which is not upstream of it", id, ref))
			}
		}
	}
	return problems
}
