package app

import (
	"context"
	"strings"

	"github.com/wrenchchatrepo/wrenchai-sub000/state"
	"github.com/wrenchchatrepo/wrenchai-sub000/workflow"
)

// DefaultAnalysisPlaybook is the name the built-in analysis graph is
// registered under.
const DefaultAnalysisPlaybook = "analysis"

// registerBuiltinGraphs installs the stock graphs every runtime carries.
func (a *App) registerBuiltinGraphs() {
	a.RegisterGraph(DefaultAnalysisPlaybook, buildAnalysisGraph)
}

// buildAnalysisGraph assembles the default analysis workflow: a query
// analysis node fans out to skill nodes (research, coding, writing) whose
// outputs a synthesis node folds into the final response. Skill nodes are
// placeholders for agent integrations; their outputs keep the graph
// executable end to end.
func buildAnalysisGraph() *workflow.Graph {
	g := workflow.NewGraph()

	_ = g.AddNode(&workflow.Node{
		ID: "query_analysis",
		Run: func(ctx context.Context, rc *workflow.RunContext) (any, error) {
			query, _ := rc.Params["query"].(string)
			query = strings.ToLower(query)
			var skills []string
			if strings.Contains(query, "code") || strings.Contains(query, "program") || strings.Contains(query, "function") {
				skills = append(skills, "coding")
			}
			if strings.Contains(query, "search") || strings.Contains(query, "find information") || strings.Contains(query, "research") {
				skills = append(skills, "research")
			}
			if strings.Contains(query, "write") || strings.Contains(query, "document") || strings.Contains(query, "explain") {
				skills = append(skills, "writing")
			}
			if len(skills) == 0 {
				skills = []string{"research"}
			}
			if err := rc.State.SetValue("required_skills", skills, "query_analysis"); err != nil {
				if _, cerr := rc.State.Create(state.Spec{
					Name:  "required_skills",
					Value: skills,
					Scope: state.ScopeWorkflow,
				}); cerr != nil {
					return nil, cerr
				}
			}
			return skills, nil
		},
		Fallback: func() any { return []string{"research"} },
	})

	_ = g.AddNode(&workflow.Node{
		ID: "research",
		Run: func(ctx context.Context, rc *workflow.RunContext) (any, error) {
			return map[string]any{
				"sources": []any{},
				"summary": "No research agent is wired to this deployment.",
			}, nil
		},
		Fallback: func() any { return map[string]any{"summary": "Research unavailable"} },
	})
	_ = g.AddNode(&workflow.Node{
		ID: "coding",
		Run: func(ctx context.Context, rc *workflow.RunContext) (any, error) {
			return map[string]any{
				"language": "text",
				"code":     "",
			}, nil
		},
		Fallback: func() any { return map[string]any{"language": "text", "code": "# code generation failed"} },
	})
	_ = g.AddNode(&workflow.Node{
		ID: "writing",
		Run: func(ctx context.Context, rc *workflow.RunContext) (any, error) {
			return map[string]any{"content": "", "format": "markdown"}, nil
		},
		Fallback: func() any { return map[string]any{"content": "Content generation unavailable"} },
	})

	_ = g.AddNode(&workflow.Node{
		ID: "synthesis",
		Run: func(ctx context.Context, rc *workflow.RunContext) (any, error) {
			var parts []string
			if research, ok := rc.Outputs["research"].(map[string]any); ok {
				if summary, _ := research["summary"].(string); summary != "" {
					parts = append(parts, summary)
				}
			}
			if coding, ok := rc.Outputs["coding"].(map[string]any); ok {
				if code, _ := coding["code"].(string); code != "" {
					lang, _ := coding["language"].(string)
					parts = append(parts, "```"+lang+"\n"+code+"\n```")
				}
			}
			if writing, ok := rc.Outputs["writing"].(map[string]any); ok {
				if content, _ := writing["content"].(string); content != "" {
					parts = append(parts, content)
				}
			}
			return strings.Join(parts, "\n\n"), nil
		},
		Fallback: func() any { return "The requested operation could not be completed." },
	})

	hasSkill := func(skill string) workflow.Predicate {
		return func(output any) bool {
			skills, ok := output.([]string)
			if !ok {
				return false
			}
			for _, s := range skills {
				if s == skill {
					return true
				}
			}
			return false
		}
	}
	_ = g.AddEdge("query_analysis", "research", hasSkill("research"))
	_ = g.AddEdge("query_analysis", "coding", hasSkill("coding"))
	_ = g.AddEdge("query_analysis", "writing", hasSkill("writing"))
	_ = g.AddEdge("research", "synthesis", nil)
	_ = g.AddEdge("coding", "synthesis", nil)
	_ = g.AddEdge("writing", "synthesis", nil)
	return g
}
