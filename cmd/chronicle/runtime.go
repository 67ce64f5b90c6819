package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aurelian-io/chronicle/pkg/agent"
	"github.com/aurelian-io/chronicle/pkg/config"
	"github.com/aurelian-io/chronicle/pkg/embedders"
	"github.com/aurelian-io/chronicle/pkg/grading"
	"github.com/aurelian-io/chronicle/pkg/graph"
	"github.com/aurelian-io/chronicle/pkg/llms"
	"github.com/aurelian-io/chronicle/pkg/reasoning"
	"github.com/aurelian-io/chronicle/pkg/tools"
	"github.com/aurelian-io/chronicle/pkg/trace"
	"github.com/aurelian-io/chronicle/pkg/vector"
)

// pipeline owns every long-lived component of the QA stack. The tool
// registry and stores are safe for concurrent use; orchestrators are
// created per question because each carries its own trace.
type pipeline struct {
	cfg *config.Config

	reasoningLLM llms.Provider
	fastLLM      llms.Provider
	embedder     embedders.Embedder
	vectorStore  vector.Provider
	graphStore   *graph.Store
	resolver     *graph.Resolver

	toolRegistry *tools.Registry
	engine       *reasoning.Engine
	grader       *grading.Grader
	refiner      *grading.Refiner
	humanizer    *grading.Humanizer
}

func buildPipeline(ctx context.Context, cfg *config.Config) (*pipeline, error) {
	p := &pipeline{cfg: cfg}

	llmRegistry := llms.NewRegistry()
	reasoningLLM, err := llmRegistry.CreateFromConfig(config.RoleReasoning, &cfg.LLMs.Reasoning)
	if err != nil {
		return nil, fmt.Errorf("reasoning llm: %w", err)
	}
	p.reasoningLLM = reasoningLLM

	fastLLM, err := llmRegistry.CreateFromConfig(config.RoleFast, &cfg.LLMs.Fast)
	if err != nil {
		return nil, fmt.Errorf("fast llm: %w", err)
	}
	p.fastLLM = fastLLM

	p.graphStore, err = graph.NewStore(ctx, &cfg.Graph)
	if err != nil {
		return nil, fmt.Errorf("graph store: %w", err)
	}

	p.resolver, err = graph.NewResolverFromFile(p.graphStore, cfg.Aliases.TablePath)
	if err != nil {
		p.Close(ctx)
		return nil, fmt.Errorf("alias resolver: %w", err)
	}

	p.embedder, err = embedders.NewFromConfig(&cfg.Embedder)
	if err != nil {
		p.Close(ctx)
		return nil, fmt.Errorf("embedder: %w", err)
	}

	p.vectorStore, err = vector.NewQdrantProviderFromConfig(&cfg.Vector)
	if err != nil {
		p.Close(ctx)
		return nil, fmt.Errorf("vector store: %w", err)
	}

	p.toolRegistry = tools.NewRegistry()
	for _, tool := range []tools.Tool{
		tools.NewLookupKnowledgeTool(p.graphStore, p.resolver),
		tools.NewFindConnectionTool(p.graphStore, p.resolver),
		tools.NewTrackJourneyTool(p.graphStore, p.resolver),
		tools.NewCharacterEventsTool(p.graphStore, p.resolver),
		tools.NewSearchMemoryTool(p.embedder, p.vectorStore, p.resolver),
	} {
		if err := p.toolRegistry.RegisterTool(tool); err != nil {
			p.Close(ctx)
			return nil, fmt.Errorf("tool registration: %w", err)
		}
	}

	p.engine = reasoning.NewEngine(p.reasoningLLM, p.toolRegistry, cfg.Agent.MaxIterations)
	p.grader = grading.NewGrader(p.fastLLM, cfg.Agent.Grader)
	p.refiner = grading.NewRefiner(p.fastLLM)
	p.humanizer = grading.NewHumanizer(p.fastLLM)

	slog.Info("pipeline ready",
		"reasoning_model", p.reasoningLLM.GetModelName(),
		"fast_model", p.fastLLM.GetModelName(),
		"embedder", p.embedder.GetModelName(),
		"tools", p.toolRegistry.Names())
	return p, nil
}

// orchestrator builds a per-question orchestrator with a fresh trace
// recorder.
func (p *pipeline) orchestrator(opts ...agent.Option) *agent.Orchestrator {
	recorder := trace.NewRecorder(p.cfg.Trace.Dir, p.cfg.Trace.IsEnabled())
	return agent.NewOrchestrator(p.engine, p.grader, p.refiner, p.humanizer, recorder, p.cfg.Agent, opts...)
}

func (p *pipeline) Close(ctx context.Context) {
	if p.vectorStore != nil {
		if err := p.vectorStore.Close(); err != nil {
			slog.Warn("vector store close failed", "error", err)
		}
	}
	if p.embedder != nil {
		if err := p.embedder.Close(); err != nil {
			slog.Warn("embedder close failed", "error", err)
		}
	}
	if p.graphStore != nil {
		if err := p.graphStore.Close(ctx); err != nil {
			slog.Warn("graph store close failed", "error", err)
		}
	}
	if p.reasoningLLM != nil {
		_ = p.reasoningLLM.Close()
	}
	if p.fastLLM != nil {
		_ = p.fastLLM.Close()
	}
}
