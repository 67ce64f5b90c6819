package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/aurelian-io/chronicle/pkg/agent"
	"github.com/aurelian-io/chronicle/pkg/config"
	"github.com/aurelian-io/chronicle/pkg/graph"
	"github.com/aurelian-io/chronicle/pkg/reasoning"
	"github.com/aurelian-io/chronicle/pkg/tools"
)

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()
	return ctx, cancel
}

// AskCmd answers a single question, streaming the reasoning to stderr.
type AskCmd struct {
	Question string `arg:"" help:"Question to answer."`
	Stream   *bool  `default:"true" negatable:"" help:"Stream reasoning to stderr (use --no-stream to disable)."`
	Grading  *bool  `default:"true" negatable:"" help:"Grade and retry the answer (use --no-grading for a single ungraded pass)."`
	TraceDir string `name:"trace-dir" help:"Override the trace output directory." type:"path"`
}

func (c *AskCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	if c.TraceDir != "" {
		cfg.Trace.Dir = c.TraceDir
	}

	p, err := buildPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.Close(context.Background())

	stream := c.Stream == nil || *c.Stream
	if c.Grading != nil && !*c.Grading {
		return c.runUngraded(ctx, p, stream)
	}

	var opts []agent.Option
	if stream {
		opts = append(opts, agent.WithEventSink(streamToStderr))
	}

	outcome, err := p.orchestrator(opts...).Answer(ctx, c.Question)
	if err != nil {
		return err
	}

	fmt.Println(outcome.Answer)
	if !outcome.Passed {
		fmt.Fprintf(os.Stderr, "\n⚠ answer did not pass review after %d attempts", outcome.Attempts)
		if outcome.Verdict != nil && outcome.Verdict.FailReason != "" {
			fmt.Fprintf(os.Stderr, " (%s)", outcome.Verdict.FailReason)
		}
		fmt.Fprintln(os.Stderr)
	}
	if outcome.TracePath != "" {
		slog.Info("trace saved", "path", outcome.TracePath)
	}
	return nil
}

// runUngraded runs one reasoning pass without the grade-and-retry
// loop. Useful for prompt debugging against live stores.
func (c *AskCmd) runUngraded(ctx context.Context, p *pipeline, stream bool) error {
	session := reasoning.NewSession(uuid.NewString())
	ctx = tools.WithSearchLimit(ctx, p.cfg.Agent.LimitForAttempt(1))

	var events chan reasoning.Event
	drained := make(chan struct{})
	if stream {
		events = make(chan reasoning.Event, 16)
		go func() {
			defer close(drained)
			for event := range events {
				streamToStderr(event)
			}
		}()
	} else {
		close(drained)
	}

	result, err := p.engine.Run(ctx, session, c.Question, events)
	if events != nil {
		close(events)
	}
	<-drained
	if err != nil {
		return err
	}

	fmt.Println(result.Answer)
	return nil
}

func streamToStderr(event reasoning.Event) {
	switch event.Type {
	case reasoning.EventReasoningDelta:
		fmt.Fprint(os.Stderr, event.Delta)
	case reasoning.EventToolResult:
		fmt.Fprintf(os.Stderr, "\n⚙ %s → %d ms\n", event.ToolCall.Tool, event.ToolCall.DurationMs)
	}
}

// BatchCmd answers one question per input line and writes JSON lines.
type BatchCmd struct {
	File        string `arg:"" help:"File with one question per line." type:"path"`
	Output      string `short:"o" help:"Output file for JSON lines (default stdout)." type:"path"`
	Concurrency int    `help:"Questions answered in parallel." default:"2"`
}

type batchResult struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Passed   bool   `json:"passed"`
	Attempts int    `json:"attempts"`
	Score    int    `json:"score"`
	Trace    string `json:"trace,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (c *BatchCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	questions, err := readQuestions(c.File)
	if err != nil {
		return err
	}
	if len(questions) == 0 {
		return fmt.Errorf("no questions in %s", c.File)
	}

	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}

	p, err := buildPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.Close(context.Background())

	results := make([]batchResult, len(questions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.Concurrency)

	for i, question := range questions {
		g.Go(func() error {
			slog.Info("batch question started", "index", i+1, "total", len(questions))
			results[i] = batchResult{Question: question}

			outcome, err := p.orchestrator().Answer(gctx, question)
			if err != nil {
				// Cancellation stops the batch; other failures just
				// mark this question and keep going.
				if gctx.Err() != nil {
					return gctx.Err()
				}
				results[i].Error = err.Error()
				return nil
			}

			results[i].Answer = outcome.Answer
			results[i].Passed = outcome.Passed
			results[i].Attempts = outcome.Attempts
			if outcome.Verdict != nil {
				results[i].Score = outcome.Verdict.Score
			}
			results[i].Trace = outcome.TracePath
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return c.writeResults(results)
}

func (c *BatchCmd) writeResults(results []batchResult) error {
	out := os.Stdout
	if c.Output != "" {
		file, err := os.Create(c.Output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer file.Close()
		out = file
	}

	encoder := json.NewEncoder(out)
	for _, result := range results {
		if err := encoder.Encode(result); err != nil {
			return err
		}
	}

	passed := 0
	for _, result := range results {
		if result.Passed {
			passed++
		}
	}
	slog.Info("batch finished", "questions", len(results), "passed", passed)
	return nil
}

func readQuestions(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open questions file: %w", err)
	}
	defer file.Close()

	var questions []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		questions = append(questions, line)
	}
	return questions, scanner.Err()
}

// ResolveCmd resolves a surface name against the alias table and the
// graph's fulltext index, then lists the canonical node's aliases.
type ResolveCmd struct {
	Name string `arg:"" help:"Entity name to resolve."`
}

func (c *ResolveCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}

	store, err := graph.NewStore(ctx, &cfg.Graph)
	if err != nil {
		return err
	}
	defer store.Close(context.Background())

	resolver, err := graph.NewResolverFromFile(store, cfg.Aliases.TablePath)
	if err != nil {
		return err
	}

	canonical := resolver.Resolve(ctx, c.Name)
	fmt.Printf("%s → %s\n", c.Name, canonical)

	names := resolver.Expand(ctx, canonical)
	if len(names) > 1 {
		fmt.Println("Known names:")
		for _, name := range names {
			fmt.Printf("  - %s\n", name)
		}
	}
	return nil
}
