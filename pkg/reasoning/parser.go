package reasoning

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/aurelian-io/chronicle/pkg/llms"
)

// Step is one parsed round of model output: either a tool invocation
// or a final answer.
type Step struct {
	Thought     string
	Action      string
	ActionInput map[string]interface{}
	Answer      string
}

func (s *Step) IsAction() bool { return s.Action != "" }
func (s *Step) IsAnswer() bool { return s.Answer != "" }

var (
	thoughtRe = regexp.MustCompile(`(?m)^\s*Thought:\s*(.*)$`)
	actionRe  = regexp.MustCompile(`(?m)^\s*Action:\s*(\S+)\s*$`)
	answerRe  = regexp.MustCompile(`(?ms)^\s*Answer:\s*(.*)\z`)
)

// ParseStep extracts the Thought/Action/Action Input or Answer from
// one round of model text. Models occasionally emit both an Action and
// an Answer in one round; the Answer wins only when no Action precedes
// it, matching the protocol's "act first, answer last" contract.
func ParseStep(text string) (*Step, error) {
	step := &Step{}

	if m := thoughtRe.FindStringSubmatch(text); m != nil {
		step.Thought = strings.TrimSpace(m[1])
	}

	actionMatch := actionRe.FindStringSubmatchIndex(text)
	if actionMatch != nil {
		step.Action = strings.TrimSpace(text[actionMatch[2]:actionMatch[3]])

		rest := text[actionMatch[1]:]
		inputIdx := strings.Index(rest, "Action Input:")
		if inputIdx < 0 {
			return nil, fmt.Errorf("action %q has no Action Input block", step.Action)
		}

		raw, err := llms.ExtractJSONObject(rest[inputIdx+len("Action Input:"):])
		if err != nil {
			return nil, fmt.Errorf("action %q has malformed Action Input: %w", step.Action, err)
		}

		args := map[string]interface{}{}
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return nil, fmt.Errorf("action %q has unparseable Action Input: %w", step.Action, err)
		}
		step.ActionInput = args
		return step, nil
	}

	if m := answerRe.FindStringSubmatch(text); m != nil {
		step.Answer = strings.TrimSpace(m[1])
		return step, nil
	}

	// Neither an Action nor an Answer marker: treat the whole round as
	// the answer. Models drop the marker on short factual replies.
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, fmt.Errorf("empty model output")
	}
	step.Answer = trimmed
	return step, nil
}
