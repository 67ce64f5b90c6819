package reasoning

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aurelian-io/chronicle/pkg/tools"
)

// The tool protocol is plain text rather than provider function
// calling: the controller needs to see and stream the raw reasoning,
// and the grader later reads the same transcript.
const protocolInstructions = `You are a story analyst answering questions about a large Chinese narrative corpus.
You have access to a knowledge graph of characters, organizations and events, and a
semantic index over the original story text. Answer in the language of the question.

Rules of evidence:
- Never speculate. Every claim must be grounded in a tool observation.
- Quote original dialogue where possible; answers that only summarize score poorly.
- Cite sources as (chapter N, task T) when the observation provides them.
- search_memory is the only tool that returns story text. Relationship questions
  usually need it in addition to the graph tools.
- If the evidence genuinely does not answer the question, say what you verified and
  what remains unknown. Do not invent an answer.

To use a tool, reply in exactly this format:

Thought: <why this tool, what you expect to learn>
Action: <tool name, one of the tools listed below>
Action Input: <JSON object with the tool's parameters>

After each Action you will receive an Observation with the tool's output.
Continue the Thought/Action cycle until you have sufficient evidence, then reply:

Thought: <how the evidence answers the question>
Answer: <the final answer, with citations>

Available tools:

`

// BuildSystemPrompt renders the protocol instructions plus the tool
// catalog the way the reasoning model sees it.
func BuildSystemPrompt(infos []tools.ToolInfo) string {
	var b strings.Builder
	b.WriteString(protocolInstructions)

	for _, info := range infos {
		fmt.Fprintf(&b, "### %s\n%s\n", info.Name, info.Description)
		if len(info.Parameters) > 0 {
			b.WriteString("Parameters:\n")
			for _, p := range info.Parameters {
				required := "optional"
				if p.Required {
					required = "required"
				}
				fmt.Fprintf(&b, "- %s (%s, %s): %s", p.Name, p.Type, required, p.Description)
				if len(p.Enum) > 0 {
					fmt.Fprintf(&b, " One of: %s.", strings.Join(p.Enum, ", "))
				}
				if p.Default != nil {
					raw, _ := json.Marshal(p.Default)
					fmt.Fprintf(&b, " Default: %s.", raw)
				}
				b.WriteString("\n")
			}
		}
		b.WriteString("\n")
	}

	return b.String()
}
