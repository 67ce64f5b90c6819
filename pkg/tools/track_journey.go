package tools

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// TrackJourneyTool renders the timeline of an entity's relationship
// changes: every edge carrying chapter provenance, grouped by chapter.
type TrackJourneyTool struct {
	store    GraphReader
	resolver Aliaser
}

func NewTrackJourneyTool(store GraphReader, resolver Aliaser) *TrackJourneyTool {
	return &TrackJourneyTool{store: store, resolver: resolver}
}

func (t *TrackJourneyTool) GetName() string {
	return "track_journey"
}

func (t *TrackJourneyTool) GetDescription() string {
	return "Track the timeline of a character's relationship changes across chapters"
}

func (t *TrackJourneyTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name: t.GetName(),
		Description: "Track how a character's relationships evolved over time, sorted by chapter. " +
			"Returns state changes, not story detail. " +
			"Use for questions like 'what did X go through' or 'how did the relationship between X and Y develop'. " +
			"After finding an interesting chapter, use search_memory for the actual scenes.",
		Parameters: []ToolParameter{
			{
				Name:        "entity",
				Type:        "string",
				Description: "The character whose journey to track",
				Required:    true,
			},
			{
				Name:        "target",
				Type:        "string",
				Description: "Optional second character, restricting the timeline to their relationship",
				Required:    false,
			},
		},
	}
}

func (t *TrackJourneyTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()

	entity := stringArg(args, "entity")
	if entity == "" {
		return errorResult(t.GetName(), "entity parameter is required", start),
			fmt.Errorf("entity parameter is required")
	}
	target := stringArg(args, "target")

	canonical := t.resolver.Resolve(ctx, entity)
	canonicalTarget := ""
	if target != "" {
		canonicalTarget = t.resolver.Resolve(ctx, target)
	}

	history, err := t.store.TemporalEdges(ctx, canonical, canonicalTarget)
	if err != nil {
		return errorResult(t.GetName(), fmt.Sprintf("timeline query failed: %v", err), start), err
	}

	if len(history) == 0 {
		msg := fmt.Sprintf("No timeline found for '%s'", entity)
		if target != "" {
			msg += fmt.Sprintf(" (relationship with '%s')", target)
		}
		msg += fmt.Sprintf(".\n\nSuggestion: use search_memory(query=%q, sort_by=\"time\") to search story content chronologically.",
			strings.TrimSpace(entity+" "+target))
		return successResult(t.GetName(), msg, start), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Timeline: %s\n", canonical)
	if target != "" {
		fmt.Fprintf(&b, "(relationship with %s)\n", canonicalTarget)
	}
	b.WriteString("\n")

	currentChapter := ""
	first := true
	for _, event := range history {
		if event.Chapter != currentChapter {
			if !first {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "### Chapter %s\n", event.Chapter)
			currentChapter = event.Chapter
		}
		first = false

		fmt.Fprintf(&b, "- [%s] → %s", event.Relation, event.Target)
		if event.TaskID != "" {
			fmt.Fprintf(&b, " (task: %s)", event.TaskID)
		}
		b.WriteString("\n")

		if event.Evidence != "" {
			fmt.Fprintf(&b, "  > evidence: %s\n", truncate(event.Evidence, 150))
		}
	}

	fmt.Fprintf(&b, "\n%d relationship events found.\n", len(history))
	b.WriteString("\n**Tip**: use search_memory for the detailed story behind any of these events.\n")

	return successResult(t.GetName(), b.String(), start), nil
}
