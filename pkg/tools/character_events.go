package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

const eventLimit = 20

// EventTypes is the fixed taxonomy of major plot events, mapped to
// the localized label shown in reports.
var EventTypes = map[string]string{
	"sacrifice":      "牺牲",
	"transformation": "转变",
	"acquisition":    "获得",
	"loss":           "失去",
	"encounter":      "相遇",
	"conflict":       "冲突",
	"revelation":     "揭示",
	"milestone":      "里程碑",
}

var roleLabels = map[string]string{
	"subject": "主动",
	"object":  "被动",
	"witness": "见证",
}

func validEventTypes() string {
	types := make([]string, 0, len(EventTypes))
	for t := range EventTypes {
		types = append(types, t)
	}
	sort.Strings(types)
	return strings.Join(types, ", ")
}

// CharacterEventsTool returns a character's major plot events. It
// bridges abstract questions ("how did X come back?") to the concrete
// narrative facts scattered across many tasks ("gave up her body",
// "became moonlight").
type CharacterEventsTool struct {
	store    GraphReader
	resolver Aliaser
}

func NewCharacterEventsTool(store GraphReader, resolver Aliaser) *CharacterEventsTool {
	return &CharacterEventsTool{store: store, resolver: resolver}
}

func (t *CharacterEventsTool) GetName() string {
	return "get_character_events"
}

func (t *CharacterEventsTool) GetDescription() string {
	return "Get a character's major events and turning points, sorted by chapter"
}

func (t *CharacterEventsTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name: t.GetName(),
		Description: "Get a character's major events and turning points from the knowledge graph, sorted by chapter. " +
			"Use for abstract questions like 'what happened to X' or 'how did X change': " +
			"the answer is often a chain of concrete events this tool surfaces. " +
			"Follow up with search_memory on a specific event for the actual dialogue.",
		Parameters: []ToolParameter{
			{
				Name:        "entity",
				Type:        "string",
				Description: "Character name (aliases resolve automatically)",
				Required:    true,
			},
			{
				Name:        "event_type",
				Type:        "string",
				Description: "Optional event type filter",
				Required:    false,
				Enum: []string{
					"sacrifice", "transformation", "acquisition", "loss",
					"encounter", "conflict", "revelation", "milestone",
				},
			},
		},
	}
}

func (t *CharacterEventsTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()

	entity := stringArg(args, "entity")
	if entity == "" {
		return errorResult(t.GetName(), "entity parameter is required", start),
			fmt.Errorf("entity parameter is required")
	}

	eventType := stringArg(args, "event_type")
	if eventType != "" {
		if _, ok := EventTypes[eventType]; !ok {
			msg := fmt.Sprintf("Invalid event type '%s'.\n\nValid types: %s\n\nRetry with a valid event type.",
				eventType, validEventTypes())
			return errorResult(t.GetName(), msg, start), nil
		}
	}

	canonical := t.resolver.Resolve(ctx, entity)

	events, err := t.store.MajorEvents(ctx, canonical, eventType, eventLimit)
	if err != nil {
		return errorResult(t.GetName(), fmt.Sprintf("event query failed: %v", err), start), err
	}

	if len(events) == 0 {
		msg := fmt.Sprintf("No major events found for '%s'", entity)
		if eventType != "" {
			msg += fmt.Sprintf(" (type: %s %s)", eventType, EventTypes[eventType])
		}
		msg += ".\n\nSuggestions:\n"
		msg += fmt.Sprintf("1. Use track_journey(entity=%q) to see the relationship timeline.\n", entity)
		query := entity
		if eventType != "" {
			query += " " + eventType
		}
		msg += fmt.Sprintf("2. Use search_memory(query=%q) to search related dialogue.", query)
		return successResult(t.GetName(), msg, start), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Major events: %s\n", canonical)
	if eventType != "" {
		fmt.Fprintf(&b, "(filtered by type: %s %s)\n", eventType, EventTypes[eventType])
	}
	b.WriteString("\n")

	currentChapter := ""
	first := true
	for _, event := range events {
		if event.Chapter != currentChapter {
			if !first {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "### Chapter %s\n", event.Chapter)
			currentChapter = event.Chapter
		}
		first = false

		typeLabel := EventTypes[event.Type]
		if typeLabel == "" {
			typeLabel = event.Type
		}
		roleLabel := roleLabels[event.Role]
		if roleLabel == "" {
			roleLabel = event.Role
		}

		fmt.Fprintf(&b, "\n**%s** [%s] (%s)\n", event.Name, typeLabel, roleLabel)
		if event.Summary != "" {
			fmt.Fprintf(&b, "  - summary: %s\n", event.Summary)
		}
		if event.Outcome != "" {
			fmt.Fprintf(&b, "  - outcome: %s\n", event.Outcome)
		}
		if event.Evidence != "" {
			fmt.Fprintf(&b, "  - evidence: %q\n", truncate(event.Evidence, 100))
		}
	}

	fmt.Fprintf(&b, "\n%d major events found.\n", len(events))
	b.WriteString("\n**Tip**: use search_memory on a specific event for the detailed story.\n")

	return successResult(t.GetName(), b.String(), start), nil
}
