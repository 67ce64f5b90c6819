package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/aurelian-io/chronicle/pkg/config"
)

// RelationTypes is the closed set of edge types the extraction pipeline
// writes. Relation arguments are validated against it before being
// spliced into Cypher.
var RelationTypes = map[string]bool{
	"FRIEND_OF":       true,
	"ENEMY_OF":        true,
	"PARTNER_OF":      true,
	"FAMILY_OF":       true,
	"MEMBER_OF":       true,
	"LEADER_OF":       true,
	"PARTICIPATED_IN": true,
	"EXPERIENCES":     true,
	"MENTIONED_IN":    true,
	"INTERACTS_WITH":  true,
}

// Edge is one direct relationship of an entity.
type Edge struct {
	Relation    string
	Target      string
	TargetType  string
	Description string
	Chapter     string
	TaskID      string
}

// Path is an undirected connection between two entities.
type Path struct {
	Nodes     []string
	Relations []string
	Length    int
}

// TemporalEdge is a relationship carrying chapter/task provenance,
// one step of an entity's timeline.
type TemporalEdge struct {
	Relation string
	Target   string
	Chapter  string
	TaskID   string
	Evidence string
}

// MajorEvent is a plot turning point linked by an EXPERIENCES edge.
type MajorEvent struct {
	Name     string
	Type     string
	Chapter  string
	TaskID   string
	Summary  string
	Evidence string
	Outcome  string
	Role     string
}

// FullTextHit is one scored match from the entity alias index.
type FullTextHit struct {
	Name    string
	Aliases []string
	Score   float64
}

// Store wraps the Neo4j driver behind the read queries the retrieval
// tools need. All methods are safe for concurrent use.
type Store struct {
	driver   neo4j.DriverWithContext
	database string
}

func NewStore(ctx context.Context, cfg *config.GraphConfig) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create Neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect to Neo4j at %s: %w", cfg.URI, err)
	}

	return &Store{driver: driver, database: cfg.Database}, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func (s *Store) run(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	result, err := neo4j.ExecuteQuery(ctx, s.driver, cypher, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(s.database),
		neo4j.ExecuteQueryWithReadersRouting())
	if err != nil {
		return nil, fmt.Errorf("graph query failed: %w", err)
	}

	rows := make([]map[string]any, 0, len(result.Records))
	for _, record := range result.Records {
		rows = append(rows, record.AsMap())
	}
	return rows, nil
}

// Neighbors returns up to limit directly adjacent edges of an entity,
// optionally restricted to one relation type.
func (s *Store) Neighbors(ctx context.Context, canonical, relation string, limit int) ([]Edge, error) {
	relPattern := "r"
	if relation != "" {
		if !RelationTypes[relation] {
			return nil, fmt.Errorf("unknown relation type: %s", relation)
		}
		relPattern = "r:" + relation
	}

	cypher := fmt.Sprintf(`
		MATCH (a {name: $entity})-[%s]-(b)
		RETURN
			type(r) AS relation,
			b.name AS target,
			labels(b)[0] AS target_type,
			b.description AS description,
			r.chapter AS chapter,
			r.task_id AS task_id
		LIMIT $limit`, relPattern)

	rows, err := s.run(ctx, cypher, map[string]any{"entity": canonical, "limit": limit})
	if err != nil {
		return nil, err
	}

	edges := make([]Edge, 0, len(rows))
	for _, row := range rows {
		edges = append(edges, Edge{
			Relation:    asString(row["relation"]),
			Target:      asString(row["target"]),
			TargetType:  asString(row["target_type"]),
			Description: asString(row["description"]),
			Chapter:     asString(row["chapter"]),
			TaskID:      asString(row["task_id"]),
		})
	}
	return edges, nil
}

// ShortestPath finds an undirected path of length <= 4 between two
// canonicals. Paths through region and nation nodes are excluded:
// any two entities in the same region connect trivially through it.
func (s *Store) ShortestPath(ctx context.Context, entity1, entity2 string) (*Path, error) {
	cypher := `
		MATCH path = shortestPath((a {name: $entity1})-[*..4]-(b {name: $entity2}))
		WHERE none(n IN nodes(path) WHERE n:Region OR n:Nation)
		RETURN
			[n IN nodes(path) | n.name] AS path_nodes,
			[r IN relationships(path) | type(r)] AS path_relations,
			length(path) AS path_length`

	rows, err := s.run(ctx, cypher, map[string]any{"entity1": entity1, "entity2": entity2})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	row := rows[0]
	return &Path{
		Nodes:     asStringSlice(row["path_nodes"]),
		Relations: asStringSlice(row["path_relations"]),
		Length:    int(asInt(row["path_length"])),
	}, nil
}

// TemporalEdges returns an entity's outgoing edges that carry chapter
// provenance, sorted chronologically. An empty target means all.
func (s *Store) TemporalEdges(ctx context.Context, source, target string) ([]TemporalEdge, error) {
	cypher := `
		MATCH (a)-[r]->(b)
		WHERE a.name = $source AND r.chapter IS NOT NULL`
	params := map[string]any{"source": source}

	if target != "" {
		cypher += " AND b.name = $target"
		params["target"] = target
	}

	cypher += `
		RETURN
			b.name AS target,
			type(r) AS relation,
			r.chapter AS chapter,
			r.task_id AS task_id,
			r.evidence AS evidence
		ORDER BY r.chapter ASC, r.task_id ASC`

	rows, err := s.run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}

	edges := make([]TemporalEdge, 0, len(rows))
	for _, row := range rows {
		edges = append(edges, TemporalEdge{
			Relation: asString(row["relation"]),
			Target:   asString(row["target"]),
			Chapter:  asString(row["chapter"]),
			TaskID:   asString(row["task_id"]),
			Evidence: asString(row["evidence"]),
		})
	}
	return edges, nil
}

// MajorEvents returns up to limit turning-point events a character
// experienced, oldest chapter first.
func (s *Store) MajorEvents(ctx context.Context, character, eventType string, limit int) ([]MajorEvent, error) {
	cypher := `
		MATCH (c {name: $entity})-[r:EXPERIENCES]->(e:MajorEvent)`
	params := map[string]any{"entity": character, "limit": limit}

	if eventType != "" {
		cypher += " WHERE e.event_type = $event_type"
		params["event_type"] = eventType
	}

	cypher += `
		RETURN
			e.name AS event_name,
			e.event_type AS event_type,
			e.chapter AS chapter,
			e.task_id AS task_id,
			e.summary AS summary,
			e.evidence AS evidence,
			e.outcome AS outcome,
			r.role AS role
		ORDER BY e.chapter ASC
		LIMIT $limit`

	rows, err := s.run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}

	events := make([]MajorEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, MajorEvent{
			Name:     asString(row["event_name"]),
			Type:     asString(row["event_type"]),
			Chapter:  asString(row["chapter"]),
			TaskID:   asString(row["task_id"]),
			Summary:  asString(row["summary"]),
			Evidence: asString(row["evidence"]),
			Outcome:  asString(row["outcome"]),
			Role:     asString(row["role"]),
		})
	}
	return events, nil
}

// SearchFullText queries the entity alias index over character and
// organization names plus aliases, returning scored matches.
func (s *Store) SearchFullText(ctx context.Context, name string) ([]FullTextHit, error) {
	cypher := `
		CALL db.index.fulltext.queryNodes("entity_alias_index", $name)
		YIELD node, score
		RETURN node.name AS name, node.aliases AS aliases, score
		LIMIT 5`

	rows, err := s.run(ctx, cypher, map[string]any{"name": name})
	if err != nil {
		return nil, err
	}

	hits := make([]FullTextHit, 0, len(rows))
	for _, row := range rows {
		score, _ := row["score"].(float64)
		hits = append(hits, FullTextHit{
			Name:    asString(row["name"]),
			Aliases: asStringSlice(row["aliases"]),
			Score:   score,
		})
	}
	return hits, nil
}

// Aliases returns the alias list stored on the named node.
func (s *Store) Aliases(ctx context.Context, canonical string) ([]string, error) {
	cypher := `MATCH (n {name: $name}) RETURN n.aliases AS aliases LIMIT 1`

	rows, err := s.run(ctx, cypher, map[string]any{"name": canonical})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return asStringSlice(rows[0]["aliases"]), nil
}

// ChunkExists reports whether a chunk node carries the given timeline
// key, aligning vector hits back to the graph.
func (s *Store) ChunkExists(ctx context.Context, taskID string, eventOrder int) (bool, error) {
	cypher := `
		MATCH (ch:Chunk {task_id: $task_id, event_order: $event_order})
		RETURN ch.chunk_id AS chunk_id
		LIMIT 1`

	rows, err := s.run(ctx, cypher, map[string]any{"task_id": taskID, "event_order": eventOrder})
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case int64:
		return fmt.Sprintf("%d", s)
	case float64:
		return fmt.Sprintf("%g", s)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", s)
	}
}

func asInt(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func asStringSlice(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
