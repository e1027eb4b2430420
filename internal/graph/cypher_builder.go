package graph

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rohankatakam/codegraph/internal/models"
)

// baseLabel is carried by every node next to its entity label
const baseLabel = "CodeEntity"

// schemaStatements create the identity constraint and the project index
var schemaStatements = []string{
	`CREATE CONSTRAINT code_entity_identity IF NOT EXISTS
	 FOR (n:CodeEntity) REQUIRE (n.project_name, n.qualified_name) IS UNIQUE`,
	`CREATE INDEX code_entity_project IF NOT EXISTS
	 FOR (n:CodeEntity) ON (n.project_name)`,
}

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// CypherBuilder builds parameterized Cypher queries.
// Labels and relationship types cannot be parameters, so they are validated
// against the schema and the identifier pattern; every value goes through AddParam.
type CypherBuilder struct {
	params  map[string]any
	counter int
}

// NewCypherBuilder creates a query builder
func NewCypherBuilder() *CypherBuilder {
	return &CypherBuilder{params: make(map[string]any)}
}

// AddParam adds a parameter and returns its placeholder
func (b *CypherBuilder) AddParam(value any) string {
	name := fmt.Sprintf("p%d", b.counter)
	b.counter++
	b.params[name] = value
	return "$" + name
}

// Params returns all parameters for the query
func (b *CypherBuilder) Params() map[string]any {
	return b.params
}

// BuildUpsertEntities creates an UNWIND/MERGE query for entities of one type.
// A matched node gets its attributes overwritten and any other entity label
// removed, which promotes placeholders in place.
func (b *CypherBuilder) BuildUpsertEntities(project string, entityType models.EntityType, entities []models.CodeEntity) (string, error) {
	if err := validEntityLabel(entityType); err != nil {
		return "", err
	}
	if entityType == models.EntityUnknown {
		return "", fmt.Errorf("placeholder entities cannot be written directly")
	}

	rows := make([]map[string]any, len(entities))
	for i, e := range entities {
		if e.EntityType != entityType {
			return "", fmt.Errorf("entity %s has type %s, batch is %s", e.QualifiedName, e.EntityType, entityType)
		}
		rows[i] = map[string]any{
			"qualified_name": e.QualifiedName,
			"props":          entityProps(e),
		}
	}

	var stale []string
	for _, t := range append(models.EntityTypes, models.EntityUnknown) {
		if t != entityType {
			stale = append(stale, string(t))
		}
	}

	projectParam := b.AddParam(project)
	rowsParam := b.AddParam(rows)
	return fmt.Sprintf(
		`UNWIND %s AS row
MERGE (n:%s {project_name: %s, qualified_name: row.qualified_name})
SET n += row.props, n:%s
REMOVE n:%s`,
		rowsParam, baseLabel, projectParam, entityType, strings.Join(stale, ":"),
	), nil
}

// BuildUpsertRelationships creates an UNWIND/MERGE query for edges of one type.
// Endpoints that do not exist yet are created as Unknown placeholders.
func (b *CypherBuilder) BuildUpsertRelationships(project string, relType models.RelationshipType, rels []models.Relationship) (string, error) {
	if err := validRelationshipType(relType); err != nil {
		return "", err
	}

	rows := make([]map[string]any, len(rels))
	for i, r := range rels {
		if r.RelationshipType != relType {
			return "", fmt.Errorf("relationship %s->%s has type %s, batch is %s",
				r.SourceQualifiedName, r.TargetQualifiedName, r.RelationshipType, relType)
		}
		rows[i] = map[string]any{
			"source":      r.SourceQualifiedName,
			"source_name": shortName(r.SourceQualifiedName),
			"target":      r.TargetQualifiedName,
			"target_name": shortName(r.TargetQualifiedName),
			"resolution":  string(r.Resolution),
			"line":        int64(r.Line),
		}
	}

	projectParam := b.AddParam(project)
	rowsParam := b.AddParam(rows)
	unknown := b.AddParam(string(models.EntityUnknown))
	return fmt.Sprintf(
		`UNWIND %[1]s AS row
MERGE (s:%[2]s {project_name: %[3]s, qualified_name: row.source})
ON CREATE SET s.entity_type = %[4]s, s.name = row.source_name, s:Unknown
MERGE (t:%[2]s {project_name: %[3]s, qualified_name: row.target})
ON CREATE SET t.entity_type = %[4]s, t.name = row.target_name, t:Unknown
MERGE (s)-[r:%[5]s {project_name: %[3]s}]->(t)
SET r.resolution = row.resolution, r.line = row.line`,
		rowsParam, baseLabel, projectParam, unknown, relType,
	), nil
}

// BuildMatchEntities lists nodes of a project, optionally narrowed to one entity label
func (b *CypherBuilder) BuildMatchEntities(project string, entityType models.EntityType) (string, error) {
	label := baseLabel
	if entityType != "" {
		if err := validEntityLabel(entityType); err != nil {
			return "", err
		}
		label += ":" + string(entityType)
	}
	return fmt.Sprintf(
		"MATCH (n:%s {project_name: %s}) RETURN properties(n) AS props ORDER BY n.qualified_name",
		label, b.AddParam(project),
	), nil
}

// BuildMatchRelationships lists edges of a project, optionally narrowed to one type
func (b *CypherBuilder) BuildMatchRelationships(project string, relType models.RelationshipType) (string, error) {
	pattern := "r"
	if relType != "" {
		if err := validRelationshipType(relType); err != nil {
			return "", err
		}
		pattern += ":" + string(relType)
	}
	return fmt.Sprintf(
		`MATCH (s:%[1]s {project_name: %[2]s})-[%[3]s {project_name: %[2]s}]->(t:%[1]s)
RETURN s.qualified_name AS source, t.qualified_name AS target, type(r) AS rel_type,
       r.resolution AS resolution, r.line AS line
ORDER BY rel_type, source, target`,
		baseLabel, b.AddParam(project), pattern,
	), nil
}

// BuildMatchNeighbors lists nodes adjacent to one entity
func (b *CypherBuilder) BuildMatchNeighbors(project, qualifiedName string, relType models.RelationshipType, dir Direction) (string, error) {
	rel := "r"
	if relType != "" {
		if err := validRelationshipType(relType); err != nil {
			return "", err
		}
		rel += ":" + string(relType)
	}

	projectParam := b.AddParam(project)
	var arrow string
	switch dir {
	case Outgoing:
		arrow = fmt.Sprintf("-[%s {project_name: %s}]->", rel, projectParam)
	case Incoming:
		arrow = fmt.Sprintf("<-[%s {project_name: %s}]-", rel, projectParam)
	case Both, "":
		arrow = fmt.Sprintf("-[%s {project_name: %s}]-", rel, projectParam)
	default:
		return "", fmt.Errorf("invalid direction %q", dir)
	}

	return fmt.Sprintf(
		`MATCH (n:%[1]s {project_name: %[2]s, qualified_name: %[3]s})%[4]s(m:%[1]s)
RETURN DISTINCT properties(m) AS props ORDER BY props.qualified_name`,
		baseLabel, projectParam, b.AddParam(qualifiedName), arrow,
	), nil
}

// BuildLookupEntity fetches a single node by identity
func (b *CypherBuilder) BuildLookupEntity(project, qualifiedName string) string {
	return fmt.Sprintf(
		"MATCH (n:%s {project_name: %s, qualified_name: %s}) RETURN properties(n) AS props",
		baseLabel, b.AddParam(project), b.AddParam(qualifiedName),
	)
}

func entityProps(e models.CodeEntity) map[string]any {
	return map[string]any{
		"name":        e.Name,
		"entity_type": string(e.EntityType),
		"language":    e.Language,
		"file_path":   e.FilePath,
		"start_line":  int64(e.StartLine),
		"end_line":    int64(e.EndLine),
		"visibility":  string(e.Visibility),
		"exported":    e.Exported,
	}
}

// entityFromProps converts a node property map back into an entity
func entityFromProps(props map[string]any) models.CodeEntity {
	str := func(k string) string {
		s, _ := props[k].(string)
		return s
	}
	num := func(k string) int {
		n, _ := props[k].(int64)
		return int(n)
	}
	exported, _ := props["exported"].(bool)

	e := models.CodeEntity{
		ProjectName:   str("project_name"),
		QualifiedName: str("qualified_name"),
		Name:          str("name"),
		EntityType:    models.EntityType(str("entity_type")),
		Language:      str("language"),
		FilePath:      str("file_path"),
		StartLine:     num("start_line"),
		EndLine:       num("end_line"),
		Visibility:    models.Visibility(str("visibility")),
		Exported:      exported,
	}
	if e.EntityType == "" {
		e.EntityType = models.EntityUnknown
	}
	return e
}

// placeholder builds the entity stored for an uncommitted endpoint
func placeholder(project, qualifiedName string) models.CodeEntity {
	return models.CodeEntity{
		ProjectName:   project,
		QualifiedName: qualifiedName,
		Name:          shortName(qualifiedName),
		EntityType:    models.EntityUnknown,
	}
}

func shortName(qualifiedName string) string {
	if i := strings.LastIndex(qualifiedName, "."); i >= 0 && i < len(qualifiedName)-1 {
		return qualifiedName[i+1:]
	}
	return qualifiedName
}

func validEntityLabel(t models.EntityType) error {
	if p, err := models.ParseEntityType(string(t)); err != nil || p != t || !isValidIdentifier(string(t)) {
		return fmt.Errorf("invalid node label: %q", t)
	}
	return nil
}

func validRelationshipType(t models.RelationshipType) error {
	if p, err := models.ParseRelationshipType(string(t)); err != nil || p != t || !isValidIdentifier(string(t)) {
		return fmt.Errorf("invalid relationship type: %q", t)
	}
	return nil
}

// isValidIdentifier validates that a string can be safely used as a Cypher identifier
func isValidIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

// dropChunkSize bounds the nodes detached and deleted per transaction
const dropChunkSize = 10000

// BuildDropProjectChunk deletes up to dropChunkSize nodes of a project and
// returns how many went
func (b *CypherBuilder) BuildDropProjectChunk(project string) string {
	p := b.AddParam(project)
	limit := b.AddParam(int64(dropChunkSize))
	return fmt.Sprintf(`MATCH (n:%s {project_name: %s})
WITH n LIMIT %s
DETACH DELETE n
RETURN count(*) AS deleted`, baseLabel, p, limit)
}
