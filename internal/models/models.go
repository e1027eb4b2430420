package models

import (
	"fmt"
	"strings"
)

// EntityType is the kind of a code entity in the knowledge graph
type EntityType string

const (
	EntityProject   EntityType = "Project"
	EntityFile      EntityType = "File"
	EntityModule    EntityType = "Module"
	EntityClass     EntityType = "Class"
	EntityInterface EntityType = "Interface"
	EntityFunction  EntityType = "Function"
	EntityMethod    EntityType = "Method"
	EntityVariable  EntityType = "Variable"

	// EntityUnknown marks a placeholder node created for a relationship
	// endpoint whose entity has not been committed yet.
	EntityUnknown EntityType = "Unknown"
)

// EntityTypes lists the materialized entity kinds in schema order.
var EntityTypes = []EntityType{
	EntityProject, EntityFile, EntityModule, EntityClass,
	EntityInterface, EntityFunction, EntityMethod, EntityVariable,
}

// ParseEntityType converts a case-insensitive name into an EntityType
func ParseEntityType(s string) (EntityType, error) {
	for _, t := range append(EntityTypes, EntityUnknown) {
		if strings.EqualFold(string(t), s) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown entity type %q", s)
}

// IsContainer reports whether entities of this type only group other entities.
func (t EntityType) IsContainer() bool {
	return t == EntityProject || t == EntityFile || t == EntityModule
}

// Visibility is the declared access level of an entity
type Visibility string

const (
	VisibilityPublic    Visibility = "Public"
	VisibilityProtected Visibility = "Protected"
	VisibilityPrivate   Visibility = "Private"
	VisibilityPackage   Visibility = "Package"
)

// RelationshipType is the kind of a directed edge between two entities
type RelationshipType string

const (
	RelContains   RelationshipType = "CONTAINS"
	RelCalls      RelationshipType = "CALLS"
	RelExtends    RelationshipType = "EXTENDS"
	RelImplements RelationshipType = "IMPLEMENTS"
	RelImports    RelationshipType = "IMPORTS"
	RelDefines    RelationshipType = "DEFINES"
)

// RelationshipTypes lists every edge kind in the schema.
var RelationshipTypes = []RelationshipType{
	RelContains, RelCalls, RelExtends, RelImplements, RelImports, RelDefines,
}

// ParseRelationshipType converts a case-insensitive name into a RelationshipType
func ParseRelationshipType(s string) (RelationshipType, error) {
	for _, t := range RelationshipTypes {
		if strings.EqualFold(string(t), s) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown relationship type %q", s)
}

// IsStructural reports whether the edge expresses containment rather than a reference.
func (t RelationshipType) IsStructural() bool {
	return t == RelContains || t == RelDefines
}

// Resolution records how a relationship target was bound
type Resolution string

const (
	// ResolutionExact: the target was bound unambiguously (declaration in scope or import binding)
	ResolutionExact Resolution = "exact"
	// ResolutionHeuristic: the target was matched by name across the project
	ResolutionHeuristic Resolution = "heuristic"
	// ResolutionExternal: the target lives outside the project and stays a placeholder
	ResolutionExternal Resolution = "external"
	// ResolutionUnresolved: emitted by parsers for names they could not bind; never persisted
	ResolutionUnresolved Resolution = "unresolved"
)

// CodeEntity is a named, located unit of source code.
// (ProjectName, QualifiedName) is its identity key.
type CodeEntity struct {
	ProjectName   string     `json:"project_name"`
	QualifiedName string     `json:"qualified_name"`
	Name          string     `json:"name"`
	EntityType    EntityType `json:"entity_type"`
	Language      string     `json:"language,omitempty"`
	FilePath      string     `json:"file_path,omitempty"`
	StartLine     int        `json:"start_line"`
	EndLine       int        `json:"end_line"`
	Visibility    Visibility `json:"visibility,omitempty"`
	Exported      bool       `json:"exported,omitempty"`
}

// IsPlaceholder reports whether the entity is an uncommitted relationship endpoint
func (e CodeEntity) IsPlaceholder() bool {
	return e.EntityType == EntityUnknown
}

// Relationship is a directed, typed edge between two qualified names
type Relationship struct {
	SourceQualifiedName string           `json:"source_qualified_name"`
	TargetQualifiedName string           `json:"target_qualified_name"`
	RelationshipType    RelationshipType `json:"relationship_type"`
	ProjectName         string           `json:"project_name"`
	Resolution          Resolution       `json:"resolution,omitempty"`
	Line                int              `json:"line,omitempty"`
}

// Key returns the identity of the edge within a project
func (r Relationship) Key() string {
	return string(r.RelationshipType) + "\x00" + r.SourceQualifiedName + "\x00" + r.TargetQualifiedName
}

// IsHeuristic reports whether the edge was bound by name matching
func (r Relationship) IsHeuristic() bool {
	return r.Resolution == ResolutionHeuristic
}

// ParseError describes a per-file failure reported by a parser plugin
type ParseError struct {
	FilePath string `json:"file_path"`
	Line     int    `json:"line,omitempty"`
	Message  string `json:"message"`
}

func (e ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.FilePath, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.FilePath, e.Message)
}

// Metadata keys carried on a ParseResult
const (
	MetaModuleName    = "module_name"
	MetaParserVersion = "parser_version"
	MetaContentHash   = "content_hash"
)

// ParseResult is the output of parsing a single file, or the aggregate of many
type ParseResult struct {
	FilePath      string            `json:"file_path,omitempty"`
	Language      string            `json:"language,omitempty"`
	Entities      []CodeEntity      `json:"entities"`
	Relationships []Relationship    `json:"relationships"`
	Errors        []ParseError      `json:"errors,omitempty"`
	Warnings      []string          `json:"warnings,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// NewParseResult returns an empty result for a file
func NewParseResult(filePath, language string) *ParseResult {
	return &ParseResult{
		FilePath: filePath,
		Language: language,
		Metadata: make(map[string]string),
	}
}

// AddError records a failure and discards any partial extraction,
// so a file with errors never contributes entities.
func (r *ParseResult) AddError(line int, format string, args ...any) {
	r.Errors = append(r.Errors, ParseError{
		FilePath: r.FilePath,
		Line:     line,
		Message:  fmt.Sprintf(format, args...),
	})
	r.Entities = nil
	r.Relationships = nil
}

// AddWarning records a non-fatal issue
func (r *ParseResult) AddWarning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// HasErrors reports whether parsing failed
func (r *ParseResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// SetProject stamps the project name on every entity and relationship
func (r *ParseResult) SetProject(project string) {
	for i := range r.Entities {
		r.Entities[i].ProjectName = project
	}
	for i := range r.Relationships {
		r.Relationships[i].ProjectName = project
	}
}
