package treesitter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/rohankatakam/codegraph/internal/models"
)

// DetectLanguage returns language identifier from file extension
func DetectLanguage(filePath string) string {
	ext := strings.ToLower(filepath.Ext(filePath))

	langMap := map[string]string{
		".js":  "javascript",
		".jsx": "javascript",
		".mjs": "javascript",
		".cjs": "javascript",
		".ts":  "typescript",
		".tsx": "typescript",
		".mts": "typescript",
		".cts": "typescript",
		".py":  "python",
		".pyi": "python",
	}

	return langMap[ext]
}

// ContentHash returns the hex sha256 of file content
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// RelativePath returns filePath relative to projectRoot in slash form
func RelativePath(filePath, projectRoot string) string {
	if projectRoot == "" {
		return filepath.ToSlash(filePath)
	}
	rel, err := filepath.Rel(projectRoot, filePath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(filepath.Base(filePath))
	}
	return filepath.ToSlash(rel)
}

// dottedModule turns "pkg/sub/mod.py" into "pkg.sub.mod"
func dottedModule(relPath string) string {
	trimmed := strings.TrimSuffix(relPath, path.Ext(relPath))
	trimmed = strings.TrimPrefix(trimmed, "./")
	return strings.ReplaceAll(trimmed, "/", ".")
}

// sourceUnit is what every extractor receives for one file
type sourceUnit struct {
	relPath string
	module  string
	code    []byte
	root    *sitter.Node
	result  *models.ParseResult
}

// grammarFunc picks a tree-sitter grammar for a file
type grammarFunc func(filePath string) *sitter.Language

// runParse is the pipeline shared by all plugins: read the file, parse it
// with a fresh parser, reject syntax errors, then run the extractor.
func runParse(
	ctx context.Context,
	language, version string,
	grammar grammarFunc,
	filePath, projectRoot string,
	moduleOf func(relPath string) string,
	extract func(u *sourceUnit),
) (result *models.ParseResult) {
	relPath := RelativePath(filePath, projectRoot)
	result = models.NewParseResult(relPath, language)
	result.Metadata[models.MetaParserVersion] = version

	defer func() {
		if r := recover(); r != nil {
			result.AddError(0, "internal parser failure: %v", r)
		}
	}()

	code, err := os.ReadFile(filePath)
	if err != nil {
		result.AddError(0, "failed to read file: %v", err)
		return result
	}
	result.Metadata[models.MetaContentHash] = ContentHash(code)

	module := moduleOf(relPath)
	result.Metadata[models.MetaModuleName] = module

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(grammar(filePath))

	tree, err := parser.ParseCtx(ctx, nil, code)
	if err != nil {
		result.AddError(0, "tree-sitter parse failed: %v", err)
		return result
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		result.AddError(0, "tree-sitter returned nil root node")
		return result
	}
	if root.HasError() {
		result.AddError(firstErrorLine(root), "source contains syntax errors")
		return result
	}

	extract(&sourceUnit{
		relPath: relPath,
		module:  module,
		code:    code,
		root:    root,
		result:  result,
	})

	if err := ctx.Err(); err != nil {
		result.AddError(0, "parse canceled: %v", err)
	}
	return result
}

// firstErrorLine finds the 1-based line of the first ERROR or missing node
func firstErrorLine(root *sitter.Node) int {
	stack := []*sitter.Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == nil {
			continue
		}
		if n.Type() == "ERROR" || n.IsMissing() {
			return int(n.StartPoint().Row) + 1
		}
		// push in reverse so the leftmost child is visited first
		for i := int(n.ChildCount()) - 1; i >= 0; i-- {
			if c := n.Child(i); c != nil && (c.HasError() || c.IsMissing()) {
				stack = append(stack, c)
			}
		}
	}
	return int(root.StartPoint().Row) + 1
}

// nodeText extracts text from a node using byte offsets
func nodeText(node *sitter.Node, code []byte) string {
	if node == nil {
		return ""
	}
	start, end := node.StartByte(), node.EndByte()
	if int(end) > len(code) {
		end = uint32(len(code))
	}
	return string(code[start:end])
}

func startLine(n *sitter.Node) int { return int(n.StartPoint().Row) + 1 }
func endLine(n *sitter.Node) int   { return int(n.EndPoint().Row) + 1 }

// stringLiteral strips quotes from a string node
func stringLiteral(node *sitter.Node, code []byte) string {
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() == "string_fragment" || child.Type() == "string_content" {
			return nodeText(child, code)
		}
	}
	raw := nodeText(node, code)
	return strings.Trim(raw, "\"'`")
}

// countLines returns the number of lines in content
func countLines(code []byte) int {
	if len(code) == 0 {
		return 0
	}
	n := strings.Count(string(code), "\n")
	if code[len(code)-1] != '\n' {
		n++
	}
	return n
}

// emitter accumulates entities and edges for one file, dropping duplicates
type emitter struct {
	unit     *sourceUnit
	entities map[string]bool
	edges    map[string]bool
}

func newEmitter(u *sourceUnit) *emitter {
	return &emitter{
		unit:     u,
		entities: make(map[string]bool),
		edges:    make(map[string]bool),
	}
}

// entity records e unless its qualified name was already emitted in this file
func (em *emitter) entity(e models.CodeEntity) bool {
	if em.entities[e.QualifiedName] {
		em.unit.result.AddWarning("duplicate definition of %s at line %d ignored", e.QualifiedName, e.StartLine)
		return false
	}
	em.entities[e.QualifiedName] = true
	if e.FilePath == "" {
		e.FilePath = em.unit.relPath
	}
	if e.Language == "" {
		e.Language = em.unit.result.Language
	}
	em.unit.result.Entities = append(em.unit.result.Entities, e)
	return true
}

func (em *emitter) edge(src, tgt string, typ models.RelationshipType, res models.Resolution, line int) {
	if src == "" || tgt == "" || src == tgt && typ != models.RelCalls {
		return
	}
	rel := models.Relationship{
		SourceQualifiedName: src,
		TargetQualifiedName: tgt,
		RelationshipType:    typ,
		Resolution:          res,
		Line:                line,
	}
	key := rel.Key()
	if em.edges[key] {
		return
	}
	em.edges[key] = true
	em.unit.result.Relationships = append(em.unit.result.Relationships, rel)
}

// fileAndModule emits the File and Module entities every plugin starts with
func (em *emitter) fileAndModule() {
	u := em.unit
	lines := countLines(u.code)
	em.entity(models.CodeEntity{
		QualifiedName: u.relPath,
		Name:          path.Base(u.relPath),
		EntityType:    models.EntityFile,
		StartLine:     1,
		EndLine:       lines,
		Visibility:    models.VisibilityPublic,
	})
	em.entity(models.CodeEntity{
		QualifiedName: u.module,
		Name:          lastSegment(u.module),
		EntityType:    models.EntityModule,
		StartLine:     1,
		EndLine:       lines,
		Visibility:    models.VisibilityPublic,
	})
	em.edge(u.relPath, u.module, models.RelContains, models.ResolutionExact, 0)
}

// binding is what a local name refers to after imports
type binding struct {
	target string
	// byName bindings cannot be followed; calls through them resolve heuristically
	byName bool
}

func lastSegment(qn string) string {
	if i := strings.LastIndex(qn, "."); i >= 0 {
		return qn[i+1:]
	}
	return qn
}

func firstSegment(qn string) (string, string) {
	if i := strings.Index(qn, "."); i >= 0 {
		return qn[:i], qn[i+1:]
	}
	return qn, ""
}

func joinQN(parts ...string) string {
	nonEmpty := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, ".")
}
