package treesitter

import (
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/rohankatakam/codegraph/internal/models"
)

const pythonPluginVersion = "python/1.2.0"

// PythonPlugin extracts modules, classes, functions and references from Python sources
type PythonPlugin struct{}

// NewPythonPlugin creates the Python plugin
func NewPythonPlugin() *PythonPlugin { return &PythonPlugin{} }

func (p *PythonPlugin) Language() string     { return "python" }
func (p *PythonPlugin) Extensions() []string { return []string{".py", ".pyi"} }
func (p *PythonPlugin) Version() string      { return pythonPluginVersion }

func (p *PythonPlugin) CanParse(filePath string) bool {
	return hasExtension(filePath, p.Extensions())
}

// Parse parses one Python file. The module name is the dotted path from the
// project root; a package's __init__.py collapses to the package name.
func (p *PythonPlugin) Parse(ctx context.Context, filePath, projectRoot string) *models.ParseResult {
	grammar := func(string) *sitter.Language { return python.GetLanguage() }
	return runParse(ctx, p.Language(), p.Version(), grammar, filePath, projectRoot, pythonModule, func(u *sourceUnit) {
		newPythonExtractor(u).run()
	})
}

func pythonModule(relPath string) string {
	module := dottedModule(relPath)
	if module == "__init__" {
		return module
	}
	return strings.TrimSuffix(module, ".__init__")
}

// pythonPackage is the package a module's relative imports resolve against
func pythonPackage(relPath, module string) string {
	if strings.HasSuffix(relPath, "__init__.py") || strings.HasSuffix(relPath, "__init__.pyi") {
		if module == "__init__" {
			return ""
		}
		return module
	}
	if i := strings.LastIndex(module, "."); i >= 0 {
		return module[:i]
	}
	return ""
}

// pyVisibility follows the underscore naming convention
func pyVisibility(name string) models.Visibility {
	switch {
	case strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__"):
		return models.VisibilityPublic
	case strings.HasPrefix(name, "__"):
		return models.VisibilityPrivate
	case strings.HasPrefix(name, "_"):
		return models.VisibilityProtected
	default:
		return models.VisibilityPublic
	}
}

// bases that only mark a class as abstract and carry no behavior
var pythonInterfaceMarkers = map[string]bool{
	"Protocol": true, "typing.Protocol": true,
	"ABC": true, "abc.ABC": true,
}

var pythonIgnoredBases = map[string]bool{
	"object": true, "Generic": true, "typing.Generic": true,
}

type pyClass struct {
	qn          string
	isInterface bool
	methods     map[string]bool
}

type pyScope struct {
	qn     string
	kind   models.EntityType
	class  *pyClass
	locals map[string]string
	parent *pyScope
}

func (s *pyScope) lookup(name string) (string, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if qn, ok := cur.locals[name]; ok {
			return qn, true
		}
	}
	return "", false
}

type pythonExtractor struct {
	u        *sourceUnit
	em       *emitter
	pkg      string
	bindings map[string]binding
	classes  map[string]*pyClass // by qualified name
	exports  map[string]bool
}

func newPythonExtractor(u *sourceUnit) *pythonExtractor {
	return &pythonExtractor{
		u:        u,
		em:       newEmitter(u),
		pkg:      pythonPackage(u.relPath, u.module),
		bindings: make(map[string]binding),
		classes:  make(map[string]*pyClass),
		exports:  make(map[string]bool),
	}
}

func (x *pythonExtractor) run() {
	x.em.fileAndModule()

	module := &pyScope{qn: x.u.module, kind: models.EntityModule, locals: map[string]string{}}
	x.declare(x.u.root, module)
	x.walk(x.u.root, module)
}

// declare pre-registers the names defined directly in a block so calls that
// precede a definition still bind exactly
func (x *pythonExtractor) declare(block *sitter.Node, scope *pyScope) {
	for i := 0; i < int(block.ChildCount()); i++ {
		child := unwrapDecorated(block.Child(i))
		switch child.Type() {
		case "class_definition":
			name := nodeText(child.ChildByFieldName("name"), x.u.code)
			if name == "" {
				continue
			}
			qn := joinQN(scope.qn, name)
			scope.locals[name] = qn
			cls := &pyClass{qn: qn, methods: map[string]bool{}}
			x.classes[qn] = cls
			if body := child.ChildByFieldName("body"); body != nil {
				for j := 0; j < int(body.ChildCount()); j++ {
					m := unwrapDecorated(body.Child(j))
					if m.Type() == "function_definition" {
						cls.methods[nodeText(m.ChildByFieldName("name"), x.u.code)] = true
					}
				}
			}
			for _, base := range x.bases(child) {
				if pythonInterfaceMarkers[base] {
					cls.isInterface = true
				}
			}
		case "function_definition":
			if name := nodeText(child.ChildByFieldName("name"), x.u.code); name != "" {
				scope.locals[name] = joinQN(scope.qn, name)
			}
		case "expression_statement":
			if scope.kind == models.EntityModule {
				x.declareAssignment(child, scope)
			}
		case "import_statement", "import_from_statement":
			x.imports(child, scope, false)
		}
	}
}

func (x *pythonExtractor) declareAssignment(stmt *sitter.Node, scope *pyScope) {
	if stmt.ChildCount() == 0 {
		return
	}
	assign := stmt.Child(0)
	if assign.Type() != "assignment" {
		return
	}
	left := assign.ChildByFieldName("left")
	if left == nil || left.Type() != "identifier" {
		return
	}
	name := nodeText(left, x.u.code)
	if name == "__all__" {
		x.collectExports(assign.ChildByFieldName("right"))
		return
	}
	if strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__") {
		return
	}
	scope.locals[name] = joinQN(scope.qn, name)
}

func (x *pythonExtractor) collectExports(value *sitter.Node) {
	if value == nil || (value.Type() != "list" && value.Type() != "tuple") {
		return
	}
	for i := 0; i < int(value.NamedChildCount()); i++ {
		item := value.NamedChild(i)
		if item.Type() == "string" {
			x.exports[stringLiteral(item, x.u.code)] = true
		}
	}
}

func unwrapDecorated(n *sitter.Node) *sitter.Node {
	if n != nil && n.Type() == "decorated_definition" {
		if def := n.ChildByFieldName("definition"); def != nil {
			return def
		}
	}
	return n
}

// walk visits a subtree, opening a new scope at every definition
func (x *pythonExtractor) walk(node *sitter.Node, scope *pyScope) {
	if node == nil {
		return
	}
	switch node.Type() {
	case "class_definition":
		x.class(node, scope)
		return
	case "function_definition":
		x.function(node, scope)
		return
	case "decorated_definition":
		for i := 0; i < int(node.ChildCount()); i++ {
			child := node.Child(i)
			if child.Type() == "decorator" {
				x.decorator(child, scope)
			}
		}
		x.walk(node.ChildByFieldName("definition"), scope)
		return
	case "import_statement", "import_from_statement":
		x.imports(node, scope, true)
		return
	case "expression_statement":
		if scope.kind == models.EntityModule {
			x.variable(node, scope)
		}
	case "call":
		x.call(node, scope)
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		x.walk(node.Child(i), scope)
	}
}

func (x *pythonExtractor) class(node *sitter.Node, scope *pyScope) {
	name := nodeText(node.ChildByFieldName("name"), x.u.code)
	if name == "" {
		return
	}
	qn := joinQN(scope.qn, name)
	cls := x.classes[qn]
	if cls == nil {
		// defined under an if/try block, which declare() does not descend into
		cls = &pyClass{qn: qn, methods: map[string]bool{}}
		x.classes[qn] = cls
	}

	entityType := models.EntityClass
	if cls.isInterface {
		entityType = models.EntityInterface
	}
	if !x.em.entity(models.CodeEntity{
		QualifiedName: qn,
		Name:          name,
		EntityType:    entityType,
		StartLine:     startLine(node),
		EndLine:       endLine(node),
		Visibility:    pyVisibility(name),
		Exported:      scope.kind == models.EntityModule && x.exports[name],
	}) {
		return
	}
	x.em.edge(scope.qn, qn, models.RelDefines, models.ResolutionExact, startLine(node))

	for _, base := range x.bases(node) {
		if pythonIgnoredBases[base] || pythonInterfaceMarkers[base] {
			continue
		}
		target, res := x.resolveDotted(base, scope)
		relType := models.RelExtends
		if parent := x.classes[target]; parent != nil && parent.isInterface && !cls.isInterface {
			relType = models.RelImplements
		}
		x.em.edge(qn, target, relType, res, startLine(node))
	}

	body := node.ChildByFieldName("body")
	if body == nil {
		return
	}
	inner := &pyScope{qn: qn, kind: models.EntityClass, class: cls, locals: map[string]string{}, parent: scope}
	x.declare(body, inner)
	// methods are reached through self/cls or the class name, not as bare names
	for i := 0; i < int(body.ChildCount()); i++ {
		if m := unwrapDecorated(body.Child(i)); m.Type() == "function_definition" {
			delete(inner.locals, nodeText(m.ChildByFieldName("name"), x.u.code))
		}
	}
	x.walk(body, inner)
}

// bases returns the source text of each positional superclass
func (x *pythonExtractor) bases(node *sitter.Node) []string {
	args := node.ChildByFieldName("superclasses")
	if args == nil {
		return nil
	}
	var out []string
	for i := 0; i < int(args.NamedChildCount()); i++ {
		arg := args.NamedChild(i)
		if arg.Type() == "identifier" || arg.Type() == "attribute" {
			out = append(out, nodeText(arg, x.u.code))
		}
	}
	return out
}

func (x *pythonExtractor) function(node *sitter.Node, scope *pyScope) {
	name := nodeText(node.ChildByFieldName("name"), x.u.code)
	if name == "" {
		return
	}
	qn := joinQN(scope.qn, name)
	entityType := models.EntityFunction
	if scope.kind == models.EntityClass {
		entityType = models.EntityMethod
	}
	if !x.em.entity(models.CodeEntity{
		QualifiedName: qn,
		Name:          name,
		EntityType:    entityType,
		StartLine:     startLine(node),
		EndLine:       endLine(node),
		Visibility:    pyVisibility(name),
		Exported:      scope.kind == models.EntityModule && x.exports[name],
	}) {
		return
	}
	x.em.edge(scope.qn, qn, models.RelDefines, models.ResolutionExact, startLine(node))

	body := node.ChildByFieldName("body")
	if body == nil {
		return
	}
	inner := &pyScope{qn: qn, kind: entityType, class: scope.class, locals: map[string]string{}, parent: scope}
	x.declare(body, inner)
	x.walk(body, inner)
}

// variable records module-level `name = value` assignments
func (x *pythonExtractor) variable(stmt *sitter.Node, scope *pyScope) {
	if stmt.ChildCount() == 0 || stmt.Child(0).Type() != "assignment" {
		return
	}
	assign := stmt.Child(0)
	left := assign.ChildByFieldName("left")
	if left == nil || left.Type() != "identifier" {
		return
	}
	name := nodeText(left, x.u.code)
	if strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__") {
		return
	}
	qn := joinQN(scope.qn, name)
	if x.em.entities[qn] {
		// reassignment of an existing module-level name
		return
	}
	x.em.entity(models.CodeEntity{
		QualifiedName: qn,
		Name:          name,
		EntityType:    models.EntityVariable,
		StartLine:     startLine(stmt),
		EndLine:       endLine(stmt),
		Visibility:    pyVisibility(name),
		Exported:      x.exports[name],
	})
	x.em.edge(scope.qn, qn, models.RelDefines, models.ResolutionExact, startLine(stmt))
}

// imports handles `import a.b [as c]` and `from x import y [as z]`.
// Bindings are recorded on the first pass; edges on the second.
func (x *pythonExtractor) imports(node *sitter.Node, scope *pyScope, emit bool) {
	line := startLine(node)
	addEdge := func(target string) {
		if emit && target != "" {
			x.em.edge(x.u.module, target, models.RelImports, models.ResolutionExact, line)
		}
	}

	if node.Type() == "import_statement" {
		for i := 0; i < int(node.NamedChildCount()); i++ {
			child := node.NamedChild(i)
			switch child.Type() {
			case "dotted_name":
				module := nodeText(child, x.u.code)
				first, _ := firstSegment(module)
				x.bindings[first] = binding{target: first}
				addEdge(module)
			case "aliased_import":
				module := nodeText(child.ChildByFieldName("name"), x.u.code)
				alias := nodeText(child.ChildByFieldName("alias"), x.u.code)
				if alias != "" {
					x.bindings[alias] = binding{target: module}
				}
				addEdge(module)
			}
		}
		return
	}

	var module string
	sawImport := false
	var names [][2]string // name, local alias
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "import":
			sawImport = true
		case "relative_import":
			module = x.resolveRelative(child)
		case "dotted_name":
			text := nodeText(child, x.u.code)
			if !sawImport {
				module = text
			} else {
				names = append(names, [2]string{text, lastSegment(text)})
			}
		case "aliased_import":
			name := nodeText(child.ChildByFieldName("name"), x.u.code)
			alias := nodeText(child.ChildByFieldName("alias"), x.u.code)
			if alias == "" {
				alias = lastSegment(name)
			}
			names = append(names, [2]string{name, alias})
		}
	}
	if module == "" {
		return
	}
	addEdge(module)
	for _, n := range names {
		target := joinQN(module, n[0])
		x.bindings[n[1]] = binding{target: target}
		addEdge(target)
	}
}

// resolveRelative turns `..pkg.mod` into an absolute dotted module
func (x *pythonExtractor) resolveRelative(node *sitter.Node) string {
	var prefix, name string
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "import_prefix":
			prefix = nodeText(child, x.u.code)
		case "dotted_name":
			name = nodeText(child, x.u.code)
		}
	}
	base := x.pkg
	for level := strings.Count(prefix, "."); level > 1; level-- {
		if i := strings.LastIndex(base, "."); i >= 0 {
			base = base[:i]
		} else {
			base = ""
		}
	}
	return joinQN(base, name)
}

// resolveName binds a bare identifier: enclosing scopes, then imports
func (x *pythonExtractor) resolveName(name string, scope *pyScope) (string, models.Resolution) {
	if qn, ok := scope.lookup(name); ok {
		return qn, models.ResolutionExact
	}
	if b, ok := x.bindings[name]; ok && !b.byName {
		return b.target, models.ResolutionExact
	}
	return name, models.ResolutionUnresolved
}

// resolveDotted binds `a.b.C` through the binding of its first segment
func (x *pythonExtractor) resolveDotted(text string, scope *pyScope) (string, models.Resolution) {
	first, rest := firstSegment(text)
	if rest == "" {
		return x.resolveName(first, scope)
	}
	if qn, ok := scope.lookup(first); ok {
		if x.classes[qn] != nil {
			return joinQN(qn, rest), models.ResolutionExact
		}
		return lastSegment(rest), models.ResolutionUnresolved
	}
	if b, ok := x.bindings[first]; ok && !b.byName {
		return joinQN(b.target, rest), models.ResolutionExact
	}
	return lastSegment(rest), models.ResolutionUnresolved
}

func (x *pythonExtractor) call(node *sitter.Node, scope *pyScope) {
	fn := node.ChildByFieldName("function")
	if fn == nil {
		return
	}
	line := startLine(node)
	switch fn.Type() {
	case "identifier":
		target, res := x.resolveName(nodeText(fn, x.u.code), scope)
		x.em.edge(scope.qn, target, models.RelCalls, res, line)
	case "attribute":
		target, res := x.resolveAttribute(fn, scope)
		x.em.edge(scope.qn, target, models.RelCalls, res, line)
	}
}

func (x *pythonExtractor) resolveAttribute(fn *sitter.Node, scope *pyScope) (string, models.Resolution) {
	object := fn.ChildByFieldName("object")
	attr := nodeText(fn.ChildByFieldName("attribute"), x.u.code)
	if object == nil || attr == "" {
		return attr, models.ResolutionUnresolved
	}

	if object.Type() == "identifier" {
		obj := nodeText(object, x.u.code)
		if (obj == "self" || obj == "cls") && scope.class != nil {
			if scope.class.methods[attr] {
				return joinQN(scope.class.qn, attr), models.ResolutionExact
			}
			return attr, models.ResolutionUnresolved
		}
		if qn, ok := scope.lookup(obj); ok {
			if cls := x.classes[qn]; cls != nil && cls.methods[attr] {
				return joinQN(qn, attr), models.ResolutionExact
			}
			return attr, models.ResolutionUnresolved
		}
		if b, ok := x.bindings[obj]; ok && !b.byName {
			return joinQN(b.target, attr), models.ResolutionExact
		}
		return attr, models.ResolutionUnresolved
	}

	if object.Type() == "attribute" {
		return x.resolveDotted(nodeText(fn, x.u.code), scope)
	}
	return attr, models.ResolutionUnresolved
}

// decorator treats `@name` and `@obj.attr` as calls made by the enclosing scope
func (x *pythonExtractor) decorator(node *sitter.Node, scope *pyScope) {
	if node.NamedChildCount() == 0 {
		return
	}
	expr := node.NamedChild(0)
	line := startLine(node)
	switch expr.Type() {
	case "identifier":
		target, res := x.resolveName(nodeText(expr, x.u.code), scope)
		x.em.edge(scope.qn, target, models.RelCalls, res, line)
	case "attribute":
		target, res := x.resolveAttribute(expr, scope)
		x.em.edge(scope.qn, target, models.RelCalls, res, line)
	default:
		x.walk(expr, scope)
	}
}
