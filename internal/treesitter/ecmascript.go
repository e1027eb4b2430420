package treesitter

import (
	"path"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/rohankatakam/codegraph/internal/models"
)

// ecmaExtensions are stripped from import specifiers; anything else after a
// dot ("./user.service") is part of the module name
var ecmaExtensions = map[string]bool{
	".js": true, ".jsx": true, ".mjs": true, ".cjs": true,
	".ts": true, ".tsx": true, ".mts": true, ".cts": true,
}

func ecmaModule(relPath string) string {
	return dottedModule(relPath)
}

type ecmaClass struct {
	qn      string
	methods map[string]bool
}

type ecmaScope struct {
	qn     string
	kind   models.EntityType
	class  *ecmaClass
	locals map[string]string
	parent *ecmaScope
}

func (s *ecmaScope) lookup(name string) (string, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if qn, ok := cur.locals[name]; ok {
			return qn, true
		}
	}
	return "", false
}

// ecmaExtractor handles both JavaScript and TypeScript trees; TypeScript-only
// node types simply never occur in JavaScript input
type ecmaExtractor struct {
	u        *sourceUnit
	em       *emitter
	bindings map[string]binding
	classes  map[string]*ecmaClass
	exports  map[string]bool
}

func newECMAExtractor(u *sourceUnit) *ecmaExtractor {
	return &ecmaExtractor{
		u:        u,
		em:       newEmitter(u),
		bindings: make(map[string]binding),
		classes:  make(map[string]*ecmaClass),
		exports:  make(map[string]bool),
	}
}

func (x *ecmaExtractor) run() {
	x.em.fileAndModule()

	module := &ecmaScope{qn: x.u.module, kind: models.EntityModule, locals: map[string]string{}}
	x.declare(x.u.root, module)
	x.walk(x.u.root, module)
}

func (x *ecmaExtractor) text(n *sitter.Node) string { return nodeText(n, x.u.code) }

// declare hoists declarations, export lists and import bindings of a block
func (x *ecmaExtractor) declare(block *sitter.Node, scope *ecmaScope) {
	for i := 0; i < int(block.ChildCount()); i++ {
		child := block.Child(i)
		switch child.Type() {
		case "export_statement":
			if scope.kind != models.EntityModule {
				continue
			}
			if decl := child.ChildByFieldName("declaration"); decl != nil {
				for _, name := range x.declareOne(decl, scope) {
					x.exports[name] = true
				}
				continue
			}
			if value := child.ChildByFieldName("value"); value != nil && value.Type() == "identifier" {
				x.exports[x.text(value)] = true
			}
			for j := 0; j < int(child.NamedChildCount()); j++ {
				if clause := child.NamedChild(j); clause.Type() == "export_clause" {
					x.collectExportClause(clause)
				}
			}
		case "import_statement":
			x.importStatement(child, false)
		default:
			x.declareOne(child, scope)
		}
	}
}

// declareOne registers the names a single declaration introduces
func (x *ecmaExtractor) declareOne(decl *sitter.Node, scope *ecmaScope) []string {
	switch decl.Type() {
	case "function_declaration", "generator_function_declaration", "interface_declaration":
		name := x.text(decl.ChildByFieldName("name"))
		if name == "" {
			return nil
		}
		scope.locals[name] = joinQN(scope.qn, name)
		return []string{name}
	case "class_declaration", "abstract_class_declaration":
		name := x.text(decl.ChildByFieldName("name"))
		if name == "" {
			return nil
		}
		qn := joinQN(scope.qn, name)
		scope.locals[name] = qn
		x.classes[qn] = x.classShape(qn, decl)
		return []string{name}
	case "lexical_declaration", "variable_declaration":
		if scope.kind != models.EntityModule {
			return nil
		}
		var names []string
		for i := 0; i < int(decl.NamedChildCount()); i++ {
			d := decl.NamedChild(i)
			if d.Type() != "variable_declarator" {
				continue
			}
			nameNode := d.ChildByFieldName("name")
			if nameNode == nil || nameNode.Type() != "identifier" {
				continue
			}
			name := x.text(nameNode)
			qn := joinQN(scope.qn, name)
			scope.locals[name] = qn
			if v := d.ChildByFieldName("value"); v != nil && v.Type() == "class" {
				x.classes[qn] = x.classShape(qn, v)
			}
			names = append(names, name)
		}
		return names
	}
	return nil
}

func (x *ecmaExtractor) classShape(qn string, node *sitter.Node) *ecmaClass {
	cls := &ecmaClass{qn: qn, methods: map[string]bool{}}
	body := node.ChildByFieldName("body")
	if body == nil {
		return cls
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		member := body.NamedChild(i)
		switch member.Type() {
		case "method_definition":
			cls.methods[x.text(member.ChildByFieldName("name"))] = true
		case "public_field_definition", "field_definition":
			if isFunctionValue(member.ChildByFieldName("value")) {
				cls.methods[x.text(fieldName(member))] = true
			}
		}
	}
	return cls
}

func fieldName(member *sitter.Node) *sitter.Node {
	if n := member.ChildByFieldName("name"); n != nil {
		return n
	}
	return member.ChildByFieldName("property")
}

func isFunctionValue(n *sitter.Node) bool {
	if n == nil {
		return false
	}
	switch n.Type() {
	case "arrow_function", "function_expression", "function", "generator_function":
		return true
	}
	return false
}

func (x *ecmaExtractor) collectExportClause(clause *sitter.Node) {
	for i := 0; i < int(clause.NamedChildCount()); i++ {
		spec := clause.NamedChild(i)
		if spec.Type() == "export_specifier" {
			x.exports[x.text(spec.ChildByFieldName("name"))] = true
		}
	}
}

// walk visits a subtree, opening a new scope at every named definition
func (x *ecmaExtractor) walk(node *sitter.Node, scope *ecmaScope) {
	if node == nil {
		return
	}
	switch node.Type() {
	case "export_statement":
		if decl := node.ChildByFieldName("declaration"); decl != nil {
			x.declaration(decl, scope, true)
		}
		if value := node.ChildByFieldName("value"); value != nil {
			x.walk(value, scope)
		}
		if source := node.ChildByFieldName("source"); source != nil {
			target, res := x.resolveModule(stringLiteral(source, x.u.code))
			x.em.edge(x.u.module, target, models.RelImports, res, startLine(node))
		}
		return
	case "function_declaration", "generator_function_declaration",
		"class_declaration", "abstract_class_declaration", "interface_declaration":
		x.declaration(node, scope, false)
		return
	case "lexical_declaration", "variable_declaration":
		if scope.kind == models.EntityModule {
			x.declaration(node, scope, false)
			return
		}
	case "import_statement":
		x.importStatement(node, true)
		return
	case "call_expression":
		x.call(node, scope)
	case "new_expression":
		x.construct(node, scope)
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		x.walk(node.Child(i), scope)
	}
}

func (x *ecmaExtractor) declaration(decl *sitter.Node, scope *ecmaScope, exported bool) {
	switch decl.Type() {
	case "function_declaration", "generator_function_declaration":
		name := x.text(decl.ChildByFieldName("name"))
		x.function(decl, name, scope, exported)
	case "class_declaration", "abstract_class_declaration":
		name := x.text(decl.ChildByFieldName("name"))
		x.class(decl, name, scope, exported)
	case "interface_declaration":
		x.iface(decl, scope, exported)
	case "lexical_declaration", "variable_declaration":
		x.variables(decl, scope, exported)
	default:
		x.walk(decl, scope)
	}
}

// visibility of a declaration directly under scope
func (x *ecmaExtractor) topLevel(name string, scope *ecmaScope, exported bool) (models.Visibility, bool) {
	if scope.kind != models.EntityModule {
		return models.VisibilityPrivate, false
	}
	if exported || x.exports[name] {
		return models.VisibilityPublic, true
	}
	return models.VisibilityPackage, false
}

func (x *ecmaExtractor) function(node *sitter.Node, name string, scope *ecmaScope, exported bool) {
	if name == "" {
		x.walk(node.ChildByFieldName("body"), scope)
		return
	}
	qn := joinQN(scope.qn, name)
	vis, exp := x.topLevel(name, scope, exported)
	if !x.em.entity(models.CodeEntity{
		QualifiedName: qn,
		Name:          name,
		EntityType:    models.EntityFunction,
		StartLine:     startLine(node),
		EndLine:       endLine(node),
		Visibility:    vis,
		Exported:      exp,
	}) {
		return
	}
	x.em.edge(scope.qn, qn, models.RelDefines, models.ResolutionExact, startLine(node))
	x.body(node.ChildByFieldName("body"), &ecmaScope{
		qn: qn, kind: models.EntityFunction, class: scope.class,
		locals: map[string]string{}, parent: scope,
	})
}

func (x *ecmaExtractor) body(body *sitter.Node, scope *ecmaScope) {
	if body == nil {
		return
	}
	if body.Type() == "statement_block" {
		x.declare(body, scope)
	}
	x.walk(body, scope)
}

func (x *ecmaExtractor) class(node *sitter.Node, name string, scope *ecmaScope, exported bool) {
	if name == "" {
		x.walk(node.ChildByFieldName("body"), scope)
		return
	}
	qn := joinQN(scope.qn, name)
	cls := x.classes[qn]
	if cls == nil {
		cls = x.classShape(qn, node)
		x.classes[qn] = cls
	}
	vis, exp := x.topLevel(name, scope, exported)
	if !x.em.entity(models.CodeEntity{
		QualifiedName: qn,
		Name:          name,
		EntityType:    models.EntityClass,
		StartLine:     startLine(node),
		EndLine:       endLine(node),
		Visibility:    vis,
		Exported:      exp,
	}) {
		return
	}
	x.em.edge(scope.qn, qn, models.RelDefines, models.ResolutionExact, startLine(node))

	for i := 0; i < int(node.NamedChildCount()); i++ {
		if h := node.NamedChild(i); h.Type() == "class_heritage" {
			x.heritage(h, qn, scope)
		}
	}

	body := node.ChildByFieldName("body")
	if body == nil {
		return
	}
	inner := &ecmaScope{qn: qn, kind: models.EntityClass, class: cls, locals: map[string]string{}, parent: scope}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		member := body.NamedChild(i)
		switch member.Type() {
		case "method_definition":
			x.method(member, member.ChildByFieldName("name"), member.ChildByFieldName("body"), inner)
		case "public_field_definition", "field_definition":
			value := member.ChildByFieldName("value")
			if isFunctionValue(value) {
				x.method(member, fieldName(member), value.ChildByFieldName("body"), inner)
			} else {
				x.walk(value, inner)
			}
		default:
			x.walk(member, inner)
		}
	}
}

func (x *ecmaExtractor) method(member, nameNode, body *sitter.Node, cls *ecmaScope) {
	name := x.text(nameNode)
	if name == "" {
		return
	}
	vis := models.VisibilityPublic
	if nameNode.Type() == "private_property_identifier" || strings.HasPrefix(name, "#") {
		vis = models.VisibilityPrivate
	}
	for i := 0; i < int(member.ChildCount()); i++ {
		if c := member.Child(i); c.Type() == "accessibility_modifier" {
			switch x.text(c) {
			case "private":
				vis = models.VisibilityPrivate
			case "protected":
				vis = models.VisibilityProtected
			}
		}
	}

	qn := joinQN(cls.qn, name)
	if !x.em.entity(models.CodeEntity{
		QualifiedName: qn,
		Name:          name,
		EntityType:    models.EntityMethod,
		StartLine:     startLine(member),
		EndLine:       endLine(member),
		Visibility:    vis,
	}) {
		return
	}
	x.em.edge(cls.qn, qn, models.RelDefines, models.ResolutionExact, startLine(member))
	x.body(body, &ecmaScope{
		qn: qn, kind: models.EntityMethod, class: cls.class,
		locals: map[string]string{}, parent: cls.parent,
	})
}

// heritage emits EXTENDS for `extends X` and IMPLEMENTS for `implements Y`
func (x *ecmaExtractor) heritage(node *sitter.Node, classQN string, scope *ecmaScope) {
	line := startLine(node)
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "extends_clause":
			for _, t := range x.typeRefs(child) {
				target, res := x.resolveDotted(t, scope)
				x.em.edge(classQN, target, models.RelExtends, res, line)
			}
		case "implements_clause":
			for _, t := range x.typeRefs(child) {
				target, res := x.resolveDotted(t, scope)
				x.em.edge(classQN, target, models.RelImplements, res, line)
			}
		case "identifier", "member_expression":
			target, res := x.resolveDotted(x.text(child), scope)
			x.em.edge(classQN, target, models.RelExtends, res, line)
		}
	}
}

// typeRefs returns the referenced type names of a heritage clause, without type arguments
func (x *ecmaExtractor) typeRefs(clause *sitter.Node) []string {
	var out []string
	for i := 0; i < int(clause.NamedChildCount()); i++ {
		c := clause.NamedChild(i)
		switch c.Type() {
		case "identifier", "type_identifier", "member_expression", "nested_type_identifier":
			out = append(out, x.text(c))
		case "generic_type":
			if c.NamedChildCount() > 0 {
				out = append(out, x.text(c.NamedChild(0)))
			}
		}
	}
	return out
}

func (x *ecmaExtractor) iface(node *sitter.Node, scope *ecmaScope, exported bool) {
	name := x.text(node.ChildByFieldName("name"))
	if name == "" {
		return
	}
	qn := joinQN(scope.qn, name)
	vis, exp := x.topLevel(name, scope, exported)
	if !x.em.entity(models.CodeEntity{
		QualifiedName: qn,
		Name:          name,
		EntityType:    models.EntityInterface,
		StartLine:     startLine(node),
		EndLine:       endLine(node),
		Visibility:    vis,
		Exported:      exp,
	}) {
		return
	}
	x.em.edge(scope.qn, qn, models.RelDefines, models.ResolutionExact, startLine(node))
	for i := 0; i < int(node.NamedChildCount()); i++ {
		if c := node.NamedChild(i); c.Type() == "extends_type_clause" {
			for _, t := range x.typeRefs(c) {
				target, res := x.resolveDotted(t, scope)
				x.em.edge(qn, target, models.RelExtends, res, startLine(c))
			}
		}
	}
}

// variables handles module-level const/let/var declarations
func (x *ecmaExtractor) variables(decl *sitter.Node, scope *ecmaScope, exported bool) {
	for i := 0; i < int(decl.NamedChildCount()); i++ {
		d := decl.NamedChild(i)
		if d.Type() != "variable_declarator" {
			continue
		}
		nameNode := d.ChildByFieldName("name")
		value := d.ChildByFieldName("value")
		if nameNode == nil || nameNode.Type() != "identifier" {
			x.walk(value, scope)
			continue
		}
		name := x.text(nameNode)

		switch {
		case isFunctionValue(value):
			x.function(value, name, scope, exported)
			continue
		case value != nil && value.Type() == "class":
			x.class(value, name, scope, exported)
			continue
		case value != nil && x.isRequire(value):
			target, res := x.resolveModule(x.requireSpec(value))
			x.bindings[name] = binding{target: target}
			x.em.edge(x.u.module, target, models.RelImports, res, startLine(d))
			delete(scope.locals, name)
			continue
		}

		qn := joinQN(scope.qn, name)
		vis, exp := x.topLevel(name, scope, exported)
		if x.em.entity(models.CodeEntity{
			QualifiedName: qn,
			Name:          name,
			EntityType:    models.EntityVariable,
			StartLine:     startLine(d),
			EndLine:       endLine(d),
			Visibility:    vis,
			Exported:      exp,
		}) {
			x.em.edge(scope.qn, qn, models.RelDefines, models.ResolutionExact, startLine(d))
		}
		x.walk(value, scope)
	}
}

// importStatement records bindings on the first pass and IMPORTS edges on the second
func (x *ecmaExtractor) importStatement(node *sitter.Node, emit bool) {
	source := node.ChildByFieldName("source")
	if source == nil {
		return
	}
	target, res := x.resolveModule(stringLiteral(source, x.u.code))
	if emit {
		x.em.edge(x.u.module, target, models.RelImports, res, startLine(node))
		return
	}

	for i := 0; i < int(node.NamedChildCount()); i++ {
		clause := node.NamedChild(i)
		if clause.Type() != "import_clause" {
			continue
		}
		for j := 0; j < int(clause.NamedChildCount()); j++ {
			c := clause.NamedChild(j)
			switch c.Type() {
			case "identifier":
				// default export: its declared name is unknown here
				x.bindings[x.text(c)] = binding{byName: true}
			case "namespace_import":
				if c.NamedChildCount() > 0 {
					x.bindings[x.text(c.NamedChild(0))] = binding{target: target}
				}
			case "named_imports":
				for k := 0; k < int(c.NamedChildCount()); k++ {
					spec := c.NamedChild(k)
					if spec.Type() != "import_specifier" {
						continue
					}
					name := x.text(spec.ChildByFieldName("name"))
					local := x.text(spec.ChildByFieldName("alias"))
					if local == "" {
						local = name
					}
					x.bindings[local] = binding{target: joinQN(target, name)}
				}
			}
		}
	}
}

// resolveModule maps an import specifier to a module qualified name.
// Relative specifiers resolve against the importing file; bare ones are external.
func (x *ecmaExtractor) resolveModule(spec string) (string, models.Resolution) {
	if !strings.HasPrefix(spec, ".") {
		return spec, models.ResolutionExternal
	}
	p := path.Join(path.Dir(x.u.relPath), spec)
	if strings.HasPrefix(p, "..") {
		return spec, models.ResolutionExternal
	}
	if ext := path.Ext(p); ecmaExtensions[ext] {
		p = strings.TrimSuffix(p, ext)
	}
	return strings.ReplaceAll(p, "/", "."), models.ResolutionExact
}

func (x *ecmaExtractor) isRequire(n *sitter.Node) bool {
	if n.Type() != "call_expression" {
		return false
	}
	fn := n.ChildByFieldName("function")
	return fn != nil && fn.Type() == "identifier" && x.text(fn) == "require" && x.requireSpec(n) != ""
}

func (x *ecmaExtractor) requireSpec(call *sitter.Node) string {
	args := call.ChildByFieldName("arguments")
	if args == nil || args.NamedChildCount() == 0 {
		return ""
	}
	if first := args.NamedChild(0); first.Type() == "string" {
		return stringLiteral(first, x.u.code)
	}
	return ""
}

func (x *ecmaExtractor) resolveName(name string, scope *ecmaScope) (string, models.Resolution) {
	if qn, ok := scope.lookup(name); ok {
		return qn, models.ResolutionExact
	}
	if b, ok := x.bindings[name]; ok && !b.byName {
		return b.target, models.ResolutionExact
	}
	return name, models.ResolutionUnresolved
}

func (x *ecmaExtractor) resolveDotted(text string, scope *ecmaScope) (string, models.Resolution) {
	first, rest := firstSegment(text)
	if rest == "" {
		return x.resolveName(first, scope)
	}
	if strings.ContainsAny(text, "()[]<> ") {
		return lastSegment(text), models.ResolutionUnresolved
	}
	if qn, ok := scope.lookup(first); ok && x.classes[qn] != nil {
		return joinQN(qn, rest), models.ResolutionExact
	}
	if b, ok := x.bindings[first]; ok && !b.byName {
		return joinQN(b.target, rest), models.ResolutionExact
	}
	return lastSegment(rest), models.ResolutionUnresolved
}

func (x *ecmaExtractor) call(node *sitter.Node, scope *ecmaScope) {
	fn := node.ChildByFieldName("function")
	if fn == nil {
		return
	}
	line := startLine(node)
	switch fn.Type() {
	case "identifier":
		if x.isRequire(node) {
			target, res := x.resolveModule(x.requireSpec(node))
			x.em.edge(x.u.module, target, models.RelImports, res, line)
			return
		}
		target, res := x.resolveName(x.text(fn), scope)
		x.em.edge(scope.qn, target, models.RelCalls, res, line)
	case "member_expression":
		target, res := x.resolveMember(fn, scope)
		if target != "" {
			x.em.edge(scope.qn, target, models.RelCalls, res, line)
		}
	}
}

func (x *ecmaExtractor) construct(node *sitter.Node, scope *ecmaScope) {
	ctor := node.ChildByFieldName("constructor")
	if ctor == nil {
		return
	}
	switch ctor.Type() {
	case "identifier", "member_expression":
		target, res := x.resolveDotted(x.text(ctor), scope)
		x.em.edge(scope.qn, target, models.RelCalls, res, startLine(node))
	}
}

func (x *ecmaExtractor) resolveMember(fn *sitter.Node, scope *ecmaScope) (string, models.Resolution) {
	object := fn.ChildByFieldName("object")
	prop := x.text(fn.ChildByFieldName("property"))
	if object == nil || prop == "" {
		return "", models.ResolutionUnresolved
	}
	switch object.Type() {
	case "this":
		if scope.class != nil && scope.class.methods[prop] {
			return joinQN(scope.class.qn, prop), models.ResolutionExact
		}
		return prop, models.ResolutionUnresolved
	case "super":
		return prop, models.ResolutionUnresolved
	case "identifier":
		obj := x.text(object)
		if qn, ok := scope.lookup(obj); ok {
			if cls := x.classes[qn]; cls != nil && cls.methods[prop] {
				return joinQN(qn, prop), models.ResolutionExact
			}
			return prop, models.ResolutionUnresolved
		}
		if b, ok := x.bindings[obj]; ok && !b.byName {
			return joinQN(b.target, prop), models.ResolutionExact
		}
		return prop, models.ResolutionUnresolved
	case "member_expression":
		return x.resolveDotted(x.text(fn), scope)
	}
	return prop, models.ResolutionUnresolved
}
