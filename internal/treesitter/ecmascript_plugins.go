package treesitter

import (
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/rohankatakam/codegraph/internal/models"
)

const (
	javascriptPluginVersion = "javascript/1.1.0"
	typescriptPluginVersion = "typescript/1.1.0"
)

// JavaScriptPlugin parses .js, .jsx, .mjs and .cjs files
type JavaScriptPlugin struct{}

// NewJavaScriptPlugin creates the JavaScript plugin
func NewJavaScriptPlugin() *JavaScriptPlugin { return &JavaScriptPlugin{} }

func (p *JavaScriptPlugin) Language() string     { return "javascript" }
func (p *JavaScriptPlugin) Extensions() []string { return []string{".js", ".jsx", ".mjs", ".cjs"} }
func (p *JavaScriptPlugin) Version() string      { return javascriptPluginVersion }

func (p *JavaScriptPlugin) CanParse(filePath string) bool {
	return hasExtension(filePath, p.Extensions())
}

func (p *JavaScriptPlugin) Parse(ctx context.Context, filePath, projectRoot string) *models.ParseResult {
	grammar := func(string) *sitter.Language { return javascript.GetLanguage() }
	return runParse(ctx, p.Language(), p.Version(), grammar, filePath, projectRoot, ecmaModule, func(u *sourceUnit) {
		newECMAExtractor(u).run()
	})
}

// TypeScriptPlugin parses .ts, .tsx, .mts and .cts files; .tsx uses the TSX grammar
type TypeScriptPlugin struct{}

// NewTypeScriptPlugin creates the TypeScript plugin
func NewTypeScriptPlugin() *TypeScriptPlugin { return &TypeScriptPlugin{} }

func (p *TypeScriptPlugin) Language() string     { return "typescript" }
func (p *TypeScriptPlugin) Extensions() []string { return []string{".ts", ".tsx", ".mts", ".cts"} }
func (p *TypeScriptPlugin) Version() string      { return typescriptPluginVersion }

func (p *TypeScriptPlugin) CanParse(filePath string) bool {
	return hasExtension(filePath, p.Extensions())
}

func (p *TypeScriptPlugin) Parse(ctx context.Context, filePath, projectRoot string) *models.ParseResult {
	grammar := func(filePath string) *sitter.Language {
		if strings.HasSuffix(strings.ToLower(filePath), ".tsx") {
			return tsx.GetLanguage()
		}
		return typescript.GetLanguage()
	}
	return runParse(ctx, p.Language(), p.Version(), grammar, filePath, projectRoot, ecmaModule, func(u *sourceUnit) {
		newECMAExtractor(u).run()
	})
}
