package parse

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"
)

// FactExtractor walks a parsed Tree and produces the structural facts for
// one file: DefFacts bound to lexical scope and an identity hash, RefFacts
// for call and import sites (no usage refs are emitted), ImportFacts, and
// CallFacts. It reuses
// LanguageConfig's per-language node-type tables and SymbolExtractor's
// name/signature/doc-comment heuristics, promoting each Symbol into a
// scope-aware Def instead of a bare name+range pair.
type FactExtractor struct {
	registry *LanguageRegistry
	symbols  *SymbolExtractor
}

// NewFactExtractor creates a fact extractor backed by the default registry.
func NewFactExtractor() *FactExtractor {
	return NewFactExtractorWithRegistry(DefaultRegistry())
}

// NewFactExtractorWithRegistry creates a fact extractor backed by registry.
func NewFactExtractorWithRegistry(registry *LanguageRegistry) *FactExtractor {
	return &FactExtractor{registry: registry, symbols: NewSymbolExtractorWithRegistry(registry)}
}

type scopeFrame struct {
	defID string
	name  string
}

// ExtractFacts walks tree and emits the FactSet for filePath. filePath is
// the first component of the DefFact identity rule, so the same bytes
// parsed under a different path produce different def ids.
func (e *FactExtractor) ExtractFacts(tree *Tree, source []byte, filePath string) *FactSet {
	fs := &FactSet{Defs: []*Def{}, Refs: []*Ref{}, Imports: []*Import{}, Calls: []*Call{}}
	if tree == nil || tree.Root == nil {
		return fs
	}

	config, ok := e.registry.GetByName(tree.Language)
	if !ok {
		return fs
	}

	disambiguators := make(map[string]int)
	stack := []scopeFrame{{}}

	lexicalPath := func() string {
		if len(stack) <= 1 {
			return ""
		}
		parts := make([]string, 0, len(stack)-1)
		for _, f := range stack[1:] {
			parts = append(parts, f.name)
		}
		return strings.Join(parts, ".")
	}

	var walk func(n *Node)
	walk = func(n *Node) {
		enclosing := stack[len(stack)-1].defID

		if sym := e.symbols.extractSymbolFromNode(n, source, config, tree.Language); sym != nil {
			path := lexicalPath()
			qualified := sym.Name
			if path != "" {
				qualified = path + "." + sym.Name
			}
			sigHash := CanonicalSignatureHash(sym.Signature)
			key := strings.Join([]string{string(sym.Type), path, sigHash}, "\x00")
			disamb := disambiguators[key]
			disambiguators[key] = disamb + 1

			def := &Def{
				Kind:          sym.Type,
				Name:          sym.Name,
				QualifiedName: qualified,
				StartLine:     sym.StartLine,
				StartCol:      int(n.StartPoint.Column),
				EndLine:       sym.EndLine,
				EndCol:        int(n.EndPoint.Column),
				SignatureHash: sigHash,
				Public:        isPublicName(sym.Name, tree.Language),
				Docstring:     sym.DocComment,
			}
			def.ID = ComputeDefID(filePath, def.Kind, path, def.SignatureHash, disamb)
			fs.Defs = append(fs.Defs, def)

			stack = append(stack, scopeFrame{defID: def.ID, name: sym.Name})
			for _, child := range n.Children {
				walk(child)
			}
			stack = stack[:len(stack)-1]
			return
		}

		if imp := e.extractImport(n, source, config, tree.Language); imp != nil {
			fs.Imports = append(fs.Imports, imp)
			refName := imp.Alias
			if refName == "" {
				refName = imp.Module
			}
			fs.Refs = append(fs.Refs, &Ref{
				Name:         refName,
				StartLine:    imp.StartLine,
				StartCol:     int(n.StartPoint.Column),
				EndLine:      imp.EndLine,
				EndCol:       int(n.EndPoint.Column),
				Role:         RoleImport,
				EnclosingDef: enclosing,
			})
		}

		if call := e.extractCall(n, source, config); call != nil {
			call.EnclosingDef = enclosing
			fs.Calls = append(fs.Calls, call)
			fs.Refs = append(fs.Refs, &Ref{
				Name:         call.Callee,
				StartLine:    call.StartLine,
				StartCol:     int(n.StartPoint.Column),
				EndLine:      call.EndLine,
				EndCol:       int(n.EndPoint.Column),
				Role:         RoleCall,
				EnclosingDef: enclosing,
			})
		}

		for _, child := range n.Children {
			walk(child)
		}
	}

	walk(tree.Root)
	return fs
}

// isPublicName reports whether a definition is externally visible under
// the language's own convention: leading-capital for Go, non-underscore
// prefix elsewhere.
func isPublicName(name, language string) bool {
	if name == "" {
		return false
	}
	if language == "go" {
		return unicode.IsUpper([]rune(name)[0])
	}
	return !strings.HasPrefix(name, "_")
}

// CanonicalSignatureHash hashes a normalized signature string. The
// canonical form collapses all whitespace runs to a single space and
// trims the result, so formatting differences (extra blank, trailing
// space) never change a definition's identity; only real signature edits
// do. This normalization is applied uniformly across languages rather
// than per-language grammar rules.
func CanonicalSignatureHash(signature string) string {
	normalized := strings.Join(strings.Fields(signature), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// ComputeDefID implements the DefFact identity rule: a 64-bit prefix of a
// cryptographic hash over the file path, kind, lexical path, signature
// hash, and a disambiguator that breaks ties between definitions sharing
// every other field, counted in file order.
func ComputeDefID(filePath string, kind SymbolType, lexicalPath, signatureHash string, disambiguator int) string {
	h := sha256.New()
	h.Write([]byte(filePath))
	h.Write([]byte{0})
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(lexicalPath))
	h.Write([]byte{0})
	h.Write([]byte(signatureHash))
	h.Write([]byte{0})
	fmt.Fprintf(h, "%d", disambiguator)
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:8])
}

func (e *FactExtractor) extractImport(n *Node, source []byte, config *LanguageConfig, language string) *Import {
	matched := false
	for _, it := range config.ImportTypes {
		if n.Type == it {
			matched = true
			break
		}
	}
	if !matched {
		return nil
	}

	switch language {
	case "go":
		return extractGoImport(n, source)
	case "typescript", "tsx", "javascript", "jsx":
		return extractJSImport(n, source)
	case "python":
		return extractPythonImport(n, source)
	}
	return nil
}

func extractGoImport(n *Node, source []byte) *Import {
	var alias, path string
	for _, c := range n.Children {
		switch c.Type {
		case "package_identifier":
			alias = c.GetContent(source)
		case "dot":
			alias = "."
		case "blank_identifier":
			alias = "_"
		case "interpreted_string_literal", "raw_string_literal":
			path = strings.Trim(c.GetContent(source), "\"`")
		}
	}
	if path == "" {
		return nil
	}
	return &Import{
		Module:    path,
		Alias:     alias,
		StartLine: int(n.StartPoint.Row) + 1,
		EndLine:   int(n.EndPoint.Row) + 1,
	}
}

func extractJSImport(n *Node, source []byte) *Import {
	var module, alias string
	var symbols []string

	for _, c := range n.Children {
		switch c.Type {
		case "string":
			module = strings.Trim(c.GetContent(source), "\"'`")
		case "import_clause":
			for _, g := range c.Children {
				switch g.Type {
				case "identifier":
					alias = g.GetContent(source)
				case "namespace_import":
					for _, gg := range g.Children {
						if gg.Type == "identifier" {
							alias = "* as " + gg.GetContent(source)
						}
					}
				case "named_imports":
					for _, gg := range g.Children {
						if gg.Type != "import_specifier" {
							continue
						}
						for _, ggg := range gg.Children {
							if ggg.Type == "identifier" {
								symbols = append(symbols, ggg.GetContent(source))
							}
						}
					}
				}
			}
		}
	}
	if module == "" {
		return nil
	}
	return &Import{
		Module:    module,
		Alias:     alias,
		Symbols:   symbols,
		StartLine: int(n.StartPoint.Row) + 1,
		EndLine:   int(n.EndPoint.Row) + 1,
	}
}

func extractPythonImport(n *Node, source []byte) *Import {
	switch n.Type {
	case "import_statement":
		var names []string
		for _, c := range n.Children {
			if c.Type == "dotted_name" || c.Type == "aliased_import" {
				names = append(names, c.GetContent(source))
			}
		}
		if len(names) == 0 {
			return nil
		}
		return &Import{
			Module:    names[0],
			Symbols:   names[1:],
			StartLine: int(n.StartPoint.Row) + 1,
			EndLine:   int(n.EndPoint.Row) + 1,
		}
	case "import_from_statement":
		var module string
		var symbols []string
		sawModule := false
		for _, c := range n.Children {
			switch c.Type {
			case "dotted_name":
				if !sawModule {
					module = c.GetContent(source)
					sawModule = true
				} else {
					symbols = append(symbols, c.GetContent(source))
				}
			case "aliased_import":
				symbols = append(symbols, c.GetContent(source))
			case "wildcard_import":
				symbols = append(symbols, "*")
			}
		}
		if module == "" {
			return nil
		}
		return &Import{
			Module:    module,
			Symbols:   symbols,
			StartLine: int(n.StartPoint.Row) + 1,
			EndLine:   int(n.EndPoint.Row) + 1,
		}
	}
	return nil
}

func (e *FactExtractor) extractCall(n *Node, source []byte, config *LanguageConfig) *Call {
	matched := false
	for _, ct := range config.CallTypes {
		if n.Type == ct {
			matched = true
			break
		}
	}
	if !matched || len(n.Children) == 0 {
		return nil
	}
	callee := strings.TrimSpace(n.Children[0].GetContent(source))
	if callee == "" {
		return nil
	}
	return &Call{
		Callee:    callee,
		StartLine: int(n.StartPoint.Row) + 1,
		EndLine:   int(n.EndPoint.Row) + 1,
	}
}
