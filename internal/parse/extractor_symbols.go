package parse

import (
	"strings"
)

// SymbolExtractor extracts symbols from parsed AST
type SymbolExtractor struct {
	registry *LanguageRegistry
}

// NewSymbolExtractor creates a new symbol extractor
func NewSymbolExtractor() *SymbolExtractor {
	return &SymbolExtractor{
		registry: DefaultRegistry(),
	}
}

// NewSymbolExtractorWithRegistry creates a new symbol extractor with custom registry
func NewSymbolExtractorWithRegistry(registry *LanguageRegistry) *SymbolExtractor {
	return &SymbolExtractor{
		registry: registry,
	}
}

// Extract extracts symbols from the parsed tree
func (e *SymbolExtractor) Extract(tree *Tree, source []byte) []*Symbol {
	// Return empty slice, not nil, for consistent API behavior (DEBT-012)
	if tree == nil || tree.Root == nil {
		return []*Symbol{}
	}

	config, ok := e.registry.GetByName(tree.Language)
	if !ok {
		return []*Symbol{}
	}

	var symbols []*Symbol

	tree.Root.Walk(func(n *Node) bool {
		symbol := e.extractSymbolFromNode(n, source, config, tree.Language)
		if symbol != nil {
			symbols = append(symbols, symbol)
		}
		return true // continue walking
	})

	return symbols
}

// extractSymbolFromNode extracts a symbol from a single node if it matches
func (e *SymbolExtractor) extractSymbolFromNode(n *Node, source []byte, config *LanguageConfig, language string) *Symbol {
	// Check if this is a symbol-defining node
	var symbolType SymbolType
	var found bool

	// Check function types
	for _, ft := range config.FunctionTypes {
		if n.Type == ft {
			symbolType = SymbolTypeFunction
			found = true
			break
		}
	}

	// Check method types
	if !found {
		for _, mt := range config.MethodTypes {
			if n.Type == mt {
				symbolType = SymbolTypeMethod
				found = true
				break
			}
		}
	}

	// Check class types
	if !found {
		for _, ct := range config.ClassTypes {
			if n.Type == ct {
				symbolType = SymbolTypeClass
				found = true
				break
			}
		}
	}

	// Check interface types
	if !found {
		for _, it := range config.InterfaceTypes {
			if n.Type == it {
				symbolType = SymbolTypeInterface
				found = true
				break
			}
		}
	}

	// Check type definition types
	if !found {
		for _, tt := range config.TypeDefTypes {
			if n.Type == tt {
				symbolType = SymbolTypeType
				found = true
				break
			}
		}
	}

	// Check constant types
	if !found {
		for _, ct := range config.ConstantTypes {
			if n.Type == ct {
				symbolType = SymbolTypeConstant
				found = true
				break
			}
		}
	}

	// Check variable types
	if !found {
		for _, vt := range config.VariableTypes {
			if n.Type == vt {
				symbolType = SymbolTypeVariable
				found = true
				break
			}
		}
	}

	if !found {
		// Check for arrow functions and variable declarations with functions
		symbol := e.extractSpecialSymbol(n, source, language)
		if symbol != nil {
			return symbol
		}
		return nil
	}

	// Extract name
	name := e.extractName(n, source, config, language)
	if name == "" {
		return nil
	}

	// Extract doc comment (look at previous sibling)
	docComment := e.extractDocComment(n, source, language)

	// Extract signature (canonical name+parameter-names form)
	signature := e.extractSignature(n, source, symbolType, name, language)

	return &Symbol{
		Name:       name,
		Type:       symbolType,
		StartLine:  int(n.StartPoint.Row) + 1, // Convert to 1-indexed
		EndLine:    int(n.EndPoint.Row) + 1,
		Signature:  signature,
		DocComment: docComment,
	}
}

// extractName extracts the name of a symbol from a node
func (e *SymbolExtractor) extractName(n *Node, source []byte, config *LanguageConfig, language string) string {
	// Look for identifier child
	switch language {
	case "go":
		return e.extractGoName(n, source)
	case "typescript", "tsx":
		return e.extractTypeScriptName(n, source)
	case "javascript", "jsx":
		return e.extractJavaScriptName(n, source)
	case "python":
		return e.extractPythonName(n, source)
	default:
		// Generic fallback: look for first identifier
		for _, child := range n.Children {
			if child.Type == "identifier" {
				return child.GetContent(source)
			}
		}
	}
	return ""
}

func (e *SymbolExtractor) extractGoName(n *Node, source []byte) string {
	switch n.Type {
	case "function_declaration":
		// Function name is in identifier child
		for _, child := range n.Children {
			if child.Type == "identifier" {
				return child.GetContent(source)
			}
		}
	case "method_declaration":
		// Method name is in field_identifier child (not identifier)
		for _, child := range n.Children {
			if child.Type == "field_identifier" {
				return child.GetContent(source)
			}
		}
	case "type_declaration":
		// Look for type_spec
		for _, child := range n.Children {
			if child.Type == "type_spec" {
				for _, grandchild := range child.Children {
					if grandchild.Type == "type_identifier" {
						return grandchild.GetContent(source)
					}
				}
			}
		}
	case "const_declaration":
		// Go const can be: const Name = value OR const ( Name1 = value1; Name2 = value2 )
		// Look for const_spec children, extract first identifier
		for _, child := range n.Children {
			if child.Type == "const_spec" {
				for _, grandchild := range child.Children {
					if grandchild.Type == "identifier" {
						return grandchild.GetContent(source)
					}
				}
			}
		}
	case "var_declaration":
		// Go var can be: var Name Type = value OR var ( Name1 Type1; Name2 Type2 )
		// Look for var_spec children, extract first identifier
		for _, child := range n.Children {
			if child.Type == "var_spec" {
				for _, grandchild := range child.Children {
					if grandchild.Type == "identifier" {
						return grandchild.GetContent(source)
					}
				}
			}
		}
	}
	return ""
}

func (e *SymbolExtractor) extractTypeScriptName(n *Node, source []byte) string {
	// Handle lexical_declaration (const/let) and variable_declaration (var)
	if n.Type == "lexical_declaration" || n.Type == "variable_declaration" {
		// Name is nested inside variable_declarator
		for _, child := range n.Children {
			if child.Type == "variable_declarator" {
				for _, grandchild := range child.Children {
					if grandchild.Type == "identifier" {
						return grandchild.GetContent(source)
					}
				}
			}
		}
	}

	// Look for identifier or type_identifier
	for _, child := range n.Children {
		if child.Type == "identifier" || child.Type == "type_identifier" {
			return child.GetContent(source)
		}
	}
	return ""
}

func (e *SymbolExtractor) extractJavaScriptName(n *Node, source []byte) string {
	// Handle lexical_declaration (const/let) and variable_declaration (var)
	if n.Type == "lexical_declaration" || n.Type == "variable_declaration" {
		// Name is nested inside variable_declarator
		for _, child := range n.Children {
			if child.Type == "variable_declarator" {
				for _, grandchild := range child.Children {
					if grandchild.Type == "identifier" {
						return grandchild.GetContent(source)
					}
				}
			}
		}
	}

	// Look for identifier
	for _, child := range n.Children {
		if child.Type == "identifier" {
			return child.GetContent(source)
		}
	}
	return ""
}

func (e *SymbolExtractor) extractPythonName(n *Node, source []byte) string {
	// Look for identifier
	for _, child := range n.Children {
		if child.Type == "identifier" {
			return child.GetContent(source)
		}
	}
	return ""
}

// extractSpecialSymbol handles special cases like arrow functions and const functions
func (e *SymbolExtractor) extractSpecialSymbol(n *Node, source []byte, language string) *Symbol {
	switch language {
	case "typescript", "tsx", "javascript", "jsx":
		// Handle const arrow = () => {} and const func = function() {}
		if n.Type == "lexical_declaration" || n.Type == "variable_declaration" {
			return e.extractJSVariableFunctionSymbol(n, source)
		}
	}
	return nil
}

// extractJSVariableFunctionSymbol extracts symbols from JS/TS variable declarations
// that contain arrow functions or function expressions
func (e *SymbolExtractor) extractJSVariableFunctionSymbol(n *Node, source []byte) *Symbol {
	// Find variable_declarator children
	for _, child := range n.Children {
		if child.Type == "variable_declarator" {
			var name string
			var fnNode *Node

			for _, grandchild := range child.Children {
				if grandchild.Type == "identifier" {
					name = grandchild.GetContent(source)
				}
				if grandchild.Type == "arrow_function" || grandchild.Type == "function" || grandchild.Type == "function_expression" {
					fnNode = grandchild
				}
			}

			if name != "" && fnNode != nil {
				return &Symbol{
					Name:      name,
					Type:      SymbolTypeFunction,
					StartLine: int(n.StartPoint.Row) + 1,
					EndLine:   int(n.EndPoint.Row) + 1,
					Signature: e.extractJSFunctionSignature(fnNode, source, name),
				}
			}
		}
	}
	return nil
}

// extractDocComment extracts the doc comment for a symbol
func (e *SymbolExtractor) extractDocComment(n *Node, source []byte, language string) string {
	// Only the single line directly above the node is examined; comments
	// further up, block comments and Python docstrings are not read.

	// Look at the preceding lines for comments
	// This is handled differently per language
	if n.StartPoint.Row == 0 {
		return ""
	}

	// Find the start of the current line
	lineStart := int(n.StartByte)
	for lineStart > 0 && source[lineStart-1] != '\n' {
		lineStart--
	}

	// Look for comment on previous line
	if lineStart <= 1 {
		return ""
	}

	// Find previous line
	prevLineEnd := lineStart - 1
	prevLineStart := prevLineEnd - 1
	for prevLineStart > 0 && source[prevLineStart-1] != '\n' {
		prevLineStart--
	}

	prevLine := strings.TrimSpace(string(source[prevLineStart:prevLineEnd]))

	switch language {
	case "go":
		if strings.HasPrefix(prevLine, "//") {
			return strings.TrimPrefix(prevLine, "//")
		}
	case "python":
		// Python uses docstrings inside the function/class, not before
		return ""
	case "javascript", "jsx", "typescript", "tsx":
		if strings.HasPrefix(prevLine, "//") {
			return strings.TrimPrefix(prevLine, "//")
		}
	}

	return ""
}

// extractSignature builds a symbol's canonical signature: for
// functions/methods, the name plus its parameter names in positional
// order; for classes/interfaces/types, the bare name. Receiver/return
// types, default values, and type annotations never participate, so
// reformatting or changing a return type doesn't change a definition's
// identity hash.
func (e *SymbolExtractor) extractSignature(n *Node, source []byte, symbolType SymbolType, name, language string) string {
	switch symbolType {
	case SymbolTypeFunction, SymbolTypeMethod:
		return e.extractFunctionSignature(n, source, name, language)
	case SymbolTypeClass, SymbolTypeInterface, SymbolTypeType:
		return name
	}

	return ""
}

// extractFunctionSignature extracts name(param1, param2, ...) from a
// function/method declaration node using the language's tree-sitter
// grammar, rather than slicing source text.
func (e *SymbolExtractor) extractFunctionSignature(n *Node, source []byte, name, language string) string {
	switch language {
	case "go":
		return e.extractGoFunctionSignature(n, source, name)
	case "python":
		return e.extractPythonFunctionSignature(n, source, name)
	case "typescript", "tsx", "javascript", "jsx":
		return e.extractJSFunctionSignature(n, source, name)
	}
	return name + "()"
}

// extractGoFunctionSignature reads parameter_list children directly. A
// method_declaration carries two: the receiver's parameter_list first, then
// the real parameter list; a function_declaration carries only the latter.
// The receiver's name is dropped but its type is kept as parameter slot
// zero, so a value receiver and a pointer receiver on the same method name
// are distinct definitions.
func (e *SymbolExtractor) extractGoFunctionSignature(n *Node, source []byte, name string) string {
	lists := n.FindChildrenByType("parameter_list")

	var params []string
	switch {
	case n.Type == "method_declaration" && len(lists) >= 2:
		if recvType := goReceiverType(lists[0], source); recvType != "" {
			params = append(params, recvType)
		}
		params = append(params, goParameterNames(lists[1], source)...)
	case len(lists) >= 1:
		params = append(params, goParameterNames(lists[len(lists)-1], source)...)
	}

	return name + "(" + strings.Join(params, ", ") + ")"
}

// goReceiverType returns the type text of a method receiver (e.g.
// "*Coordinator"), discarding the receiver's own variable name.
func goReceiverType(receiverList *Node, source []byte) string {
	decl := receiverList.FindChildByType("parameter_declaration")
	if decl == nil {
		return ""
	}
	for _, child := range decl.Children {
		switch child.Type {
		case "pointer_type", "type_identifier", "qualified_type", "generic_type":
			return child.GetContent(source)
		}
	}
	return ""
}

// goParameterNames walks a parameter_list and returns every bound name in
// positional order. "a, b int" is one parameter_declaration contributing
// two names; a bare unnamed type (legal in interface method sets) contributes
// none.
func goParameterNames(paramList *Node, source []byte) []string {
	var names []string
	for _, decl := range paramList.Children {
		if decl.Type != "parameter_declaration" && decl.Type != "variadic_parameter_declaration" {
			continue
		}
		for _, child := range decl.Children {
			if child.Type == "identifier" {
				names = append(names, child.GetContent(source))
			}
		}
	}
	return names
}

// extractPythonFunctionSignature reads the "parameters" node of a
// function_definition, keeping *args/**kwargs as literal tokens per the
// canonical form and dropping default values and type annotations.
func (e *SymbolExtractor) extractPythonFunctionSignature(n *Node, source []byte, name string) string {
	paramsNode := n.FindChildByType("parameters")
	if paramsNode == nil {
		return name + "()"
	}

	var names []string
	for _, p := range paramsNode.Children {
		switch p.Type {
		case "identifier":
			names = append(names, p.GetContent(source))
		case "typed_parameter", "default_parameter", "typed_default_parameter":
			if id := p.FindChildByType("identifier"); id != nil {
				names = append(names, id.GetContent(source))
			}
		case "list_splat_pattern":
			if id := p.FindChildByType("identifier"); id != nil {
				names = append(names, "*"+id.GetContent(source))
			}
		case "dictionary_splat_pattern":
			if id := p.FindChildByType("identifier"); id != nil {
				names = append(names, "**"+id.GetContent(source))
			}
		}
	}

	return name + "(" + strings.Join(names, ", ") + ")"
}

// extractJSFunctionSignature reads the "formal_parameters" node of a
// function/method/arrow node, falling back to the single unparenthesized
// identifier an arrow function uses when it has exactly one parameter
// ("a => ...").
func (e *SymbolExtractor) extractJSFunctionSignature(n *Node, source []byte, name string) string {
	if paramsNode := n.FindChildByType("formal_parameters"); paramsNode != nil {
		var names []string
		for _, p := range paramsNode.Children {
			if pname := jsParameterName(p, source); pname != "" {
				names = append(names, pname)
			}
		}
		return name + "(" + strings.Join(names, ", ") + ")"
	}

	for _, child := range n.Children {
		if child.Type == "identifier" {
			return name + "(" + child.GetContent(source) + ")"
		}
	}
	return name + "()"
}

// jsParameterName returns a single formal parameter's bound name, stripping
// TypeScript type annotations and default values. Destructuring patterns
// ({a, b} / [a, b]) have no single bound name, so their raw text stands in.
func jsParameterName(p *Node, source []byte) string {
	switch p.Type {
	case "identifier":
		return p.GetContent(source)
	case "required_parameter", "optional_parameter":
		for _, child := range p.Children {
			if n := jsParameterName(child, source); n != "" {
				return n
			}
		}
		return ""
	case "assignment_pattern":
		if len(p.Children) > 0 {
			return jsParameterName(p.Children[0], source)
		}
		return ""
	case "rest_pattern":
		for _, child := range p.Children {
			if child.Type == "identifier" {
				return "..." + child.GetContent(source)
			}
		}
		return ""
	case "object_pattern", "array_pattern":
		return p.GetContent(source)
	}
	return ""
}
