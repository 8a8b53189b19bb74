package parse

// SymbolType represents the kind of code symbol extracted from a parse tree.
type SymbolType string

const (
	SymbolTypeFunction  SymbolType = "function"
	SymbolTypeClass     SymbolType = "class"
	SymbolTypeInterface SymbolType = "interface"
	SymbolTypeType      SymbolType = "type"
	SymbolTypeVariable  SymbolType = "variable"
	SymbolTypeConstant  SymbolType = "constant"
	SymbolTypeMethod    SymbolType = "method"
	SymbolTypeModule    SymbolType = "module"
	SymbolTypeOther     SymbolType = "other"
)

// Symbol is an intermediate representation of a definition found while
// walking a parse tree, before it is promoted to a DefFact with an
// identity hash and context binding.
type Symbol struct {
	Name       string
	Type       SymbolType
	StartLine  int
	EndLine    int
	StartCol   int
	EndCol     int
	Signature  string
	DocComment string
	Public     bool
}

// Tree represents a parsed AST.
type Tree struct {
	Root     *Node
	Source   []byte
	Language string
}

// Node represents a node in the AST.
type Node struct {
	Type       string
	StartByte  uint32
	EndByte    uint32
	StartPoint Point
	EndPoint   Point
	Children   []*Node
	HasError   bool
}

// Point represents a position in the source code.
type Point struct {
	Row    uint32 // 0-indexed line number
	Column uint32
}

// LanguageConfig holds configuration for a supported language.
type LanguageConfig struct {
	Name       string
	Extensions []string

	FunctionTypes  []string
	ClassTypes     []string
	InterfaceTypes []string
	MethodTypes    []string
	TypeDefTypes   []string
	ConstantTypes  []string
	VariableTypes  []string
	ImportTypes    []string
	CallTypes      []string

	// NameField names the field/child type carrying a node's identifier.
	NameField string
}

// RefRole mirrors internal/structural.RefRole without importing it, to
// keep the parser a leaf package with no store dependency.
type RefRole string

const (
	RoleCall          RefRole = "call"
	RoleImport        RefRole = "import"
	RoleUsage         RefRole = "usage"
	RoleTypeReference RefRole = "type-reference"
)

// Def is a definition fact emitted by the extractor, file/context-bound
// but not yet assigned an identity hash (ComputeDefID does that once the
// caller knows the file and context ids).
type Def struct {
	ID            string
	Kind          SymbolType
	Name          string
	QualifiedName string
	StartLine     int
	StartCol      int
	EndLine       int
	EndCol        int
	SignatureHash string
	Public        bool
	Docstring     string
}

// Ref is a reference fact.
type Ref struct {
	Name         string
	StartLine    int
	StartCol     int
	EndLine      int
	EndCol       int
	Role         RefRole
	EnclosingDef string
}

// Import is an import-like statement.
type Import struct {
	Module    string
	Alias     string
	Symbols   []string
	StartLine int
	EndLine   int
}

// Call is an invocation site.
type Call struct {
	Callee       string
	StartLine    int
	EndLine      int
	EnclosingDef string
}

// FactSet is everything ExtractFacts produces for one file.
type FactSet struct {
	Defs    []*Def
	Refs    []*Ref
	Imports []*Import
	Calls   []*Call
}
