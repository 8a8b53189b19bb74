package discovery

import (
	"os"
	"path/filepath"
	"sort"
)

// Family is a language family recognized by manifest probing.
type Family string

const (
	FamilyGo     Family = "go"
	FamilyNode   Family = "node"
	FamilyPython Family = "python"
	FamilyRust   Family = "rust"
)

// manifestRule is one (filename, confidence) probe for a language family.
type manifestRule struct {
	family     Family
	filename   string
	confidence float64
}

// manifestRules is the probe table from SPEC_FULL.md section 4.2,
// highest confidence first within a family.
var manifestRules = []manifestRule{
	{FamilyGo, "go.mod", 1.0},
	{FamilyGo, "go.work", 0.9},
	{FamilyNode, "package.json", 1.0},
	{FamilyNode, "tsconfig.json", 0.6},
	{FamilyPython, "pyproject.toml", 1.0},
	{FamilyPython, "setup.py", 0.7},
	{FamilyPython, "setup.cfg", 0.6},
	{FamilyPython, "requirements.txt", 0.3},
	{FamilyRust, "Cargo.toml", 1.0},
}

// Context is a detected workspace root: a directory containing a
// manifest that identifies its language family.
type Context struct {
	// Root is the root-relative directory path ("" for the repository root).
	Root       string
	Family     Family
	Manifest   string
	Confidence float64
}

// Overlay is a Context that lost an innermost-wins tie against a
// sibling at the same depth; still reported by map_repo as a secondary
// workspace.
type Overlay struct {
	Context    Context
	LosingRoot string
}

// DetectContexts walks absRoot (already filtered by resolver) and
// returns every directory carrying a recognized manifest, applying
// "innermost wins" tie-breaking per language family: when two contexts
// of the same family sit at the same depth with overlapping scope, the
// lexicographically first root wins and the other becomes an Overlay.
func DetectContexts(absRoot string, dirs []string) (contexts []Context, overlays []Overlay) {
	type candidate struct {
		Context
		depth int
	}
	var candidates []candidate

	check := func(relDir string) {
		absDir := filepath.Join(absRoot, relDir)
		var best *manifestRule
		for i := range manifestRules {
			r := &manifestRules[i]
			if fileExists(filepath.Join(absDir, r.filename)) {
				if best == nil || r.confidence > best.confidence {
					best = r
				}
			}
		}
		if best != nil {
			candidates = append(candidates, candidate{
				Context: Context{Root: relDir, Family: best.family, Manifest: best.filename, Confidence: best.confidence},
				depth:   len(filepath.SplitList(relDir)),
			})
		}
	}

	check("")
	for _, d := range dirs {
		check(d)
	}

	// group by family+depth to resolve ties
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].depth != candidates[j].depth {
			return candidates[i].depth < candidates[j].depth
		}
		return candidates[i].Root < candidates[j].Root
	})

	seenDepthFamily := make(map[string]string) // family|depth -> winning root
	for _, c := range candidates {
		key := string(c.Family)
		if winner, ok := seenDepthFamily[key]; ok {
			// A context of this family already claims an ancestor scope;
			// treat the deeper one as an overlay of the shallower winner
			// only if it's nested under it, otherwise it's independent.
			if winner != "" && isUnder(c.Root, winner) {
				overlays = append(overlays, Overlay{Context: c.Context, LosingRoot: winner})
				continue
			}
		}
		contexts = append(contexts, c.Context)
		seenDepthFamily[key] = c.Root
	}
	return contexts, overlays
}

func isUnder(child, ancestor string) bool {
	if ancestor == "" {
		return child != ""
	}
	rel, err := filepath.Rel(ancestor, child)
	if err != nil {
		return false
	}
	return rel != "." && !filepathHasDotDot(rel)
}

func filepathHasDotDot(rel string) bool {
	for _, part := range filepath.SplitList(rel) {
		if part == ".." {
			return true
		}
	}
	return rel == ".." || len(rel) >= 2 && rel[:2] == ".."
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
