// Package ignore decides which repository paths the index engine is
// allowed to read.
//
// Features:
//   - Basic pattern matching (*.log, temp/)
//   - Wildcard patterns (*, ?, **)
//   - Rooted patterns (/build)
//   - Negation patterns (!important.log)
//   - Directory-only patterns (build/)
//   - Nested .cplignore/.gitignore file support
//   - Thread-safe matching
//
// Usage:
//
//	r := ignore.NewResolver("/repo")
//	r.LoadFile("/repo/.gitignore", "")
//	ok, reason := r.IsIndexable("vendor/lib.go", false)
package ignore
