// Package errors provides coded, diagnosable errors for recompose.
//
// Each code maps to a category, a short message, a longer explanation and a
// documentation URL. Errors raised for a group carry the call site that
// opened it, so a terminal rendering can show the offending source lines.
//
// # Categories
//
//   - structure: slot table discipline (unbalanced groups, dangling node reads,
//     remembered type changes)
//   - runtime: pass scheduling and execution
//   - state: state cell handles
//   - applier: node store failures
//   - reuse: subcomposition pool pressure
//   - config, cli: tooling
//
// # Usage
//
//	err := errors.New(errors.CodeStructuralMismatch).
//	    WithLocation("app/list.go", 42, 0).
//	    WithSuggestion("Wrap the conditional Remember in its own WithGroup")
//
//	fmt.Println(err.Format())
//
// A ComposeError matches any other ComposeError with the same code under
// errors.Is, so package-level sentinels can be compared against errors that
// carry extra detail.
package errors
