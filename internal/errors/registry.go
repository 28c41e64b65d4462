package errors

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category Category
	Message  string
	Detail   string
	DocURL   string
}

// Codes used across the module.
const (
	CodeUnbalancedGroup       = "E001"
	CodeDanglingNodeRead      = "E002"
	CodeStructuralMismatch    = "E003"
	CodeReuseCapacityExceeded = "E004"
	CodeStaleHandle           = "E005"
	CodeNodeMissing           = "E006"
	CodeNodeTypeMismatch      = "E007"
	CodePassReentered         = "E008"
	CodeBudgetExceeded        = "E009"
	CodeCompositionPanic      = "E010"
	CodeRuntimeClosed         = "E011"
	CodeDisposed              = "E012"

	CodeConfigInvalid  = "E120"
	CodeConfigRequired = "E121"
	CodeConfigValue    = "E122"
	CodeConfigNotFound = "E141"

	CodeDumpFailed    = "E150"
	CodeUnknownScript = "E151"
)

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Structural Errors (E001-E019)
	// ============================================

	CodeUnbalancedGroup: {
		Category: CategoryStructure,
		Message:  "Unbalanced group",
		Detail:   "A group was closed without a matching open, or a pass finished with groups still open. The pass was aborted and the slot table unwound.",
		DocURL:   "https://recompose.dev/docs/errors/E001",
	},
	CodeDanglingNodeRead: {
		Category: CategoryStructure,
		Message:  "Node read at a slot that holds no node",
		Detail:   "Composition code and the slot table are out of sync. Emit nodes through Emit inside groups rather than reading raw slots.",
		DocURL:   "https://recompose.dev/docs/errors/E002",
	},
	CodeStructuralMismatch: {
		Category: CategoryStructure,
		Message:  "Remembered value changed type at a reused call site",
		Detail:   "The same group produced a remembered value of a different type than in the previous pass. The old value was discarded. Wrap conditional remembers in their own group.",
		DocURL:   "https://recompose.dev/docs/errors/E003",
	},
	CodeReuseCapacityExceeded: {
		Category: CategoryReuse,
		Message:  "Reuse pool is full",
		Detail:   "The oldest pooled subcomposition was disposed to make room.",
		DocURL:   "https://recompose.dev/docs/errors/E004",
	},

	// ============================================
	// Runtime Errors (E005-E099)
	// ============================================

	CodeStaleHandle: {
		Category: CategoryState,
		Message:  "Stale state handle",
		Detail:   "The state cell this handle pointed at has been released; its generation no longer matches.",
		DocURL:   "https://recompose.dev/docs/errors/E005",
	},
	CodeNodeMissing: {
		Category: CategoryApplier,
		Message:  "Node not found in applier",
		Detail:   "The applier has no node for the requested id.",
		DocURL:   "https://recompose.dev/docs/errors/E006",
	},
	CodeNodeTypeMismatch: {
		Category: CategoryApplier,
		Message:  "Node has unexpected type",
		Detail:   "The node stored under this id is not of the type requested by the call site.",
		DocURL:   "https://recompose.dev/docs/errors/E007",
	},
	CodePassReentered: {
		Category: CategoryRuntime,
		Message:  "Pass requested while a pass is running",
		Detail:   "RunPassNow was called from inside a composition or effect. Use RequestPass instead.",
		DocURL:   "https://recompose.dev/docs/errors/E008",
	},
	CodeBudgetExceeded: {
		Category: CategoryRuntime,
		Message:  "Pass budget exceeded",
		Detail:   "Too many passes ran inside the budget window. Pending work is kept for a later pass.",
		DocURL:   "https://recompose.dev/docs/errors/E009",
	},
	CodeCompositionPanic: {
		Category: CategoryRuntime,
		Message:  "Composition panicked",
		Detail:   "A composable body panicked. The pass was aborted and the slot table unwound.",
		DocURL:   "https://recompose.dev/docs/errors/E010",
	},
	CodeRuntimeClosed: {
		Category: CategoryRuntime,
		Message:  "Runtime closed",
		DocURL:   "https://recompose.dev/docs/errors/E011",
	},
	CodeDisposed: {
		Category: CategoryRuntime,
		Message:  "Composition disposed",
		Detail:   "The composition or subcomposition has been disposed and can no longer run passes.",
		DocURL:   "https://recompose.dev/docs/errors/E012",
	},

	// ============================================
	// Config Errors (E120-E149)
	// ============================================

	CodeConfigInvalid: {
		Category: CategoryConfig,
		Message:  "Invalid configuration file",
		Detail:   "The configuration file could not be parsed.",
		DocURL:   "https://recompose.dev/docs/errors/E120",
	},
	CodeConfigRequired: {
		Category: CategoryConfig,
		Message:  "Missing required configuration",
		DocURL:   "https://recompose.dev/docs/errors/E121",
	},
	CodeConfigValue: {
		Category: CategoryConfig,
		Message:  "Invalid configuration value",
		DocURL:   "https://recompose.dev/docs/errors/E122",
	},
	CodeConfigNotFound: {
		Category: CategoryConfig,
		Message:  "Configuration file not found",
		Detail:   "No recompose.json or recompose.yaml was found.",
		DocURL:   "https://recompose.dev/docs/errors/E141",
	},

	// ============================================
	// CLI Errors (E150-E169)
	// ============================================

	CodeDumpFailed: {
		Category: CategoryCLI,
		Message:  "Failed to write dump",
		DocURL:   "https://recompose.dev/docs/errors/E150",
	},
	CodeUnknownScript: {
		Category: CategoryCLI,
		Message:  "Unknown command",
		DocURL:   "https://recompose.dev/docs/errors/E151",
	},
}

// GetAllCodes returns all registered error codes.
func GetAllCodes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	return codes
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}

// Register adds a new error template to the registry.
func Register(code string, template ErrorTemplate) {
	registry[code] = template
}
