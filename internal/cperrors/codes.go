// Error codes follow the pattern ERR_XXX_DESCRIPTION where the numeric
// range identifies the Kind:
//   - 1XX: Configuration
//   - 2XX: Discovery
//   - 3XX: Parse
//   - 4XX: IndexConsistency
//   - 5XX: Concurrency
//   - 6XX: NotFound
//   - 7XX: InvalidInput
//   - 8XX: Cancelled
//   - 9XX: Internal
package cperrors

const (
	// Configuration (100-199)
	ErrCodeConfigNotFound   = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid    = "ERR_102_CONFIG_INVALID"
	ErrCodeConfigPermission = "ERR_103_CONFIG_PERMISSION"

	// Discovery (200-299)
	ErrCodeRootNotFound       = "ERR_201_ROOT_NOT_FOUND"
	ErrCodeSymlinkEscape      = "ERR_202_SYMLINK_ESCAPES_ROOT"
	ErrCodeIgnoreFileUnread   = "ERR_203_IGNORE_FILE_UNREADABLE"
	ErrCodeManifestAmbiguous = "ERR_204_MANIFEST_AMBIGUOUS"

	// Parse (300-399)
	ErrCodeParseFailed       = "ERR_301_PARSE_FAILED"
	ErrCodeGrammarMissing    = "ERR_302_GRAMMAR_MISSING"
	ErrCodeFileTooLargeParse = "ERR_303_FILE_TOO_LARGE"

	// IndexConsistency (400-499)
	ErrCodeEpochPublishFailed = "ERR_401_EPOCH_PUBLISH_FAILED"
	ErrCodeLexicalStructMismatch = "ERR_402_LEXICAL_STRUCTURAL_MISMATCH"
	ErrCodeCorruptIndex       = "ERR_403_CORRUPT_INDEX"
	ErrCodeJournalReplayFailed = "ERR_404_JOURNAL_REPLAY_FAILED"

	// Concurrency (500-599)
	ErrCodeWriterLockTimeout     = "ERR_501_WRITER_LOCK_TIMEOUT"
	ErrCodeReconcileLockTimeout  = "ERR_502_RECONCILE_LOCK_TIMEOUT"
	ErrCodeStoreBusy             = "ERR_503_STORE_BUSY"

	// NotFound (600-699)
	ErrCodeFileNotFound   = "ERR_601_FILE_NOT_FOUND"
	ErrCodeSymbolNotFound = "ERR_602_SYMBOL_NOT_FOUND"
	ErrCodeEpochNotFound  = "ERR_603_EPOCH_NOT_FOUND"

	// InvalidInput (700-799)
	ErrCodeInvalidQuery = "ERR_701_INVALID_QUERY"
	ErrCodeQueryEmpty   = "ERR_702_QUERY_EMPTY"
	ErrCodeInvalidPath  = "ERR_703_INVALID_PATH"

	// Cancelled (800-899)
	ErrCodeContextCancelled = "ERR_801_CONTEXT_CANCELLED"
	ErrCodeDeadlineExceeded = "ERR_802_DEADLINE_EXCEEDED"

	// Internal (900-999)
	ErrCodeInternal = "ERR_901_INTERNAL"
)
