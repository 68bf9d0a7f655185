// Package kberr provides structured error handling for Candlekeep.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Dependency and validation-gate errors
//   - 3XX: Ingestion source errors
//   - 4XX: Request validation errors
//   - 5XX: Internal errors
package kberr

// Kind classifies an error for propagation policy decisions.
// The kinds mirror the taxonomy consumers see at the wire surface.
type Kind string

const (
	// KindConfigInvalid indicates missing or unparseable settings at startup.
	KindConfigInvalid Kind = "config_invalid"
	// KindDependencyUnavailable indicates a required capability is absent.
	KindDependencyUnavailable Kind = "dependency_unavailable"
	// KindDependencyDegraded indicates a non-required capability is absent.
	KindDependencyDegraded Kind = "dependency_degraded"
	// KindIndexMissing indicates the store reports a missing vector/text index.
	KindIndexMissing Kind = "index_missing"
	// KindSourceUnreadable indicates fetch or convert failed for one source.
	KindSourceUnreadable Kind = "source_unreadable"
	// KindEmbedderFailed indicates the embedding call failed after retries.
	KindEmbedderFailed Kind = "embedder_failed"
	// KindUpsertConflict indicates a concurrent write of the same content hash.
	// Treated as success by callers (idempotent upsert).
	KindUpsertConflict Kind = "upsert_conflict"
	// KindDeadlineExceeded indicates a per-job or per-query timeout expired.
	KindDeadlineExceeded Kind = "deadline_exceeded"
	// KindQueueFull indicates enqueue was rejected above the depth ceiling.
	KindQueueFull Kind = "queue_full"
	// KindNotFound indicates a requested record does not exist.
	KindNotFound Kind = "not_found"
	// KindInvalidInput indicates a malformed request.
	KindInvalidInput Kind = "invalid_input"
	// KindInternal covers anything else.
	KindInternal Kind = "internal"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	CodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	CodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Dependency errors (200-299)
	CodeDependencyUnavailable = "ERR_201_DEPENDENCY_UNAVAILABLE"
	CodeDependencyDegraded    = "ERR_202_DEPENDENCY_DEGRADED"
	CodeIndexMissing          = "ERR_203_INDEX_MISSING"
	CodeQueueFull             = "ERR_204_QUEUE_FULL"
	CodeQueueUnavailable      = "ERR_205_QUEUE_UNAVAILABLE"

	// Source errors (300-399)
	CodeSourceUnreadable  = "ERR_301_SOURCE_UNREADABLE"
	CodeSourceUnsupported = "ERR_302_SOURCE_UNSUPPORTED"
	CodeSourceCorrupt     = "ERR_303_SOURCE_CORRUPT"
	CodeSourceUnreachable = "ERR_304_SOURCE_UNREACHABLE"
	CodeSourceAuthDenied  = "ERR_305_SOURCE_AUTH_DENIED"

	// Request validation errors (400-499)
	CodeInvalidInput = "ERR_401_INVALID_INPUT"
	CodeQueryEmpty   = "ERR_402_QUERY_EMPTY"
	CodeNotFound     = "ERR_403_NOT_FOUND"
	CodeDuplicate    = "ERR_404_DUPLICATE"

	// Internal errors (500-599)
	CodeInternal         = "ERR_501_INTERNAL"
	CodeEmbedderFailed   = "ERR_502_EMBEDDER_FAILED"
	CodeSearchFailed     = "ERR_503_SEARCH_FAILED"
	CodeUpsertConflict   = "ERR_504_UPSERT_CONFLICT"
	CodeDeadlineExceeded = "ERR_505_DEADLINE_EXCEEDED"
)

// kindFromCode maps an error code to its taxonomy kind.
func kindFromCode(code string) Kind {
	switch code {
	case CodeConfigNotFound, CodeConfigInvalid:
		return KindConfigInvalid
	case CodeDependencyUnavailable, CodeQueueUnavailable:
		return KindDependencyUnavailable
	case CodeDependencyDegraded:
		return KindDependencyDegraded
	case CodeIndexMissing:
		return KindIndexMissing
	case CodeQueueFull:
		return KindQueueFull
	case CodeSourceUnreadable, CodeSourceUnsupported, CodeSourceCorrupt,
		CodeSourceUnreachable, CodeSourceAuthDenied:
		return KindSourceUnreadable
	case CodeInvalidInput, CodeQueryEmpty:
		return KindInvalidInput
	case CodeNotFound:
		return KindNotFound
	case CodeDuplicate:
		return KindUpsertConflict
	case CodeEmbedderFailed:
		return KindEmbedderFailed
	case CodeUpsertConflict:
		return KindUpsertConflict
	case CodeDeadlineExceeded:
		return KindDeadlineExceeded
	default:
		return KindInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case CodeConfigNotFound, CodeConfigInvalid, CodeDependencyUnavailable:
		return SeverityFatal
	case CodeDependencyDegraded, CodeSourceUnreadable, CodeSourceUnsupported,
		CodeSourceCorrupt, CodeSourceUnreachable, CodeSourceAuthDenied,
		CodeUpsertConflict:
		return SeverityWarning
	default:
		return SeverityError
	}
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case CodeQueueFull, CodeQueueUnavailable, CodeSourceUnreachable:
		return true
	default:
		return false
	}
}
