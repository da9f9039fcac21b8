// Package mutation defines the closed set of failure kinds produced by the
// file mutation pipeline, plus helpers for matching and reporting them.
package mutation

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies one failure class of the mutation pipeline.
type Kind int

const (
	KindUnknown Kind = iota
	ExtractionFailed
	ScopeViolation
	ApplicationFailed
	BaseChanged
	LowConfidence
	PathMismatch
	OversizeContent
	KeepBlockViolation
	SyntaxInvalid
	UnsafePath
)

// Kinds lists every defined kind in declaration order.
var Kinds = []Kind{
	ExtractionFailed,
	ScopeViolation,
	ApplicationFailed,
	BaseChanged,
	LowConfidence,
	PathMismatch,
	OversizeContent,
	KeepBlockViolation,
	SyntaxInvalid,
	UnsafePath,
}

func (k Kind) String() string {
	switch k {
	case ExtractionFailed:
		return "ExtractionFailed"
	case ScopeViolation:
		return "ScopeViolation"
	case ApplicationFailed:
		return "ApplicationFailed"
	case BaseChanged:
		return "BaseChanged"
	case LowConfidence:
		return "LowConfidence"
	case PathMismatch:
		return "PathMismatch"
	case OversizeContent:
		return "OversizeContent"
	case KeepBlockViolation:
		return "KeepBlockViolation"
	case SyntaxInvalid:
		return "SyntaxInvalid"
	case UnsafePath:
		return "UnsafePath"
	default:
		return "Unknown"
	}
}

// Retryable reports whether the orchestrator may rebuild and reattempt after this kind.
func (k Kind) Retryable() bool {
	return k == BaseChanged
}

// Sentinels allow errors.Is matching against a kind without inspecting payloads.
var (
	ErrExtractionFailed   = errors.New("extraction failed")
	ErrScopeViolation     = errors.New("scope violation")
	ErrApplicationFailed  = errors.New("application failed")
	ErrBaseChanged        = errors.New("base changed")
	ErrLowConfidence      = errors.New("low confidence")
	ErrPathMismatch       = errors.New("path mismatch")
	ErrOversizeContent    = errors.New("oversize content")
	ErrKeepBlockViolation = errors.New("keep block violation")
	ErrSyntaxInvalid      = errors.New("syntax invalid")
	ErrUnsafePath         = errors.New("unsafe path")
)

// Sentinel returns the sentinel error for k, or nil for KindUnknown.
func (k Kind) Sentinel() error {
	switch k {
	case ExtractionFailed:
		return ErrExtractionFailed
	case ScopeViolation:
		return ErrScopeViolation
	case ApplicationFailed:
		return ErrApplicationFailed
	case BaseChanged:
		return ErrBaseChanged
	case LowConfidence:
		return ErrLowConfidence
	case PathMismatch:
		return ErrPathMismatch
	case OversizeContent:
		return ErrOversizeContent
	case KeepBlockViolation:
		return ErrKeepBlockViolation
	case SyntaxInvalid:
		return ErrSyntaxInvalid
	case UnsafePath:
		return ErrUnsafePath
	default:
		return nil
	}
}

// BlockChange says how a protected block was disturbed.
type BlockChange string

const (
	BlockRemoved  BlockChange = "removed"
	BlockModified BlockChange = "modified"
	BlockInvalid  BlockChange = "invalid"
)

// Error is the single error type of the pipeline. Only the payload fields
// relevant to Kind are populated.
type Error struct {
	Kind   Kind
	Path   string
	Detail string

	// BaseChanged, PathMismatch
	Expected string
	Actual   string

	// ScopeViolation
	Violations []string

	// ApplicationFailed
	Attempts []string

	// KeepBlockViolation
	BlockID     string
	BlockChange BlockChange

	// SyntaxInvalid
	Language string
	Line     int
	Column   int

	// OversizeContent
	Size  int
	Limit int

	// LowConfidence
	Confidence float64
	Threshold  float64

	Cause error
}

// Error renders the kind's stable prefix followed by a diagnostic message.
func (e *Error) Error() string {
	msg := e.message()
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return e.prefix() + ": " + msg
}

func (e *Error) prefix() string {
	switch e.Kind {
	case ExtractionFailed:
		return "EXTRACTION_FAILED"
	case ScopeViolation:
		return "SCOPE_VIOLATION"
	case ApplicationFailed:
		return "APPLICATION_FAILED"
	case BaseChanged:
		return "BASE_CHANGED"
	case LowConfidence:
		return "LOW_CONFIDENCE"
	case PathMismatch:
		return "PATH_MISMATCH"
	case OversizeContent:
		return "OVERSIZE_OUTPUT"
	case KeepBlockViolation:
		if e.BlockChange == BlockModified {
			return "KEEP_BLOCK_MODIFIED"
		}
		return "KEEP_BLOCK_REMOVED"
	case SyntaxInvalid:
		return "SYNTAX_INVALID"
	case UnsafePath:
		return "UNSAFE_PATH"
	default:
		return "MUTATION_FAILED"
	}
}

func (e *Error) message() string {
	switch e.Kind {
	case ScopeViolation:
		return fmt.Sprintf("%d path(s) rejected: %s", len(e.Violations), strings.Join(e.Violations, ", "))
	case ApplicationFailed:
		return fmt.Sprintf("all strategies failed (%s)", strings.Join(e.Attempts, ", "))
	case BaseChanged:
		return fmt.Sprintf("%s expected %s but found %s", e.Path, e.Expected, e.Actual)
	case LowConfidence:
		return fmt.Sprintf("confidence %.2f below threshold %.2f", e.Confidence, e.Threshold)
	case PathMismatch:
		return fmt.Sprintf("contract path %q does not match expected %q", e.Actual, e.Expected)
	case OversizeContent:
		return fmt.Sprintf("%s content is %d bytes, limit %d", e.Path, e.Size, e.Limit)
	case KeepBlockViolation:
		if e.Detail != "" {
			return fmt.Sprintf("block %q %s in %s: %s", e.BlockID, e.BlockChange, e.Path, e.Detail)
		}
		return fmt.Sprintf("block %q %s in %s", e.BlockID, e.BlockChange, e.Path)
	case SyntaxInvalid:
		return fmt.Sprintf("%s:%d:%d: %s", e.Path, e.Line, e.Column, e.Detail)
	case UnsafePath:
		return fmt.Sprintf("%s: %s", e.Path, e.Detail)
	default:
		return e.Detail
	}
}

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.Sentinel()
	return s != nil && target == s
}

// Unwrap exposes the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// KindOf returns the kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether err may be retried by rebuilding the request.
func IsRetryable(err error) bool {
	return KindOf(err).Retryable()
}

// NewExtractionFailed reports that no usable diff could be recovered.
func NewExtractionFailed(detail string) *Error {
	return &Error{Kind: ExtractionFailed, Detail: detail}
}

// NewScopeViolation reports rejected destination paths, rendered as "path (reason)".
func NewScopeViolation(violations []string) *Error {
	return &Error{Kind: ScopeViolation, Violations: violations}
}

// NewApplicationFailed reports that every strategy was exhausted.
func NewApplicationFailed(attempts []string, cause error) *Error {
	return &Error{Kind: ApplicationFailed, Attempts: attempts, Cause: cause}
}

// NewBaseChanged reports an optimistic-concurrency conflict.
func NewBaseChanged(path, expected, actual string) *Error {
	return &Error{Kind: BaseChanged, Path: path, Expected: expected, Actual: actual}
}

// NewLowConfidence reports a contract below the confidence threshold.
func NewLowConfidence(confidence, threshold float64) *Error {
	return &Error{Kind: LowConfidence, Confidence: confidence, Threshold: threshold}
}

// NewPathMismatch reports a contract that targets a different file than requested.
func NewPathMismatch(declared, expected string) *Error {
	return &Error{Kind: PathMismatch, Path: declared, Actual: declared, Expected: expected}
}

// NewOversizeContent reports content above the configured ceiling.
func NewOversizeContent(path string, size, limit int) *Error {
	return &Error{Kind: OversizeContent, Path: path, Size: size, Limit: limit}
}

// NewKeepBlockViolation reports a removed, altered or malformed protected block.
func NewKeepBlockViolation(path, blockID string, change BlockChange, detail string) *Error {
	return &Error{Kind: KeepBlockViolation, Path: path, BlockID: blockID, BlockChange: change, Detail: detail}
}

// NewSyntaxInvalid reports a parser diagnostic for new content.
func NewSyntaxInvalid(path, language string, line, column int, detail string) *Error {
	return &Error{Kind: SyntaxInvalid, Path: path, Language: language, Line: line, Column: column, Detail: detail}
}

// NewUnsafePath reports a path that escapes the repository or is malformed.
func NewUnsafePath(path, reason string) *Error {
	return &Error{Kind: UnsafePath, Path: path, Detail: reason}
}
