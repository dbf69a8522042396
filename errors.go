package sstable

import "github.com/cockroachdb/errors"

// Error kinds per §7. Call sites wrap these with errors.Wrapf so
// errors.Is still matches the sentinel while the message carries context.
var (
	// ErrInputOrderViolation is returned by Writer.Append/AppendSlice when
	// the caller feeds a key that is not strictly non-decreasing.
	ErrInputOrderViolation = errors.New("sstable: input order violation")
	// ErrCorruptSSTable is returned by Reader/Scanner when framing, a
	// checksum, or an unexpected EOF does not match the on-disk format.
	ErrCorruptSSTable = errors.New("sstable: corrupt sstable")
	// ErrTransientIO wraps disk errors encountered during read or write;
	// fatal within the operation, retryable at the caller's layer.
	ErrTransientIO = errors.New("sstable: transient I/O error")
	// ErrBoundedResourceExhaustion is returned by AppendSlice when the
	// Slice's columns exceed the configured slice size bound, i.e. a caller
	// bypassed Append's boundary rules. Block size is not checked this way.
	ErrBoundedResourceExhaustion = errors.New("sstable: bounded resource exhausted")
	// ErrWriterClosed is returned by Append/AppendSlice once the Writer has
	// already been finalized or abandoned.
	ErrWriterClosed = errors.New("sstable: writer already closed")
)

// LogFunc receives diagnostic messages from a Writer or Reader. Call sites
// are always nil-checked, matching the teacher's log{Critical,...} fields.
type LogFunc func(format string, v ...interface{})

func logf(fn LogFunc, format string, v ...interface{}) {
	if fn != nil {
		fn(format, v...)
	}
}
