// Package spool defines the port interface for the filesystem-backed
// request queue. The atomic-rename claim is the coordinator's only
// cross-process synchronization primitive.
package spool

import "corral/internal/domain/result"

// Spool is the request queue and result store.
//
// Claim semantics: a rename failure means another claimant won the file;
// implementations report that as ok=false, never as an error.
type Spool interface {
	// ListPending returns the base names of request files in pending/.
	ListPending() ([]string, error)

	// Claim atomically moves pending/name to processing/name and returns
	// its content. ok is false when the file was already claimed or
	// removed by someone else.
	Claim(name string) (data []byte, ok bool, err error)

	// Requeue moves processing/name back to pending/, making a rejected
	// request visible to the next poll.
	Requeue(name string) error

	// Discard deletes processing/name. Used for malformed requests and
	// for cleanup after a terminal result has been persisted.
	Discard(name string) error

	// SaveResult persists the terminal record to results/<requestId>.json.
	// The write is atomic from a reader's perspective.
	SaveResult(res *result.TaskResult) error

	// ReadResult returns the raw result document for a request ID.
	ReadResult(requestID string) ([]byte, error)

	// WriteContext externalizes a context payload to context/<requestId>.json
	// and returns the absolute path the worker input should reference.
	WriteContext(requestID string, payload []byte) (string, error)

	// AppendStream appends an output chunk to logs/<requestId>.stream.txt.
	AppendStream(requestID string, chunk []byte) error

	// WriteStreamFooter appends the terminal footer to the transcript.
	WriteStreamFooter(requestID string, footer string) error

	// RecoverOrphans moves files stranded in processing/ by a previous
	// crash back to pending/. Returns the number of recovered files.
	RecoverOrphans() (int, error)

	// PendingDir returns the absolute pending directory, for change
	// notification.
	PendingDir() string
}
