package lexical

import "errors"

var (
	// ErrReaderClosed is returned by a Reader after Close.
	ErrReaderClosed = errors.New("lexical: reader closed")
	// ErrWriterClosed is returned by a Writer after Close.
	ErrWriterClosed = errors.New("lexical: writer closed")
	// ErrInvalidDocument is returned for documents without an id.
	ErrInvalidDocument = errors.New("lexical: invalid document")
)

// MatchAll is the query that matches every live document.
const MatchAll = "*"

// Document is the unit of indexing. All fields are searched together.
type Document struct {
	ID     string
	Fields map[string]string
}

// Hit is one search result.
type Hit struct {
	ID    string
	Score float32
}

// Writer is a mutable index.
type Writer interface {
	// AddDocument indexes doc, replacing any document with the same id.
	AddDocument(doc Document) error
	// DeleteDocuments removes the given ids. Unknown ids are ignored.
	DeleteDocuments(ids ...string) error
	// ApplyBatch deletes and then adds as one unit: no reader opened
	// concurrently observes part of the batch.
	ApplyBatch(adds []Document, deletes []string) error
	// Commit marks the current state as durable.
	Commit() error
	// OpenReader returns a view of the current state. applyDeletes is a
	// hint: false allows the implementation to reuse tombstone state from
	// the previous reader when it is known to be unchanged.
	OpenReader(applyDeletes bool) (Reader, error)
	Close() error
}

// Reader is an immutable view of a Writer.
type Reader interface {
	// Search returns the k best matches for query. k <= 0 returns all.
	Search(query string, k int) ([]Hit, error)
	// Count returns the number of documents matching query.
	Count(query string) (int, error)
	// NumDocs returns the number of live documents.
	NumDocs() int
	// Generation identifies the writer state the reader was opened on.
	Generation() uint64
	Close() error
}
