package lexstore

import (
	"context"
	"errors"
	"fmt"
	"iter"
)

// DefaultSearchLimit is the number of results returned when Limit is not set.
const DefaultSearchLimit = 10

// Result is a search hit, optionally with its committed value.
type Result struct {
	Hit
	// Value is set when the search was built with WithValues.
	Value []byte
}

// Search creates a new fluent search builder for a query.
//
// Example:
//
//	results, err := db.Search("quick fox").
//	    Limit(5).
//	    Entity("doc").
//	    WithValues().
//	    Execute(ctx)
//
//	// Or with streaming:
//	for r, err := range db.Search("fox").Limit(0).Stream(ctx) {
//	    if err != nil { break }
//	    if r.Score < threshold { break }
//	    process(r)
//	}
func (db *DB) Search(query string) *SearchBuilder {
	return &SearchBuilder{
		db:    db,
		query: query,
		k:     DefaultSearchLimit,
	}
}

// SearchBuilder is a fluent builder for search queries.
type SearchBuilder struct {
	db       *DB
	query    string
	k        int
	entities map[string]struct{}
	values   bool
}

// Limit sets the maximum number of results. 0 returns every match.
func (sb *SearchBuilder) Limit(k int) *SearchBuilder {
	sb.k = k
	return sb
}

// Entity restricts results to the given entities. It may be called more
// than once.
func (sb *SearchBuilder) Entity(entities ...string) *SearchBuilder {
	if sb.entities == nil {
		sb.entities = make(map[string]struct{}, len(entities))
	}
	for _, e := range entities {
		sb.entities[e] = struct{}{}
	}
	return sb
}

// WithValues loads the committed value of every result.
func (sb *SearchBuilder) WithValues() *SearchBuilder {
	sb.values = true
	return sb
}

// Execute runs the search and returns results ordered by descending score.
func (sb *SearchBuilder) Execute(ctx context.Context) ([]Result, error) {
	results := make([]Result, 0, max(sb.k, 0))
	for r, err := range sb.Stream(ctx) {
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}

// Stream runs the search and yields results ordered by descending score.
// Values are loaded lazily, so breaking early skips the remaining reads.
func (sb *SearchBuilder) Stream(ctx context.Context) iter.Seq2[Result, error] {
	return func(yield func(Result, error) bool) {
		hits, err := sb.hits(ctx)
		sb.db.logger.LogSearch(ctx, sb.query, sb.k, len(hits), err)
		if err != nil {
			yield(Result{}, err)
			return
		}

		for _, h := range hits {
			r := Result{Hit: h}
			if sb.values {
				v, err := sb.db.engine.Get(ctx, h.Entity, h.ID)
				if errors.Is(err, ErrNotFound) {
					// Deleted after the index snapshot was taken.
					continue
				}
				if err != nil {
					yield(Result{}, translateError(err))
					return
				}
				r.Value = v
			}
			if !yield(r, nil) {
				return
			}
		}
	}
}

func (sb *SearchBuilder) hits(ctx context.Context) ([]Hit, error) {
	if sb.k < 0 {
		return nil, fmt.Errorf("%w: negative limit %d", ErrInvalidArgument, sb.k)
	}

	// The entity filter runs after ranking, so every match is fetched.
	k := sb.k
	if len(sb.entities) > 0 {
		k = 0
	}
	hits, err := sb.db.engine.Search(ctx, sb.query, k)
	if err != nil {
		return nil, translateError(err)
	}
	if len(sb.entities) == 0 {
		return hits, nil
	}

	filtered := hits[:0]
	for _, h := range hits {
		if _, ok := sb.entities[h.Entity]; ok {
			filtered = append(filtered, h)
			if sb.k > 0 && len(filtered) == sb.k {
				break
			}
		}
	}
	return filtered, nil
}
