package xmlpipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/snapetech/discogs-extractor/internal/canonical"
)

// ErrMalformedRecord is re-exported so callers outside this package can
// errors.As against the type canonical.Project returns for a malformed
// element. Errors while building an element from the decoder are decode
// errors, not this type.
type ErrMalformedRecord = canonical.ErrMalformedRecord

// DedupIndex is the subset of *dedup.Store the pipeline needs. Declaring it
// here (rather than importing dedup directly) keeps xmlpipeline testable
// with a fake and avoids a dependency cycle. The pipeline only ever reads
// the index: the corresponding write (Update) happens after the record is
// broker-confirmed, not here, so a crash or exhausted-retry nack before
// confirm never leaves a record marked seen without having been published.
type DedupIndex interface {
	Seen(class canonical.EntityClass, id int64, hash [32]byte) (bool, error)
}

// Decision records why a record was or was not published.
type Decision int

const (
	Publish Decision = iota
	Drop
	Skipped
)

func (d Decision) String() string {
	switch d {
	case Publish:
		return "publish"
	case Drop:
		return "drop"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Record is one decided output of the pipeline, carrying everything the
// publisher needs: the canonical body, its hash, and its position in the
// file for resume bookkeeping.
type Record struct {
	Class         canonical.EntityClass
	ID            int64
	Body          map[string]any
	CanonicalJSON []byte
	Hash          [32]byte
	ElementIndex  int
	Decision      Decision
}

// Stats summarizes one Run invocation.
type Stats struct {
	Processed int
	Published int
	Dropped   int
	Skipped   int
	Malformed int
}

// Run streams class-tagged records out of r, projecting each into canonical
// form, consulting dedupIndex to decide Publish vs Drop, and sending decided
// records to out. Records at element indices below startElementIndex are
// counted (to keep the index accurate) but not re-emitted, implementing
// resume-by-element-index.
//
// Every element the decoder hands back progresses IDLE -> BUILDING (inside
// buildElement) -> PROJECTED (canonical.Project succeeds) -> DECIDED
// (dedupIndex consulted) -> PUBLISH/DROP, or SKIPPED if its index is below
// the resume point. A malformed record (bad or missing id, or any error from
// canonical.Project) is counted and skipped without halting the run; a
// decode error from the underlying xml.Decoder is treated as stream
// truncation and halts the run, since the decoder is not guaranteed usable
// after a syntax error.
func Run(ctx context.Context, class canonical.EntityClass, r io.Reader, dedupIndex DedupIndex, startElementIndex int, out chan<- Record) (Stats, error) {
	dec := newDecoder(r)
	tag := class.ElementTag()
	scanner := newRecordScanner(dec, class.RootTag())

	var stats Stats
	index := -1
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		index++
		el, err := scanner.next(tag)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return stats, nil
			}
			return stats, fmt.Errorf("xmlpipeline: %s element %d: %w", class, index, err)
		}
		stats.Processed++

		if index < startElementIndex {
			stats.Skipped++
			continue
		}

		id, body, err := canonical.Project(class, el)
		if err != nil {
			var merr *canonical.ErrMalformedRecord
			if errors.As(err, &merr) {
				stats.Malformed++
				continue
			}
			return stats, fmt.Errorf("xmlpipeline: project %s element %d: %w", class, index, err)
		}

		canon, err := canonical.Canonicalize(body)
		if err != nil {
			return stats, fmt.Errorf("xmlpipeline: canonicalize %s/%d: %w", class, id, err)
		}
		hash := canonical.ContentHashBytes(canon)

		rec := Record{
			Class:         class,
			ID:            id,
			Body:          body,
			CanonicalJSON: canon,
			Hash:          hash,
			ElementIndex:  index,
		}

		seen, err := dedupIndex.Seen(class, id, hash)
		if err != nil {
			return stats, fmt.Errorf("xmlpipeline: dedup lookup %s/%d: %w", class, id, err)
		}
		if seen {
			rec.Decision = Drop
			stats.Dropped++
		} else {
			rec.Decision = Publish
			stats.Published++
		}

		select {
		case out <- rec:
		case <-ctx.Done():
			return stats, ctx.Err()
		}
	}
}
