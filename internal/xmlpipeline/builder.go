// Package xmlpipeline streams a Discogs dump XML file one top-level record at
// a time, using an encoding/xml.Decoder token-loop (StartElement dispatch,
// dec.Skip() for uninteresting subtrees, dec.Token() driving everything)
// generalized into a fully recursive element tree since Discogs records
// nest arbitrarily deep.
package xmlpipeline

import (
	"encoding/xml"
	"fmt"

	"github.com/snapetech/discogs-extractor/internal/canonical"
)

// buildElement consumes tokens from dec starting just after start has been
// read and returns the fully materialized subtree rooted at start, having
// consumed through its matching EndElement.
func buildElement(dec *xml.Decoder, start xml.StartElement) (canonical.Element, error) {
	el := canonical.Element{Tag: start.Name.Local}
	if len(start.Attr) > 0 {
		el.Attrs = make(map[string]string, len(start.Attr))
		for _, a := range start.Attr {
			el.Attrs[a.Name.Local] = a.Value
		}
	}

	var text []byte
	for {
		tok, err := dec.Token()
		if err != nil {
			return canonical.Element{}, fmt.Errorf("xmlpipeline: reading <%s>: %w", start.Name.Local, err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			// The decoder may reuse its internal buffer across Token calls, so
			// the bytes must be copied before they are retained.
			text = append(text, t...)
		case xml.StartElement:
			child, err := buildElement(dec, t)
			if err != nil {
				return canonical.Element{}, err
			}
			el.Children = append(el.Children, child)
		case xml.EndElement:
			el.Text = string(text)
			return el, nil
		}
	}
}

// recordScanner walks a dump file of the shape <artists><artist>...</artist>...</artists>,
// entering the root container once and then yielding each matching child
// element in turn, using a "find the root, then loop its children"
// structure generalized to an arbitrary root tag.
type recordScanner struct {
	dec     *xml.Decoder
	rootTag string
	entered bool
}

func newRecordScanner(dec *xml.Decoder, rootTag string) *recordScanner {
	return &recordScanner{dec: dec, rootTag: rootTag}
}

// next advances past tokens that are neither the root container nor tag,
// then builds and returns the element at tag. It returns io.EOF when the
// stream is exhausted without finding another such element.
func (s *recordScanner) next(tag string) (canonical.Element, error) {
	for {
		tok, err := s.dec.Token()
		if err != nil {
			return canonical.Element{}, err
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name.Local == tag {
			return buildElement(s.dec, start)
		}
		if !s.entered && start.Name.Local == s.rootTag {
			// Enter the root container without consuming its subtree; its
			// children are read as subsequent tokens.
			s.entered = true
			continue
		}
		if err := s.dec.Skip(); err != nil {
			return canonical.Element{}, fmt.Errorf("xmlpipeline: skipping <%s>: %w", start.Name.Local, err)
		}
	}
}
