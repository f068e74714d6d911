package xmlpipeline

import (
	"encoding/xml"
	"io"
)

// newDecoder configures an xml.Decoder with no external entity resolution
// and strict mode left at the decoder's default. Discogs dumps declare
// UTF-8, so no CharsetReader is installed.
func newDecoder(r io.Reader) *xml.Decoder {
	dec := xml.NewDecoder(r)
	dec.Strict = true
	return dec
}
