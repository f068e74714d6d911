// Package canonical projects a generic parsed XML element tree into the
// deterministic JSON shape used for content hashing and publishing, for each
// of the four Discogs entity classes.
package canonical

// EntityClass identifies one of the four known top-level Discogs record
// types. The XML schema is not expected to grow a fifth class; an unknown
// tag name is a MalformedRecord, not a new EntityClass.
type EntityClass string

const (
	Artist  EntityClass = "artist"
	Label   EntityClass = "label"
	Master  EntityClass = "master"
	Release EntityClass = "release"
)

// Classes lists the four entity classes the extractor knows how to process,
// in the order the scheduler starts their pipelines.
var Classes = []EntityClass{Artist, Label, Master, Release}

// RootTag returns the XML document root element name that wraps a stream of
// this entity's top-level elements (e.g. "artists" wraps "artist").
func (c EntityClass) RootTag() string {
	return string(c) + "s"
}

// ElementTag returns the top-level XML element name for one record of this class.
func (c EntityClass) ElementTag() string {
	return string(c)
}

// Valid reports whether c is one of the four known classes.
func (c EntityClass) Valid() bool {
	switch c {
	case Artist, Label, Master, Release:
		return true
	default:
		return false
	}
}

// Element is a generic, order-preserving XML element tree built by the
// streaming decoder in internal/xmlpipeline. Projection functions in this
// package walk an Element tree and produce the canonical JSON value for it.
type Element struct {
	Tag      string
	Attrs    map[string]string
	Text     string // concatenated character data directly under this element
	Children []Element
}

// Attr returns the value of the named attribute, or "" if absent.
func (e Element) Attr(name string) string {
	return e.Attrs[name]
}

// ChildrenByTag returns, in document order, the direct children whose tag matches name.
func (e Element) ChildrenByTag(name string) []Element {
	var out []Element
	for _, c := range e.Children {
		if c.Tag == name {
			out = append(out, c)
		}
	}
	return out
}

// Child returns the first direct child whose tag matches name, and whether it was found.
func (e Element) Child(name string) (Element, bool) {
	for _, c := range e.Children {
		if c.Tag == name {
			return c, true
		}
	}
	return Element{}, false
}

// ChildText returns the text of the first direct child matching name, or "".
func (e Element) ChildText(name string) string {
	c, ok := e.Child(name)
	if !ok {
		return ""
	}
	return c.Text
}
