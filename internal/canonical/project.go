package canonical

import (
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedRecord wraps the cause of a per-element projection failure:
// missing/unparseable id, or an XML shape the projector cannot make sense of.
// The pipeline counts and skips these; it never aborts the file for one.
type ErrMalformedRecord struct {
	Class EntityClass
	Cause error
}

func (e *ErrMalformedRecord) Error() string {
	return fmt.Sprintf("malformed %s record: %v", e.Class, e.Cause)
}

func (e *ErrMalformedRecord) Unwrap() error { return e.Cause }

// Project converts a parsed top-level Element into its canonical body for
// class, returning the element's integer id. It never returns a nil body
// on success; on failure the returned error is always an *ErrMalformedRecord.
func Project(class EntityClass, el Element) (id int64, body map[string]any, err error) {
	id, err = elementID(el)
	if err != nil {
		return 0, nil, &ErrMalformedRecord{Class: class, Cause: err}
	}
	switch class {
	case Artist:
		body = projectArtist(el)
	case Label:
		body = projectLabel(el)
	case Master:
		body = projectMaster(el)
	case Release:
		body = projectRelease(el)
	default:
		return 0, nil, &ErrMalformedRecord{Class: class, Cause: fmt.Errorf("unknown entity class %q", class)}
	}
	body["id"] = id
	return id, body, nil
}

func elementID(el Element) (int64, error) {
	raw := strings.TrimSpace(el.Attr("id"))
	if raw == "" {
		return 0, fmt.Errorf("missing id attribute")
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("id attribute %q is not an integer: %w", raw, err)
	}
	return n, nil
}

func projectArtist(el Element) map[string]any {
	known := map[string]bool{
		"name": true, "realname": true, "profile": true, "data_quality": true,
		"namevariations": true, "aliases": true, "groups": true, "members": true, "urls": true,
	}
	body := map[string]any{}
	setIfNonEmpty(body, "name", el.ChildText("name"))
	setIfNonEmpty(body, "realname", el.ChildText("realname"))
	setIfNonEmpty(body, "profile", el.ChildText("profile"))
	setIfNonEmpty(body, "data_quality", el.ChildText("data_quality"))

	if nv, ok := el.Child("namevariations"); ok {
		setIfNonEmptyStrings(body, "name_variations", stringList(nv, "name"))
	}
	if aliases, ok := el.Child("aliases"); ok {
		setIfNonEmptyList(body, "aliases", idNameList(aliases, "name"))
	}
	if groups, ok := el.Child("groups"); ok {
		setIfNonEmptyList(body, "groups", idNameList(groups, "name"))
	}
	if members, ok := el.Child("members"); ok {
		setIfNonEmptyList(body, "members", idNameList(members, "name"))
	}
	if urls, ok := el.Child("urls"); ok {
		setIfNonEmptyStrings(body, "urls", stringList(urls, "url"))
	}
	setExtra(body, el, known)
	return body
}

func projectLabel(el Element) map[string]any {
	known := map[string]bool{
		"name": true, "contactinfo": true, "profile": true, "data_quality": true,
		"parentLabel": true, "sublabels": true, "urls": true,
	}
	body := map[string]any{}
	setIfNonEmpty(body, "name", el.ChildText("name"))
	setIfNonEmpty(body, "contactinfo", el.ChildText("contactinfo"))
	setIfNonEmpty(body, "profile", el.ChildText("profile"))
	setIfNonEmpty(body, "data_quality", el.ChildText("data_quality"))

	if parent, ok := el.Child("parentLabel"); ok {
		idName := map[string]any{"name": parent.Text}
		if pid, err := strconv.ParseInt(strings.TrimSpace(parent.Attr("id")), 10, 64); err == nil {
			idName["id"] = pid
		}
		body["parent_label"] = idName
	}
	if sub, ok := el.Child("sublabels"); ok {
		setIfNonEmptyList(body, "sublabels", idNameList(sub, "label"))
	}
	if urls, ok := el.Child("urls"); ok {
		setIfNonEmptyStrings(body, "urls", stringList(urls, "url"))
	}
	setExtra(body, el, known)
	return body
}

func projectMaster(el Element) map[string]any {
	known := map[string]bool{
		"title": true, "year": true, "data_quality": true, "genres": true,
		"styles": true, "artists": true, "main_release": true,
	}
	body := map[string]any{}
	setIfNonEmpty(body, "title", el.ChildText("title"))
	setIfNonEmpty(body, "data_quality", el.ChildText("data_quality"))
	if y, err := strconv.Atoi(strings.TrimSpace(el.ChildText("year"))); err == nil && y != 0 {
		body["year"] = y
	}
	if genres, ok := el.Child("genres"); ok {
		setIfNonEmptyStrings(body, "genres", stringList(genres, "genre"))
	}
	if styles, ok := el.Child("styles"); ok {
		setIfNonEmptyStrings(body, "styles", stringList(styles, "style"))
	}
	if artists, ok := el.Child("artists"); ok {
		setIfNonEmptyList(body, "artists", artistCreditList(artists))
	}
	if mr, err := strconv.ParseInt(strings.TrimSpace(el.ChildText("main_release")), 10, 64); err == nil && mr != 0 {
		body["main_release"] = mr
	}
	setExtra(body, el, known)
	return body
}

func projectRelease(el Element) map[string]any {
	known := map[string]bool{
		"title": true, "country": true, "released": true, "notes": true, "data_quality": true,
		"genres": true, "styles": true, "artists": true, "labels": true, "formats": true,
		"tracklist": true, "identifiers": true, "companies": true, "videos": true,
	}
	body := map[string]any{}
	setIfNonEmpty(body, "title", el.ChildText("title"))
	setIfNonEmpty(body, "country", el.ChildText("country"))
	setIfNonEmpty(body, "released", el.ChildText("released"))
	setIfNonEmpty(body, "notes", el.ChildText("notes"))
	setIfNonEmpty(body, "data_quality", el.ChildText("data_quality"))

	if genres, ok := el.Child("genres"); ok {
		setIfNonEmptyStrings(body, "genres", stringList(genres, "genre"))
	}
	if styles, ok := el.Child("styles"); ok {
		setIfNonEmptyStrings(body, "styles", stringList(styles, "style"))
	}
	if artists, ok := el.Child("artists"); ok {
		setIfNonEmptyList(body, "artists", artistCreditList(artists))
	}
	if labels, ok := el.Child("labels"); ok {
		var out []any
		for _, lab := range labels.ChildrenByTag("label") {
			entry := map[string]any{}
			if lid, err := strconv.ParseInt(strings.TrimSpace(lab.Attr("id")), 10, 64); err == nil {
				entry["id"] = lid
			}
			setIfNonEmpty(entry, "name", lab.Attr("name"))
			setIfNonEmpty(entry, "catno", lab.Attr("catno"))
			out = append(out, entry)
		}
		setIfNonEmptyList(body, "labels", out)
	}
	if formats, ok := el.Child("formats"); ok {
		var out []any
		for _, f := range formats.ChildrenByTag("format") {
			entry := map[string]any{}
			setIfNonEmpty(entry, "name", f.Attr("name"))
			setIfNonEmpty(entry, "qty", f.Attr("qty"))
			setIfNonEmpty(entry, "text", f.Attr("text"))
			if descs, ok := f.Child("descriptions"); ok {
				setIfNonEmptyStrings(entry, "descriptions", stringList(descs, "description"))
			}
			out = append(out, entry)
		}
		setIfNonEmptyList(body, "formats", out)
	}
	if tracklist, ok := el.Child("tracklist"); ok {
		var out []any
		for _, tr := range tracklist.ChildrenByTag("track") {
			entry := map[string]any{}
			setIfNonEmpty(entry, "position", tr.ChildText("position"))
			setIfNonEmpty(entry, "title", tr.ChildText("title"))
			setIfNonEmpty(entry, "duration", tr.ChildText("duration"))
			if trArtists, ok := tr.Child("artists"); ok {
				setIfNonEmptyList(entry, "artists", artistCreditList(trArtists))
			}
			out = append(out, entry)
		}
		setIfNonEmptyList(body, "tracklist", out)
	}
	if identifiers, ok := el.Child("identifiers"); ok {
		var out []any
		for _, id := range identifiers.ChildrenByTag("identifier") {
			entry := map[string]any{}
			setIfNonEmpty(entry, "type", id.Attr("type"))
			setIfNonEmpty(entry, "value", id.Attr("value"))
			setIfNonEmpty(entry, "description", id.Attr("description"))
			out = append(out, entry)
		}
		setIfNonEmptyList(body, "identifiers", out)
	}
	if companies, ok := el.Child("companies"); ok {
		var out []any
		for _, co := range companies.ChildrenByTag("company") {
			entry := map[string]any{}
			if cid, err := strconv.ParseInt(strings.TrimSpace(co.ChildText("id")), 10, 64); err == nil {
				entry["id"] = cid
			}
			setIfNonEmpty(entry, "name", co.ChildText("name"))
			setIfNonEmpty(entry, "entity_type", co.ChildText("entity_type"))
			setIfNonEmpty(entry, "entity_type_name", co.ChildText("entity_type_name"))
			out = append(out, entry)
		}
		setIfNonEmptyList(body, "companies", out)
	}
	if videos, ok := el.Child("videos"); ok {
		var out []any
		for _, v := range videos.ChildrenByTag("video") {
			entry := map[string]any{}
			setIfNonEmpty(entry, "title", v.ChildText("title"))
			setIfNonEmpty(entry, "url", v.Attr("src"))
			setIfNonEmpty(entry, "duration", v.Attr("duration"))
			out = append(out, entry)
		}
		setIfNonEmptyList(body, "videos", out)
	}
	setExtra(body, el, known)
	return body
}

// artistCreditList projects an <artists> block shared by master, release, and
// release tracklist entries: a list of artist-credit objects.
func artistCreditList(artists Element) []any {
	var out []any
	for _, a := range artists.ChildrenByTag("artist") {
		entry := map[string]any{}
		if aid, err := strconv.ParseInt(strings.TrimSpace(a.ChildText("id")), 10, 64); err == nil {
			entry["id"] = aid
		}
		setIfNonEmpty(entry, "name", a.ChildText("name"))
		setIfNonEmpty(entry, "anv", a.ChildText("anv"))
		setIfNonEmpty(entry, "join", a.ChildText("join"))
		setIfNonEmpty(entry, "role", a.ChildText("role"))
		setIfNonEmpty(entry, "tracks", a.ChildText("tracks"))
		out = append(out, entry)
	}
	return out
}

// idNameList projects a container whose children of tag childTag each carry
// an "id" attribute and a text name, e.g. <aliases><name id="1">X</name></aliases>.
func idNameList(container Element, childTag string) []any {
	var out []any
	for _, c := range container.ChildrenByTag(childTag) {
		entry := map[string]any{"name": c.Text}
		if id, err := strconv.ParseInt(strings.TrimSpace(c.Attr("id")), 10, 64); err == nil {
			entry["id"] = id
		}
		out = append(out, entry)
	}
	return out
}

func stringList(container Element, childTag string) []string {
	var out []string
	for _, c := range container.ChildrenByTag(childTag) {
		if s := strings.TrimSpace(c.Text); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func setIfNonEmpty(m map[string]any, key, val string) {
	if strings.TrimSpace(val) != "" {
		m[key] = val
	}
}

func setIfNonEmptyStrings(m map[string]any, key string, val []string) {
	if len(val) > 0 {
		m[key] = val
	}
}

func setIfNonEmptyList(m map[string]any, key string, val []any) {
	if len(val) > 0 {
		m[key] = val
	}
}

// setExtra preserves any direct child element not in known under body["_extra"],
// keyed by tag name, so unanticipated schema drift is visible rather than dropped.
func setExtra(body map[string]any, el Element, known map[string]bool) {
	groups := map[string][]Element{}
	var order []string
	for _, c := range el.Children {
		if known[c.Tag] {
			continue
		}
		if _, seen := groups[c.Tag]; !seen {
			order = append(order, c.Tag)
		}
		groups[c.Tag] = append(groups[c.Tag], c)
	}
	if len(order) == 0 {
		return
	}
	extra := map[string]any{}
	for _, tag := range order {
		kids := groups[tag]
		if len(kids) == 1 {
			extra[tag] = genericValue(kids[0])
		} else {
			arr := make([]any, 0, len(kids))
			for _, k := range kids {
				arr = append(arr, genericValue(k))
			}
			extra[tag] = arr
		}
	}
	body["_extra"] = extra
}

// genericValue converts an arbitrary Element into a generic JSON-ish value
// (string, or object with attrs/children/"_text") for the _extra fallback.
func genericValue(e Element) any {
	if len(e.Children) == 0 {
		if len(e.Attrs) == 0 {
			return e.Text
		}
		obj := map[string]any{}
		for k, v := range e.Attrs {
			obj[k] = v
		}
		if strings.TrimSpace(e.Text) != "" {
			obj["_text"] = e.Text
		}
		return obj
	}
	obj := map[string]any{}
	for k, v := range e.Attrs {
		obj[k] = v
	}
	groups := map[string][]Element{}
	var order []string
	for _, c := range e.Children {
		if _, seen := groups[c.Tag]; !seen {
			order = append(order, c.Tag)
		}
		groups[c.Tag] = append(groups[c.Tag], c)
	}
	for _, tag := range order {
		kids := groups[tag]
		if len(kids) == 1 {
			obj[tag] = genericValue(kids[0])
		} else {
			arr := make([]any, 0, len(kids))
			for _, k := range kids {
				arr = append(arr, genericValue(k))
			}
			obj[tag] = arr
		}
	}
	return obj
}
