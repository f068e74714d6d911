package canonical

import (
	"encoding/json"
	"testing"
)

func artistElement(id, name string) Element {
	return Element{
		Tag:   "artist",
		Attrs: map[string]string{"id": id},
		Children: []Element{
			{Tag: "name", Text: name},
		},
	}
}

func TestProject_artistMinimal(t *testing.T) {
	id, body, err := Project(Artist, artistElement("1", "A"))
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if id != 1 {
		t.Errorf("id = %d, want 1", id)
	}
	if body["name"] != "A" {
		t.Errorf("name = %v", body["name"])
	}
	if _, ok := body["realname"]; ok {
		t.Error("empty realname should be omitted, not present as null")
	}
}

func TestProject_missingID(t *testing.T) {
	el := Element{Tag: "artist", Children: []Element{{Tag: "name", Text: "A"}}}
	_, _, err := Project(Artist, el)
	if err == nil {
		t.Fatal("expected error for missing id")
	}
	var merr *ErrMalformedRecord
	if !asMalformed(err, &merr) {
		t.Fatalf("expected *ErrMalformedRecord, got %T", err)
	}
}

func asMalformed(err error, target **ErrMalformedRecord) bool {
	me, ok := err.(*ErrMalformedRecord)
	if ok {
		*target = me
	}
	return ok
}

func TestProject_badID(t *testing.T) {
	el := Element{Tag: "artist", Attrs: map[string]string{"id": "not-a-number"}}
	_, _, err := Project(Artist, el)
	if err == nil {
		t.Fatal("expected error for non-numeric id")
	}
}

func TestCanonicalize_sortedKeysAndIdempotent(t *testing.T) {
	_, body, err := Project(Artist, artistElement("2", "B"))
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	first, err := Canonicalize(body)
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	var roundtrip map[string]any
	if err := json.Unmarshal(first, &roundtrip); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	second, err := Canonicalize(roundtrip)
	if err != nil {
		t.Fatalf("Canonicalize (2nd pass): %v", err)
	}
	if string(first) != string(second) {
		t.Errorf("canonicalize is not idempotent:\n%s\n!=\n%s", first, second)
	}
	if first[len(first)-1] == '\n' {
		t.Error("canonical JSON should have no trailing whitespace")
	}
}

func TestContentHash_differsOnContentChange(t *testing.T) {
	_, bodyA, _ := Project(Artist, artistElement("1", "A"))
	_, bodyB, _ := Project(Artist, artistElement("1", "A2"))
	jsonA, _ := Canonicalize(bodyA)
	jsonB, _ := Canonicalize(bodyB)
	if ContentHash(jsonA) == ContentHash(jsonB) {
		t.Error("different content should hash differently")
	}
}

func TestContentHash_sameForReorderedKeys(t *testing.T) {
	a := map[string]any{"b": 2, "a": 1}
	b := map[string]any{"a": 1, "b": 2}
	jsonA, _ := Canonicalize(a)
	jsonB, _ := Canonicalize(b)
	if ContentHash(jsonA) != ContentHash(jsonB) {
		t.Error("hash should not depend on map construction order")
	}
}

func TestProject_releaseWithNestedStructures(t *testing.T) {
	el := Element{
		Tag:   "release",
		Attrs: map[string]string{"id": "100"},
		Children: []Element{
			{Tag: "title", Text: "Some Album"},
			{Tag: "genres", Children: []Element{{Tag: "genre", Text: "Electronic"}}},
			{Tag: "labels", Children: []Element{
				{Tag: "label", Attrs: map[string]string{"id": "5", "name": "Label X", "catno": "LX-1"}},
			}},
			{Tag: "artists", Children: []Element{
				{Tag: "artist", Children: []Element{
					{Tag: "id", Text: "1"},
					{Tag: "name", Text: "Artist One"},
				}},
			}},
		},
	}
	id, body, err := Project(Release, el)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if id != 100 {
		t.Errorf("id = %d", id)
	}
	genres, _ := body["genres"].([]string)
	if len(genres) != 1 || genres[0] != "Electronic" {
		t.Errorf("genres = %v", body["genres"])
	}
	labels, _ := body["labels"].([]any)
	if len(labels) != 1 {
		t.Fatalf("labels = %v", body["labels"])
	}
	labelEntry := labels[0].(map[string]any)
	if labelEntry["name"] != "Label X" || labelEntry["catno"] != "LX-1" {
		t.Errorf("label entry = %v", labelEntry)
	}
}

func TestProject_unknownChildPreservedInExtra(t *testing.T) {
	el := Element{
		Tag:   "artist",
		Attrs: map[string]string{"id": "1"},
		Children: []Element{
			{Tag: "name", Text: "A"},
			{Tag: "images", Children: []Element{
				{Tag: "image", Attrs: map[string]string{"type": "primary"}},
			}},
		},
	}
	_, body, err := Project(Artist, el)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	extra, ok := body["_extra"].(map[string]any)
	if !ok {
		t.Fatal("expected _extra for unrecognized child")
	}
	if _, ok := extra["images"]; !ok {
		t.Errorf("_extra = %v, want images key", extra)
	}
}
