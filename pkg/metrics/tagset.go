package metrics

import "strings"

// Tag is a single key/value pair within a TagSet.
type Tag struct {
	Name  string
	Value string
}

// TagSet is an immutable, ordered key->value mapping attached to a
// metric. Iteration order is stable for the lifetime of the instance
// (sorted by tag name) so serializers can produce deterministic
// output; it carries no semantic meaning beyond that.
type TagSet struct {
	tags []Tag
}

// newTagSet builds a TagSet from a map, validating every name/value
// pair with v and rejecting an empty result. Keys are sorted for
// stable iteration.
func newTagSet(v Validator, raw map[string]string) (TagSet, error) {
	if len(raw) == 0 {
		return TagSet{}, newConstructionError("empty-tags", "a metric must have at least one tag")
	}
	tags := make([]Tag, 0, len(raw))
	for name, value := range raw {
		n, err := v.tagName(name)
		if err != nil {
			return TagSet{}, err
		}
		val, err := v.tagValue(value)
		if err != nil {
			return TagSet{}, err
		}
		tags = append(tags, Tag{Name: n, Value: val})
	}
	sortTags(tags)
	return TagSet{tags: tags}, nil
}

// NewTagSet builds a TagSet from a map, applying v's transforms and
// character-class validation. It is the exported entry point handlers
// use to build a TagSet outside of a MetricSource (e.g. to inject a
// backend-specific tag like DataDog's global host tag at serialize
// time).
func NewTagSet(v Validator, raw map[string]string) (TagSet, error) {
	return newTagSet(v, raw)
}

func sortTags(tags []Tag) {
	for i := 1; i < len(tags); i++ {
		for j := i; j > 0 && tags[j-1].Name > tags[j].Name; j-- {
			tags[j-1], tags[j] = tags[j], tags[j-1]
		}
	}
}

// MergeTags merges local over defaults; a key present in both keeps
// the local value. Neither input map is mutated.
func MergeTags(defaults, local map[string]string) map[string]string {
	out := make(map[string]string, len(defaults)+len(local))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range local {
		out[k] = v
	}
	return out
}

// Len returns the number of tags.
func (t TagSet) Len() int { return len(t.tags) }

// Get returns the value for name and whether it was present.
func (t TagSet) Get(name string) (string, bool) {
	for _, tag := range t.tags {
		if tag.Name == name {
			return tag.Value, true
		}
	}
	return "", false
}

// Each calls fn for every tag in stable order.
func (t TagSet) Each(fn func(name, value string)) {
	for _, tag := range t.tags {
		fn(tag.Name, tag.Value)
	}
}

// Tags returns a copy of the underlying tag slice in stable order.
func (t TagSet) Tags() []Tag {
	out := make([]Tag, len(t.tags))
	copy(out, t.tags)
	return out
}

// Without returns a copy of the TagSet with name removed, if present.
// Used by handlers that strip a tag the receiver injects itself (e.g.
// the Bosun handler removing "host" from CumulativeCounter readings).
func (t TagSet) Without(name string) TagSet {
	out := make([]Tag, 0, len(t.tags))
	for _, tag := range t.tags {
		if tag.Name != name {
			out = append(out, tag)
		}
	}
	return TagSet{tags: out}
}

// Key returns a canonical string encoding suitable for use as a map
// key when two TagSets must compare equal iff their (name,value)
// sequences are identical.
func (t TagSet) Key() string {
	var b strings.Builder
	for i, tag := range t.tags {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(tag.Name)
		b.WriteByte('=')
		b.WriteString(tag.Value)
	}
	return b.String()
}
