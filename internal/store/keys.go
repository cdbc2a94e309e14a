/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package store

import (
	"strings"
	"unicode"

	"github.com/Seednode/dungeonhonor/internal/behavior"
)

// Key pattern helpers
//
// Behavior:     honor:behavior:{realm}:{name}:{slug}:{behavior}
// Rejoin:       honor:rejoin:{realm}:{name}:{slug}
//
// The trailing segment of a behavior key is the label the aggregator
// charts, so nothing after the slug may contain the delimiter.

const (
	keyPrefix   = "honor"
	unknownPart = "_"
)

// normalize lowercases and trims a name or realm and replaces inner
// whitespace and delimiters so it is safe as a key segment.
func normalize(s string) string {
	s = strings.Join(strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return unicode.IsSpace(r) || r == ':'
	}), "-")
	if s == "" {
		return unknownPart
	}

	return s
}

// PlayerPrefix returns the key prefix under which every behavior recorded
// for the player lives, including the trailing delimiter.
func PlayerPrefix(id behavior.Identity) string {
	return strings.Join([]string{keyPrefix, "behavior", normalize(id.Realm), normalize(id.Name)}, behavior.Delimiter) + behavior.Delimiter
}

func BehaviorKey(s behavior.FeedbackSubmission) string {
	return PlayerPrefix(s.Player()) + s.Slug + behavior.Delimiter + s.Behavior
}

func RejoinKey(r behavior.RejoinRating) string {
	return strings.Join([]string{keyPrefix, "rejoin", normalize(r.Realm), normalize(r.Name), r.Slug}, behavior.Delimiter)
}
