/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package behavior holds the feedback data model shared by the store,
// the HTTP client and the UI workflows, along with the aggregation of
// stored behavior records into chartable buckets.
package behavior

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Behavior is one of the fixed tags a player can record for a run.
type Behavior string

const (
	BigDam         Behavior = "Big Dam"
	UsesDefensives Behavior = "Uses Defensives"
	GoodComms      Behavior = "Good Comms"
	GigaHeals      Behavior = "Giga Heals"
)

var ErrUnknownBehavior = errors.New("unknown behavior")

// Behaviors returns the enumerated tags in display order.
func Behaviors() []Behavior {
	return []Behavior{BigDam, UsesDefensives, GoodComms, GigaHeals}
}

func ParseBehavior(s string) (Behavior, error) {
	for _, b := range Behaviors() {
		if string(b) == s {
			return b, nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownBehavior, s)
}

// Record is a single stored behavior entry as returned by a lookup.
// Value is passed through untouched.
type Record struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Identity names a player on a realm.
type Identity struct {
	Name  string `json:"name"`
	Realm string `json:"realm"`
}

func (i Identity) String() string {
	return i.Name + "-" + i.Realm
}

// ValidationError flags which identity fields were left empty.
type ValidationError struct {
	Name  bool
	Realm bool
}

func (e *ValidationError) Error() string {
	var missing []string
	if e.Name {
		missing = append(missing, "name")
	}
	if e.Realm {
		missing = append(missing, "realm")
	}

	return "missing required field(s): " + strings.Join(missing, ", ")
}

// Validate returns a *ValidationError if either field is blank after trimming.
func (i Identity) Validate() error {
	e := &ValidationError{
		Name:  strings.TrimSpace(i.Name) == "",
		Realm: strings.TrimSpace(i.Realm) == "",
	}
	if e.Name || e.Realm {
		return e
	}

	return nil
}

// FeedbackSubmission records one behavior for one completed run. Name and
// Realm identify the rated player so the store can index the entry for
// lookups; they may be empty.
type FeedbackSubmission struct {
	Slug     string `json:"slug"`
	Behavior string `json:"behavior"`
	Name     string `json:"name,omitempty"`
	Realm    string `json:"realm,omitempty"`
}

func (s FeedbackSubmission) Player() Identity {
	return Identity{Name: s.Name, Realm: s.Realm}
}

// RejoinRating records whether the rater would group with a player again.
type RejoinRating struct {
	Slug   string
	Rating bool
	Name   string
	Realm  string
}

func (r RejoinRating) Player() Identity {
	return Identity{Name: r.Name, Realm: r.Realm}
}

type rejoinRatingJSON struct {
	Slug   string          `json:"slug"`
	Rating json.RawMessage `json:"rating"`
	Name   string          `json:"name,omitempty"`
	Realm  string          `json:"realm,omitempty"`
}

// MarshalJSON writes the rating as the literal string "true" or "false".
func (r RejoinRating) MarshalJSON() ([]byte, error) {
	return json.Marshal(rejoinRatingJSON{
		Slug:   r.Slug,
		Rating: json.RawMessage(strconv.Quote(strconv.FormatBool(r.Rating))),
		Name:   r.Name,
		Realm:  r.Realm,
	})
}

// UnmarshalJSON accepts the rating as either a quoted or bare boolean.
func (r *RejoinRating) UnmarshalJSON(data []byte) error {
	var raw rejoinRatingJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if len(raw.Rating) == 0 {
		return errors.New("missing rating")
	}

	text := string(raw.Rating)
	if unquoted, err := strconv.Unquote(text); err == nil {
		text = unquoted
	}

	rating, err := strconv.ParseBool(text)
	if err != nil || (text != "true" && text != "false") {
		return fmt.Errorf("invalid rating %s", raw.Rating)
	}

	*r = RejoinRating{
		Slug:   raw.Slug,
		Rating: rating,
		Name:   raw.Name,
		Realm:  raw.Realm,
	}

	return nil
}
