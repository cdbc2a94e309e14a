/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package workflow

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/Seednode/dungeonhonor/internal/behavior"
)

// Writer persists feedback for a run.
type Writer interface {
	SaveBehavior(ctx context.Context, s behavior.FeedbackSubmission) error
	SaveRejoinRating(ctx context.Context, r behavior.RejoinRating) error
}

// CardState tracks a run card. Selecting a behavior moves straight to
// RatingPrompted; the selected behavior itself is held separately.
type CardState int

const (
	NoBehaviorSelected CardState = iota
	RatingPrompted
	RatingSubmitted
)

func (s CardState) String() string {
	switch s {
	case NoBehaviorSelected:
		return "no_behavior_selected"
	case RatingPrompted:
		return "rating_prompted"
	case RatingSubmitted:
		return "rating_submitted"
	default:
		return "unknown"
	}
}

const (
	RejoinQuestion  = "Would you group with them again?"
	ThankYouMessage = "Thank you! Rejoin Rating submitted."
)

var (
	ErrRatingNotPrompted = errors.New("no behavior selected for this run")
	ErrAlreadyRated      = errors.New("rejoin rating already submitted")
)

// CardView is a snapshot of what the run card displays.
type CardView struct {
	Slug           string
	Player         behavior.Identity
	State          CardState
	Selected       behavior.Behavior
	Rating         *bool
	ShowPrompt     bool
	RatingDisabled bool
	Confirmation   string
}

// RunCard captures one behavior tag and one rejoin rating for a player
// in a completed run.
//
// Writes are dispatched through Tasks and never block or roll back a
// state change; a failed write is only logged.
type RunCard struct {
	slug   string
	player behavior.Identity
	writer Writer
	tasks  *Tasks
	logger *zap.Logger

	mu       sync.Mutex
	state    CardState
	selected behavior.Behavior
	rating   *bool
}

func NewRunCard(slug string, player behavior.Identity, writer Writer, tasks *Tasks, logger *zap.Logger) *RunCard {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tasks == nil {
		tasks = NewTasks(logger)
	}

	return &RunCard{
		slug:   slug,
		player: player,
		writer: writer,
		tasks:  tasks,
		logger: logger,
	}
}

// RecordBehavior fires a write for b and prompts for a rejoin rating.
// Selecting again replaces the behavior and clears any prior rating.
func (c *RunCard) RecordBehavior(ctx context.Context, b behavior.Behavior) error {
	b, err := behavior.ParseBehavior(string(b))
	if err != nil {
		return err
	}

	sub := behavior.FeedbackSubmission{
		Slug:     c.slug,
		Behavior: string(b),
		Name:     c.player.Name,
		Realm:    c.player.Realm,
	}

	c.tasks.Go(ctx, "save behavior", func(ctx context.Context) error {
		return c.writer.SaveBehavior(ctx, sub)
	}, zap.String("slug", c.slug), zap.String("behavior", string(b)))

	c.mu.Lock()
	defer c.mu.Unlock()

	c.selected = b
	c.rating = nil
	c.state = RatingPrompted

	return nil
}

// RecordRejoinRating fires a write for rating. It is accepted once per
// behavior selection.
func (c *RunCard) RecordRejoinRating(ctx context.Context, rating bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.selected == "":
		return ErrRatingNotPrompted
	case c.rating != nil:
		return ErrAlreadyRated
	}

	r := behavior.RejoinRating{
		Slug:   c.slug,
		Rating: rating,
		Name:   c.player.Name,
		Realm:  c.player.Realm,
	}

	c.tasks.Go(ctx, "save rejoin rating", func(ctx context.Context) error {
		return c.writer.SaveRejoinRating(ctx, r)
	}, zap.String("slug", c.slug), zap.Bool("rating", rating))

	c.rating = &rating
	c.state = RatingSubmitted

	return nil
}

func (c *RunCard) View() CardView {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := CardView{
		Slug:           c.slug,
		Player:         c.player,
		State:          c.state,
		Selected:       c.selected,
		ShowPrompt:     c.selected != "",
		RatingDisabled: c.rating != nil,
	}
	if c.rating != nil {
		rating := *c.rating
		v.Rating = &rating
	}
	if c.state == RatingSubmitted {
		v.Confirmation = ThankYouMessage
	}

	return v
}
