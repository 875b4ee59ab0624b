// Package join walks a player through joining a hosted game: a playable-path
// check with user-driven retry, a password challenge and a rating-band gate,
// all before the actual join call goes out. Every step can be cancelled and
// each invocation yields exactly one terminal outcome.
package join

import (
	"context"
	"errors"
	"log/slog"

	"github.com/lobby-presence/internal/domain"
)

// OutcomeStatus is the terminal state of a join attempt.
type OutcomeStatus string

const (
	// OutcomeJoined means the join call was issued and accepted.
	OutcomeJoined OutcomeStatus = "joined"
	// OutcomeAborted means the user declined or cancelled one of the
	// prompts. It is not an error.
	OutcomeAborted OutcomeStatus = "aborted"
	// OutcomeFailed means the join call itself failed; Err carries the
	// cause.
	OutcomeFailed OutcomeStatus = "failed"
)

// Outcome is the single terminal result of a join attempt.
type Outcome struct {
	Status OutcomeStatus
	Err    error
}

// GameService issues the actual join call to the lobby server.
type GameService interface {
	JoinGame(ctx context.Context, game *domain.GameRecord, password string) error
}

// PathService validates the local playable path and, when invalid, asks the
// user to select one. RequestPathSelection blocks until the user replies or
// ctx is cancelled; ok is false when the user aborts without a path.
type PathService interface {
	IsPathValid() bool
	RequestPathSelection(ctx context.Context) (path string, ok bool, err error)
}

// PasswordPrompt challenges the user for a game password. ok is false when
// the dialog is dismissed without a value.
type PasswordPrompt interface {
	RequestPassword(ctx context.Context, game *domain.GameRecord) (password string, ok bool, err error)
}

// RatingConfirmer asks the user to confirm joining outside the game's rating
// band. confirmed is false when the user declines.
type RatingConfirmer interface {
	ConfirmRating(ctx context.Context, min, max, actual int) (confirmed bool, err error)
}

// PlayerSource resolves the local session's own player record.
type PlayerSource interface {
	ResolveCurrentPlayer() *domain.PlayerRecord
}

// Orchestrator drives the pre-join decision flow.
type Orchestrator struct {
	games         GameService
	paths         PathService
	passwords     PasswordPrompt
	confirmations RatingConfirmer
	players       PlayerSource
	logger        *slog.Logger
}

func NewOrchestrator(
	games GameService,
	paths PathService,
	passwords PasswordPrompt,
	confirmations RatingConfirmer,
	players PlayerSource,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		games:         games,
		paths:         paths,
		passwords:     passwords,
		confirmations: confirmations,
		players:       players,
		logger:        logger,
	}
}

// Options tweak a single join attempt.
type Options struct {
	// Password pre-supplies the game password, skipping the prompt.
	Password string
	// IgnoreRating joins regardless of the game's rating band.
	IgnoreRating bool
}

// Join executes the flow for game and blocks until a terminal outcome is
// reached. Prompts suspend the attempt until the user replies; closing any
// prompt without a value aborts the attempt. No step is retried
// automatically.
func (o *Orchestrator) Join(ctx context.Context, game *domain.GameRecord, opts Options) Outcome {
	// Path check, with unlimited user-initiated retries.
	for !o.paths.IsPathValid() {
		path, ok, err := o.paths.RequestPathSelection(ctx)
		if err != nil {
			return o.promptError("path selection", err)
		}
		if !ok {
			o.logger.Info("join aborted: no playable path selected", "game_uid", game.UID)
			return Outcome{Status: OutcomeAborted}
		}
		o.logger.Debug("playable path selected", "path", path)
	}

	// Password challenge, re-entered until a non-empty password is
	// submitted or the dialog is cancelled.
	password := opts.Password
	for game.PasswordProtected && password == "" {
		entered, ok, err := o.passwords.RequestPassword(ctx, game)
		if err != nil {
			return o.promptError("password entry", err)
		}
		if !ok {
			o.logger.Info("join aborted: password dialog cancelled", "game_uid", game.UID)
			return Outcome{Status: OutcomeAborted}
		}
		password = entered
	}

	// Rating gate. Bounds are inclusive; an unrated category reads as 0.
	if !opts.IgnoreRating {
		rating := o.players.ResolveCurrentPlayer().Rating(game.RatingType)
		if rating < game.MinRating || rating > game.MaxRating {
			confirmed, err := o.confirmations.ConfirmRating(ctx, game.MinRating, game.MaxRating, rating)
			if err != nil {
				return o.promptError("rating confirmation", err)
			}
			if !confirmed {
				o.logger.Info("join aborted: rating confirmation declined",
					"game_uid", game.UID,
					"rating", rating,
					"min", game.MinRating,
					"max", game.MaxRating,
				)
				return Outcome{Status: OutcomeAborted}
			}
		}
	}

	if err := o.games.JoinGame(ctx, game, password); err != nil {
		o.logger.Warn("game could not be joined", "game_uid", game.UID, "error", err)
		return Outcome{Status: OutcomeFailed, Err: err}
	}
	return Outcome{Status: OutcomeJoined}
}

// JoinAsync runs Join in its own goroutine and delivers the outcome on the
// returned channel.
func (o *Orchestrator) JoinAsync(ctx context.Context, game *domain.GameRecord, opts Options) <-chan Outcome {
	outcome := make(chan Outcome, 1)
	go func() {
		outcome <- o.Join(ctx, game, opts)
	}()
	return outcome
}

// promptError maps a prompt failure to a terminal outcome: cancellation is a
// user abort, anything else fails the attempt.
func (o *Orchestrator) promptError(step string, err error) Outcome {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		o.logger.Info("join cancelled", "step", step)
		return Outcome{Status: OutcomeAborted}
	}
	o.logger.Warn("join prompt failed", "step", step, "error", err)
	return Outcome{Status: OutcomeFailed, Err: err}
}
