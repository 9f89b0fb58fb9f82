/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import "errors"

// Validation failures. Each is reported only to the offending connection,
// verbatim, as an ERROR message; session state is never changed by one.
var (
	errGameRequired   = errors.New("game and name are required")
	errGameTooLong    = errors.New("game cannot be longer than 12 characters")
	errNameTooLong    = errors.New("name cannot be longer than 12 characters")
	errTeamRequired   = errors.New("team is required")
	errTeamTooLong    = errors.New("team name cannot be longer than 20 characters")
	errNameInUse      = errors.New("name already in use")
	errGameNotFound   = errors.New("game not found")
	errGameStarted    = errors.New("game already started")
	errGameNotStarted = errors.New("game is not started yet")
	errGameEnded      = errors.New("game is already over")
	errNotEnoughTeams = errors.New("at least 2 teams are needed to start the game")
	errTeamTooSmall   = errors.New("all teams need at least 2 players")
	errNotYourTurn    = errors.New("not your turn")
	errNoRound        = errors.New("round is not running")
	errRoundRunning   = errors.New("round already running")
	errOwnTeamBuzz    = errors.New("cannot buzz your own team")
	errAudienceBuzz   = errors.New("cannot buzz from the audience")
	errNotBuzzed      = errors.New("cannot continue before being buzzed")
	errNotRegistered  = errors.New("not registered")
	errRegistered     = errors.New("already registered")
	errUnknownType    = errors.New("unknown message type")
)

// errOutOfCards is not a user error: deck exhaustion forces the session to
// end, broadcast to every connection rather than reported to the caller.
var errOutOfCards = errors.New("out of cards")
