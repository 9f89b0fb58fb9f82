package main

import (
	"math/rand"
	"slices"
	"strings"
	"time"
)

const (
	maxGameLength = 12
	maxNameLength = 12
	maxTeamLength = 20
)

type phase string

const (
	phaseLobby        phase = "LOBBY"
	phaseActive       phase = "ACTIVE"
	phaseRoundRunning phase = "ROUND_RUNNING"
	phaseRoundPaused  phase = "ROUND_PAUSED"
	phaseEnded        phase = "ENDED"
)

// Team groups players sharing a score ledger. Players are kept in join
// order, which also drives clue-giver rotation. Correct and Skipped hold
// deck indices of consumed cards.
type Team struct {
	Name      string   `json:"name"`
	Players   []string `json:"players"`
	CurPlayer string   `json:"curPlayer,omitempty"`
	Correct   []int    `json:"correct"`
	Skipped   []int    `json:"skipped"`
}

// TeamResult is a team's ledger resolved back into words for display.
type TeamResult struct {
	Name    string   `json:"name"`
	Players []string `json:"players"`
	Correct []string `json:"correct"`
	Skipped []string `json:"skipped"`
}

// identity binds a connection to its place in a session. It doubles as the
// tombstone record consulted when a terminated participant rejoins.
type identity struct {
	game string
	name string
	team string
}

// GameState is one immutable snapshot of a session. Every transition returns
// a fresh value; a state that has been published must never be mutated, so
// concurrent readers always observe a complete, consistent snapshot.
type GameState struct {
	Code     string
	Phase    phase
	Teams    []Team
	Audience []string
	CurTeam  int
	Card     *Card
	RoundEnd time.Time
	Buzzer   string
	TimeLeft time.Duration
	LastCard string
	Results  []TeamResult
}

func newGameState(code string) GameState {
	return GameState{
		Code:     code,
		Phase:    phaseLobby,
		Teams:    []Team{},
		Audience: []string{},
		CurTeam:  -1,
	}
}

func (g GameState) clone() GameState {
	next := g
	next.Audience = slices.Clone(g.Audience)
	next.Teams = make([]Team, len(g.Teams))
	for i, t := range g.Teams {
		t.Players = slices.Clone(t.Players)
		t.Correct = slices.Clone(t.Correct)
		t.Skipped = slices.Clone(t.Skipped)
		next.Teams[i] = t
	}
	if g.Card != nil {
		card := *g.Card
		next.Card = &card
	}
	return next
}

// teamIndexOf returns the index of the team holding name, or -1.
func (g GameState) teamIndexOf(name string) int {
	for i, t := range g.Teams {
		if slices.Contains(t.Players, name) {
			return i
		}
	}
	return -1
}

func (g GameState) hasParticipant(name string) bool {
	return slices.Contains(g.Audience, name) || g.teamIndexOf(name) >= 0
}

func (g GameState) participantCount() int {
	count := len(g.Audience)
	for _, t := range g.Teams {
		count += len(t.Players)
	}
	return count
}

// usedCards collects every card index consumed by any team's ledgers.
func (g GameState) usedCards() map[int]struct{} {
	used := make(map[int]struct{})
	for _, t := range g.Teams {
		for _, id := range t.Correct {
			used[id] = struct{}{}
		}
		for _, id := range t.Skipped {
			used[id] = struct{}{}
		}
	}
	return used
}

// sortTeams keeps teams in canonical lexicographic order. Only called while
// the session is still in the lobby, so the current-team pointer is never
// invalidated by a re-sort.
func sortTeams(teams []Team) {
	slices.SortFunc(teams, func(a, b Team) int {
		return strings.Compare(a.Name, b.Name)
	})
}

// addPlayer inserts a new participant into the audience.
func (g GameState) addPlayer(name string) (GameState, error) {
	if name == "" {
		return g, errGameRequired
	}
	if len(name) > maxNameLength {
		return g, errNameTooLong
	}
	if g.hasParticipant(name) {
		return g, errNameInUse
	}

	next := g.clone()
	next.Audience = append(next.Audience, name)
	return next, nil
}

// rejoin restores a previously terminated participant straight into their
// old team, bypassing the audience. It reports false when the team no
// longer exists (or the tombstone was for an audience member), in which
// case the caller falls back to a fresh join.
func (g GameState) rejoin(name, team string) (GameState, bool) {
	if team == "" || g.hasParticipant(name) {
		return g, false
	}

	for i, t := range g.Teams {
		if t.Name == team {
			next := g.clone()
			next.Teams[i].Players = append(next.Teams[i].Players, name)
			return next, true
		}
	}

	return g, false
}

// removeFromPlacement takes name out of the audience or its team. A team
// emptied this way is deleted only while the session is still in the lobby;
// started games keep their team set frozen.
func (g GameState) removeFromPlacement(name string) GameState {
	next := g.clone()

	if i := slices.Index(next.Audience, name); i >= 0 {
		next.Audience = slices.Delete(next.Audience, i, i+1)
		return next
	}

	ti := next.teamIndexOf(name)
	if ti < 0 {
		return next
	}

	pi := slices.Index(next.Teams[ti].Players, name)
	next.Teams[ti].Players = slices.Delete(next.Teams[ti].Players, pi, pi+1)

	if len(next.Teams[ti].Players) == 0 && next.Phase == phaseLobby {
		next.Teams = slices.Delete(next.Teams, ti, ti+1)
	}

	return next
}

// changeTeam moves a participant out of their current placement and into
// newTeam, creating the team on demand. Lobby only.
func (g GameState) changeTeam(name, newTeam string) (GameState, error) {
	if newTeam == "" {
		return g, errTeamRequired
	}
	if len(newTeam) > maxTeamLength {
		return g, errTeamTooLong
	}
	if g.Phase != phaseLobby {
		return g, errGameStarted
	}

	next := g.removeFromPlacement(name)

	ti := -1
	for i, t := range next.Teams {
		if t.Name == newTeam {
			ti = i
			break
		}
	}
	if ti < 0 {
		next.Teams = append(next.Teams, Team{
			Name:    newTeam,
			Players: []string{name},
			Correct: []int{},
			Skipped: []int{},
		})
	} else {
		next.Teams[ti].Players = append(next.Teams[ti].Players, name)
	}

	sortTeams(next.Teams)
	return next, nil
}

// leave removes a participant after an ungraceful disconnect. The boolean
// reports whether any participants remain; when it is false the caller must
// delete the whole session.
func (g GameState) leave(name string) (GameState, bool) {
	next := g.removeFromPlacement(name)
	return next, next.participantCount() > 0
}

// startGame validates the roster, picks a starting team and clue-giver
// uniformly at random, and activates the session.
func (g GameState) startGame(rng *rand.Rand) (GameState, error) {
	switch g.Phase {
	case phaseEnded:
		return g, errGameEnded
	case phaseLobby:
	default:
		return g, errGameStarted
	}
	if len(g.Teams) < 2 {
		return g, errNotEnoughTeams
	}
	for _, t := range g.Teams {
		if len(t.Players) < 2 {
			return g, errTeamTooSmall
		}
	}

	next := g.clone()
	next.CurTeam = rng.Intn(len(next.Teams))
	team := &next.Teams[next.CurTeam]
	team.CurPlayer = team.Players[rng.Intn(len(team.Players))]
	next.Phase = phaseActive
	return next, nil
}

// startRound draws the opening card and sets the round deadline. Only the
// current clue-giver may start a round, and only between rounds.
func (g GameState) startRound(name string, deck *Deck, rng *rand.Rand, now time.Time, length time.Duration) (GameState, error) {
	switch g.Phase {
	case phaseLobby:
		return g, errGameNotStarted
	case phaseEnded:
		return g, errGameEnded
	case phaseRoundRunning, phaseRoundPaused:
		return g, errRoundRunning
	}
	if name != g.Teams[g.CurTeam].CurPlayer {
		return g, errNotYourTurn
	}

	card, err := deck.Draw(rng, g.usedCards())
	if err != nil {
		return g, err
	}

	next := g.clone()
	next.Card = &card
	next.RoundEnd = now.Add(length)
	next.Phase = phaseRoundRunning
	return next, nil
}

type cardOutcome int

const (
	cardCorrect cardOutcome = iota
	cardSkipped
)

// advanceCard records the live card in the matching ledger and draws the
// next one. On deck exhaustion the ledger update is kept and errOutOfCards
// is returned alongside the updated state, so the caller can force the game
// to end without losing the final score.
func (g GameState) advanceCard(name string, outcome cardOutcome, deck *Deck, rng *rand.Rand) (GameState, error) {
	switch g.Phase {
	case phaseLobby:
		return g, errGameNotStarted
	case phaseEnded:
		return g, errGameEnded
	case phaseRoundRunning:
	default:
		return g, errNoRound
	}
	if name != g.Teams[g.CurTeam].CurPlayer {
		return g, errNotYourTurn
	}

	next := g.clone()
	team := &next.Teams[next.CurTeam]
	switch outcome {
	case cardCorrect:
		team.Correct = append(team.Correct, next.Card.Index)
	case cardSkipped:
		team.Skipped = append(team.Skipped, next.Card.Index)
	}
	next.LastCard = next.Card.Word

	card, err := deck.Draw(rng, next.usedCards())
	if err != nil {
		next.Card = nil
		return next, err
	}

	next.Card = &card
	return next, nil
}

// buzz pauses the running round on behalf of an opposing team member,
// capturing the remaining time so the round can later resume where it
// stopped. Own-team and audience buzzes are rejected.
func (g GameState) buzz(name string, now time.Time) (GameState, error) {
	switch g.Phase {
	case phaseLobby:
		return g, errGameNotStarted
	case phaseEnded:
		return g, errGameEnded
	case phaseRoundRunning:
	default:
		return g, errNoRound
	}

	ti := g.teamIndexOf(name)
	if ti < 0 {
		return g, errAudienceBuzz
	}
	if ti == g.CurTeam {
		return g, errOwnTeamBuzz
	}

	next := g.clone()
	next.Buzzer = name
	next.TimeLeft = g.RoundEnd.Sub(now)
	next.RoundEnd = time.Time{}
	next.Phase = phaseRoundPaused
	return next, nil
}

// resolveBuzz resumes a paused round. A valid buzz discards the live card
// as skipped and draws a fresh one; an invalid buzz keeps the same card.
// Either way the deadline is restored from the captured remaining time.
func (g GameState) resolveBuzz(name string, valid bool, deck *Deck, rng *rand.Rand, now time.Time) (GameState, error) {
	switch g.Phase {
	case phaseLobby:
		return g, errGameNotStarted
	case phaseEnded:
		return g, errGameEnded
	case phaseRoundPaused:
	default:
		return g, errNotBuzzed
	}
	if name != g.Teams[g.CurTeam].CurPlayer {
		return g, errNotYourTurn
	}

	next := g.clone()
	next.RoundEnd = now.Add(next.TimeLeft)
	next.TimeLeft = 0
	next.Buzzer = ""
	next.Phase = phaseRoundRunning

	if valid {
		team := &next.Teams[next.CurTeam]
		team.Skipped = append(team.Skipped, next.Card.Index)
		next.LastCard = next.Card.Word

		card, err := deck.Draw(rng, next.usedCards())
		if err != nil {
			next.Card = nil
			return next, err
		}
		next.Card = &card
	}

	return next, nil
}

// nextPlayer returns the player after cur in join order, wrapping to the
// first player. An unknown cur restarts at the front.
func nextPlayer(players []string, cur string) string {
	i := slices.Index(players, cur)
	if i < 0 || i+1 >= len(players) {
		return players[0]
	}
	return players[i+1]
}

// expireRound ends the running round when the clock runs out: the live card
// counts as skipped, the turn passes round-robin to the next team, and that
// team's clue-giver rotates by join order (chosen at random the first time
// the team becomes active). Teams emptied by disconnects are skipped over.
func (g GameState) expireRound(rng *rand.Rand) GameState {
	next := g.clone()

	if next.Card != nil {
		team := &next.Teams[next.CurTeam]
		team.Skipped = append(team.Skipped, next.Card.Index)
		next.LastCard = next.Card.Word
	}

	next.Card = nil
	next.RoundEnd = time.Time{}
	next.Buzzer = ""
	next.TimeLeft = 0

	for i := 1; i <= len(next.Teams); i++ {
		idx := (g.CurTeam + i) % len(next.Teams)
		team := &next.Teams[idx]
		if len(team.Players) == 0 {
			continue
		}
		next.CurTeam = idx
		if team.CurPlayer == "" {
			team.CurPlayer = team.Players[rng.Intn(len(team.Players))]
		} else {
			team.CurPlayer = nextPlayer(team.Players, team.CurPlayer)
		}
		break
	}

	next.Phase = phaseActive
	return next
}

// endGame freezes each team's roster and ledgers into a results snapshot,
// resolving card indices back to words, then clears the ledgers and moves
// the session to its terminal phase. The session record itself survives so
// participants can review the results until everyone leaves.
func (g GameState) endGame(deck *Deck) (GameState, error) {
	switch g.Phase {
	case phaseLobby:
		return g, errGameNotStarted
	case phaseEnded:
		return g, errGameEnded
	}

	next := g.clone()

	results := make([]TeamResult, len(next.Teams))
	for i, t := range next.Teams {
		results[i] = TeamResult{
			Name:    t.Name,
			Players: slices.Clone(t.Players),
			Correct: deck.Words(t.Correct),
			Skipped: deck.Words(t.Skipped),
		}
		next.Teams[i].Correct = []int{}
		next.Teams[i].Skipped = []int{}
		next.Teams[i].CurPlayer = ""
	}

	next.Results = results
	next.Card = nil
	next.RoundEnd = time.Time{}
	next.Buzzer = ""
	next.TimeLeft = 0
	next.CurTeam = -1
	next.Phase = phaseEnded
	return next, nil
}
