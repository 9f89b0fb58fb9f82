package main

import (
	"math/rand"
	"slices"
	"testing"
	"time"
)

func testDeck(size int) *Deck {
	cards := make([]Card, size)
	for i := range cards {
		cards[i] = Card{
			Index:     i,
			Word:      "word" + string(rune('a'+i%26)) + string(rune('a'+i/26)),
			Forbidden: []string{"taboo"},
		}
	}
	return newDeck(cards)
}

// lobbyState builds a two-team lobby: red={alice,bob}, blue={carol,dave},
// with eve in the audience.
func lobbyState(t *testing.T) GameState {
	t.Helper()

	g := newGameState("testgame")

	for _, name := range []string{"alice", "bob", "carol", "dave", "eve"} {
		next, err := g.addPlayer(name)
		if err != nil {
			t.Fatalf("addPlayer(%q) failed: %v", name, err)
		}
		g = next
	}

	for name, team := range map[string]string{
		"alice": "red", "bob": "red",
		"carol": "blue", "dave": "blue",
	} {
		next, err := g.changeTeam(name, team)
		if err != nil {
			t.Fatalf("changeTeam(%q, %q) failed: %v", name, team, err)
		}
		g = next
	}

	return g
}

func activeState(t *testing.T, rng *rand.Rand) GameState {
	t.Helper()

	g, err := lobbyState(t).startGame(rng)
	if err != nil {
		t.Fatalf("startGame() failed: %v", err)
	}

	return g
}

func runningState(t *testing.T, deck *Deck, rng *rand.Rand, now time.Time) GameState {
	t.Helper()

	g := activeState(t, rng)

	next, err := g.startRound(g.Teams[g.CurTeam].CurPlayer, deck, rng, now, time.Minute)
	if err != nil {
		t.Fatalf("startRound() failed: %v", err)
	}

	return next
}

// opponentOf returns a player on a team other than the current one.
func opponentOf(t *testing.T, g GameState) string {
	t.Helper()

	for i, team := range g.Teams {
		if i != g.CurTeam && len(team.Players) > 0 {
			return team.Players[0]
		}
	}

	t.Fatal("no opposing player found")
	return ""
}

func TestAddPlayer(t *testing.T) {
	g := newGameState("testgame")

	next, err := g.addPlayer("alice")
	if err != nil {
		t.Fatalf("addPlayer() failed: %v", err)
	}
	if !slices.Contains(next.Audience, "alice") {
		t.Fatalf("expected alice in audience, got %v", next.Audience)
	}
	if len(g.Audience) != 0 {
		t.Fatalf("addPlayer() mutated its receiver: %v", g.Audience)
	}

	if _, err := next.addPlayer("alice"); err != errNameInUse {
		t.Fatalf("expected errNameInUse for duplicate name, got %v", err)
	}
	if _, err := next.addPlayer("averylongname"); err != errNameTooLong {
		t.Fatalf("expected errNameTooLong, got %v", err)
	}
}

func TestChangeTeam(t *testing.T) {
	g := lobbyState(t)

	if len(g.Teams) != 2 {
		t.Fatalf("expected 2 teams, got %d", len(g.Teams))
	}
	if g.Teams[0].Name != "blue" || g.Teams[1].Name != "red" {
		t.Fatalf("expected lexicographic team order, got %q, %q", g.Teams[0].Name, g.Teams[1].Name)
	}
	if g.teamIndexOf("eve") >= 0 || !slices.Contains(g.Audience, "eve") {
		t.Fatal("expected eve to remain in the audience")
	}

	// Moving the sole member of a new team back out deletes the team.
	next, err := g.changeTeam("eve", "green")
	if err != nil {
		t.Fatalf("changeTeam() failed: %v", err)
	}
	if len(next.Teams) != 3 || next.Teams[1].Name != "green" {
		t.Fatalf("expected green team second, got %+v", next.Teams)
	}

	next, err = next.changeTeam("eve", "red")
	if err != nil {
		t.Fatalf("changeTeam() failed: %v", err)
	}
	if len(next.Teams) != 2 {
		t.Fatalf("expected emptied green team to be deleted, got %+v", next.Teams)
	}
	if ti := next.teamIndexOf("eve"); ti < 0 || next.Teams[ti].Name != "red" {
		t.Fatal("expected eve on team red")
	}

	if _, err := g.changeTeam("alice", ""); err != errTeamRequired {
		t.Fatalf("expected errTeamRequired, got %v", err)
	}
	if _, err := g.changeTeam("alice", "thisteamnameiswaytoolong"); err != errTeamTooLong {
		t.Fatalf("expected errTeamTooLong, got %v", err)
	}

	started := activeState(t, rand.New(rand.NewSource(1)))
	if _, err := started.changeTeam("alice", "blue"); err != errGameStarted {
		t.Fatalf("expected errGameStarted after start, got %v", err)
	}
}

func TestStartGameGuards(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	g := newGameState("testgame")
	for _, name := range []string{"alice", "bob"} {
		g, _ = g.addPlayer(name)
	}
	g, _ = g.changeTeam("alice", "red")
	g, _ = g.changeTeam("bob", "red")

	if _, err := g.startGame(rng); err != errNotEnoughTeams {
		t.Fatalf("expected errNotEnoughTeams, got %v", err)
	}

	g, _ = g.addPlayer("carol")
	g, _ = g.changeTeam("carol", "blue")
	if _, err := g.startGame(rng); err != errTeamTooSmall {
		t.Fatalf("expected errTeamTooSmall, got %v", err)
	}

	g = lobbyState(t)
	started, err := g.startGame(rng)
	if err != nil {
		t.Fatalf("startGame() failed: %v", err)
	}
	if started.Phase != phaseActive {
		t.Fatalf("expected phase %q, got %q", phaseActive, started.Phase)
	}
	if started.CurTeam < 0 || started.CurTeam >= len(started.Teams) {
		t.Fatalf("invalid current team index: %d", started.CurTeam)
	}
	team := started.Teams[started.CurTeam]
	if !slices.Contains(team.Players, team.CurPlayer) {
		t.Fatalf("clue-giver %q is not on team %q", team.CurPlayer, team.Name)
	}

	if _, err := started.startGame(rng); err != errGameStarted {
		t.Fatalf("expected errGameStarted on double start, got %v", err)
	}
}

func TestStartRoundGuards(t *testing.T) {
	deck := testDeck(20)
	rng := rand.New(rand.NewSource(2))
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	lobby := lobbyState(t)
	if _, err := lobby.startRound("alice", deck, rng, now, time.Minute); err != errGameNotStarted {
		t.Fatalf("expected errGameNotStarted in lobby, got %v", err)
	}

	g := activeState(t, rng)
	if _, err := g.startRound(opponentOf(t, g), deck, rng, now, time.Minute); err != errNotYourTurn {
		t.Fatalf("expected errNotYourTurn, got %v", err)
	}

	running, err := g.startRound(g.Teams[g.CurTeam].CurPlayer, deck, rng, now, time.Minute)
	if err != nil {
		t.Fatalf("startRound() failed: %v", err)
	}
	if running.Phase != phaseRoundRunning {
		t.Fatalf("expected phase %q, got %q", phaseRoundRunning, running.Phase)
	}
	if running.Card == nil {
		t.Fatal("expected a live card after round start")
	}
	if want := now.Add(time.Minute); !running.RoundEnd.Equal(want) {
		t.Fatalf("expected deadline %v, got %v", want, running.RoundEnd)
	}

	if _, err := running.startRound(running.Teams[running.CurTeam].CurPlayer, deck, rng, now, time.Minute); err != errRoundRunning {
		t.Fatalf("expected errRoundRunning, got %v", err)
	}
}

func TestAdvanceCard(t *testing.T) {
	deck := testDeck(20)
	rng := rand.New(rand.NewSource(3))
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	g := runningState(t, deck, rng, now)
	giver := g.Teams[g.CurTeam].CurPlayer

	if _, err := g.advanceCard(opponentOf(t, g), cardCorrect, deck, rng); err != errNotYourTurn {
		t.Fatalf("expected errNotYourTurn, got %v", err)
	}

	for range 3 {
		next, err := g.advanceCard(giver, cardCorrect, deck, rng)
		if err != nil {
			t.Fatalf("advanceCard(correct) failed: %v", err)
		}
		g = next
	}
	next, err := g.advanceCard(giver, cardSkipped, deck, rng)
	if err != nil {
		t.Fatalf("advanceCard(skipped) failed: %v", err)
	}
	g = next

	team := g.Teams[g.CurTeam]
	if len(team.Correct) != 3 || len(team.Skipped) != 1 {
		t.Fatalf("expected 3 correct and 1 skipped, got %d and %d", len(team.Correct), len(team.Skipped))
	}
	if len(g.usedCards()) != 4 {
		t.Fatalf("expected 4 consumed cards, got %d", len(g.usedCards()))
	}
	if g.Card == nil {
		t.Fatal("expected a live replacement card")
	}
	if _, used := g.usedCards()[g.Card.Index]; used {
		t.Fatalf("live card %d was already consumed", g.Card.Index)
	}
	if g.LastCard == "" {
		t.Fatal("expected last card word to be recorded")
	}
}

func TestBuzz(t *testing.T) {
	deck := testDeck(20)
	rng := rand.New(rand.NewSource(4))
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	g := runningState(t, deck, rng, now)
	giver := g.Teams[g.CurTeam].CurPlayer

	if _, err := g.buzz("eve", now); err != errAudienceBuzz {
		t.Fatalf("expected errAudienceBuzz, got %v", err)
	}
	if _, err := g.buzz(giver, now); err != errOwnTeamBuzz {
		t.Fatalf("expected errOwnTeamBuzz, got %v", err)
	}

	buzzTime := now.Add(20 * time.Second)
	paused, err := g.buzz(opponentOf(t, g), buzzTime)
	if err != nil {
		t.Fatalf("buzz() failed: %v", err)
	}
	if paused.Phase != phaseRoundPaused {
		t.Fatalf("expected phase %q, got %q", phaseRoundPaused, paused.Phase)
	}
	if paused.TimeLeft != 40*time.Second {
		t.Fatalf("expected 40s left, got %v", paused.TimeLeft)
	}
	if paused.Buzzer != opponentOf(t, g) {
		t.Fatalf("expected buzzer %q, got %q", opponentOf(t, g), paused.Buzzer)
	}

	if _, err := paused.buzz(opponentOf(t, g), buzzTime); err != errNoRound {
		t.Fatalf("expected errNoRound while paused, got %v", err)
	}
	if _, err := paused.resolveBuzz(opponentOf(t, paused), false, deck, rng, buzzTime); err != errNotYourTurn {
		t.Fatalf("expected errNotYourTurn on opponent resolve, got %v", err)
	}

	// Invalid buzz: same card, deadline rebuilt from the frozen remainder.
	resumeTime := buzzTime.Add(30 * time.Second)
	resumed, err := paused.resolveBuzz(giver, false, deck, rng, resumeTime)
	if err != nil {
		t.Fatalf("resolveBuzz(invalid) failed: %v", err)
	}
	if resumed.Phase != phaseRoundRunning {
		t.Fatalf("expected phase %q, got %q", phaseRoundRunning, resumed.Phase)
	}
	if resumed.Card.Index != g.Card.Index {
		t.Fatal("invalid buzz should keep the same card")
	}
	if want := resumeTime.Add(40 * time.Second); !resumed.RoundEnd.Equal(want) {
		t.Fatalf("expected deadline %v, got %v", want, resumed.RoundEnd)
	}
	if resumed.Buzzer != "" || resumed.TimeLeft != 0 {
		t.Fatal("expected buzz fields to be cleared on resume")
	}

	// Valid buzz: card counts as skipped and a fresh one is drawn.
	confirmed, err := paused.resolveBuzz(giver, true, deck, rng, resumeTime)
	if err != nil {
		t.Fatalf("resolveBuzz(valid) failed: %v", err)
	}
	team := confirmed.Teams[confirmed.CurTeam]
	if !slices.Contains(team.Skipped, g.Card.Index) {
		t.Fatal("valid buzz should record the card as skipped")
	}
	if confirmed.Card.Index == g.Card.Index {
		t.Fatal("valid buzz should draw a fresh card")
	}
}

func TestExpireRound(t *testing.T) {
	deck := testDeck(20)
	rng := rand.New(rand.NewSource(5))
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	g := runningState(t, deck, rng, now)
	firstTeam := g.CurTeam
	card := g.Card.Index

	next := g.expireRound(rng)
	if next.Phase != phaseActive {
		t.Fatalf("expected phase %q, got %q", phaseActive, next.Phase)
	}
	if !slices.Contains(next.Teams[firstTeam].Skipped, card) {
		t.Fatal("expected the live card to be recorded as skipped")
	}
	if next.Card != nil || !next.RoundEnd.IsZero() {
		t.Fatal("expected round fields to be cleared")
	}
	if next.CurTeam != (firstTeam+1)%len(next.Teams) {
		t.Fatalf("expected turn to pass to team %d, got %d", (firstTeam+1)%len(next.Teams), next.CurTeam)
	}
	team := next.Teams[next.CurTeam]
	if !slices.Contains(team.Players, team.CurPlayer) {
		t.Fatalf("clue-giver %q is not on team %q", team.CurPlayer, team.Name)
	}
}

func TestExpireRoundRotatesClueGiver(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	g := activeState(t, rng)

	// Cycle through both teams twice; each team's clue-giver must advance in
	// join order and wrap.
	seen := make(map[int][]string)
	for range 4 {
		g = g.expireRound(rng)
		team := g.Teams[g.CurTeam]
		seen[g.CurTeam] = append(seen[g.CurTeam], team.CurPlayer)
	}

	for ti, givers := range seen {
		if len(givers) != 2 {
			t.Fatalf("team %d: expected 2 turns, got %d", ti, len(givers))
		}
		players := g.Teams[ti].Players
		first := slices.Index(players, givers[0])
		second := slices.Index(players, givers[1])
		if first < 0 || second < 0 {
			t.Fatalf("team %d: clue-giver not on roster", ti)
		}
		if second != (first+1)%len(players) {
			t.Fatalf("team %d: expected rotation %d→%d, got %d", ti, first, (first+1)%len(players), second)
		}
	}
}

func TestExpireRoundSkipsEmptyTeam(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	g := activeState(t, rng)

	// Empty the team that would be next in rotation.
	nextTeam := (g.CurTeam + 1) % len(g.Teams)
	for _, name := range slices.Clone(g.Teams[nextTeam].Players) {
		g, _ = g.leave(name)
	}
	if len(g.Teams[nextTeam].Players) != 0 {
		t.Fatal("expected the next team to be emptied")
	}

	cur := g.CurTeam
	next := g.expireRound(rng)
	if next.CurTeam != cur {
		t.Fatalf("expected turn to skip the empty team back to %d, got %d", cur, next.CurTeam)
	}
}

func TestLeave(t *testing.T) {
	g := lobbyState(t)

	next, alive := g.leave("alice")
	if !alive {
		t.Fatal("expected session to stay alive")
	}
	if next.hasParticipant("alice") {
		t.Fatal("expected alice to be removed")
	}

	// Teams emptied after start survive; in the lobby they are deleted.
	started := activeState(t, rand.New(rand.NewSource(8)))
	teams := len(started.Teams)
	for _, name := range slices.Clone(started.Teams[0].Players) {
		started, _ = started.leave(name)
	}
	if len(started.Teams) != teams {
		t.Fatalf("expected started game to keep %d teams, got %d", teams, len(started.Teams))
	}

	for _, name := range []string{"bob", "carol", "dave", "eve"} {
		next, alive = next.leave(name)
	}
	if alive {
		t.Fatal("expected session to be empty after the last leave")
	}
}

func TestRejoin(t *testing.T) {
	g := lobbyState(t)
	g, _ = g.leave("alice")

	next, ok := g.rejoin("alice", "red")
	if !ok {
		t.Fatal("expected rejoin into an existing team to succeed")
	}
	if ti := next.teamIndexOf("alice"); ti < 0 || next.Teams[ti].Name != "red" {
		t.Fatal("expected alice back on team red")
	}

	if _, ok := g.rejoin("alice", "green"); ok {
		t.Fatal("expected rejoin into a missing team to fail")
	}
	if _, ok := g.rejoin("bob", "red"); ok {
		t.Fatal("expected rejoin of a present participant to fail")
	}
	if _, ok := g.rejoin("alice", ""); ok {
		t.Fatal("expected rejoin of an audience tombstone to fail")
	}
}

func TestEndGame(t *testing.T) {
	deck := testDeck(20)
	rng := rand.New(rand.NewSource(9))
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	g := runningState(t, deck, rng, now)
	giver := g.Teams[g.CurTeam].CurPlayer
	g, _ = g.advanceCard(giver, cardCorrect, deck, rng)
	g, _ = g.advanceCard(giver, cardSkipped, deck, rng)
	correct := deck.Words(g.Teams[g.CurTeam].Correct)

	ended, err := g.endGame(deck)
	if err != nil {
		t.Fatalf("endGame() failed: %v", err)
	}
	if ended.Phase != phaseEnded {
		t.Fatalf("expected phase %q, got %q", phaseEnded, ended.Phase)
	}
	if len(ended.Results) != len(g.Teams) {
		t.Fatalf("expected %d team results, got %d", len(g.Teams), len(ended.Results))
	}

	result := ended.Results[g.CurTeam]
	if !slices.Equal(result.Correct, correct) {
		t.Fatalf("expected correct words %v, got %v", correct, result.Correct)
	}
	if len(result.Skipped) != 1 {
		t.Fatalf("expected 1 skipped word, got %v", result.Skipped)
	}

	for _, team := range ended.Teams {
		if len(team.Correct) != 0 || len(team.Skipped) != 0 || team.CurPlayer != "" {
			t.Fatalf("expected cleared ledgers, got %+v", team)
		}
	}
	if ended.CurTeam != -1 || ended.Card != nil {
		t.Fatal("expected round fields to be cleared")
	}

	if _, err := ended.endGame(deck); err != errGameEnded {
		t.Fatalf("expected errGameEnded on double end, got %v", err)
	}
	if _, err := lobbyState(t).endGame(deck); err != errGameNotStarted {
		t.Fatalf("expected errGameNotStarted in lobby, got %v", err)
	}
}

// TestNoDuplicateDraws plays an entire game down to deck exhaustion and
// verifies no card is ever presented twice.
func TestNoDuplicateDraws(t *testing.T) {
	const size = 10

	deck := testDeck(size)
	rng := rand.New(rand.NewSource(10))
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	g := runningState(t, deck, rng, now)
	seen := map[int]bool{g.Card.Index: true}

	for {
		next, err := g.advanceCard(g.Teams[g.CurTeam].CurPlayer, cardCorrect, deck, rng)
		if err == errOutOfCards {
			g = next
			break
		}
		if err != nil {
			t.Fatalf("advanceCard() failed: %v", err)
		}
		if seen[next.Card.Index] {
			t.Fatalf("card %d drawn twice", next.Card.Index)
		}
		seen[next.Card.Index] = true
		g = next
	}

	if len(seen) != size {
		t.Fatalf("expected %d unique cards, got %d", size, len(seen))
	}
	if len(g.Teams[g.CurTeam].Correct) != size {
		t.Fatalf("expected exhaustion to keep the final ledger entry, got %d", len(g.Teams[g.CurTeam].Correct))
	}
}
