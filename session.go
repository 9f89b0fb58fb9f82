package main

import (
	"context"
	"math/rand"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// action pairs an inbound message with the connection that sent it. For
// join messages, res reports the session the connection was bound to (nil
// on rejection) so the read pump can route subsequent messages.
type action struct {
	c   *client
	msg clientMessage
	res chan *session
}

func (a action) fail(err error) {
	a.c.reply(newError(err))
	if a.res != nil {
		a.res <- nil
	}
}

// sessionManager is the registry of live sessions, keyed by game code.
// It owns session creation and teardown; every other mutation happens
// inside the owning session's run loop.
type sessionManager struct {
	cfg   *Config
	deck  *Deck
	store *store
	clock clockwork.Clock
	seed  func() int64

	mu       sync.Mutex
	sessions map[string]*session
}

func newSessionManager(cfg *Config, deck *Deck, st *store, clock clockwork.Clock) *sessionManager {
	return &sessionManager{
		cfg:      cfg,
		deck:     deck,
		store:    st,
		clock:    clock,
		seed:     func() int64 { return time.Now().UnixNano() },
		sessions: make(map[string]*session),
	}
}

// join routes a REGISTER, JOIN_GAME or REJOIN to the named session. The
// session is created on first join; a REJOIN against an unknown code is the
// one join that must not create anything.
func (m *sessionManager) join(c *client, msg clientMessage, res chan *session) {
	a := action{c: c, msg: msg, res: res}

	p, err := msg.join()
	if err != nil || p.Game == "" || p.Name == "" {
		a.fail(errGameRequired)
		return
	}
	if len(p.Game) > maxGameLength {
		a.fail(errGameTooLong)
		return
	}
	if len(p.Name) > maxNameLength {
		a.fail(errNameTooLong)
		return
	}

	m.mu.Lock()
	s, ok := m.sessions[p.Game]
	if !ok {
		if msg.Type == msgRejoin {
			m.mu.Unlock()
			a.fail(errGameNotFound)
			return
		}
		s = m.newSession(p.Game)
		m.sessions[p.Game] = s
		go s.run()
		log.Info().Str("game", p.Game).Msg("session created")
	}
	m.mu.Unlock()

	s.actions <- a
}

func (m *sessionManager) newSession(code string) *session {
	return &session{
		code:    code,
		mgr:     m,
		clients: make(map[*client]bool),
		members: make(map[*client]string),
		state:   newGameState(code),
		actions: make(chan action, 64),
		unreg:   make(chan *client, 16),
		ticks:   make(chan struct{}, 2),
		rng:     rand.New(rand.NewSource(m.seed())),
	}
}

func (m *sessionManager) remove(code string) {
	m.mu.Lock()
	delete(m.sessions, code)
	m.mu.Unlock()
}

// roundClock is the handle for one round's poll loop. It is stored on the
// session and must be explicitly disarmed on every exit from the running
// phase so a stale tick can never mutate a later round.
type roundClock struct {
	stop chan struct{}
}

// session owns all state for one game code. A single goroutine (run)
// applies every mutation, so at most one transition is ever in flight per
// session while separate sessions proceed fully in parallel. The round
// clock feeds the same loop, so ticks cannot race player actions.
type session struct {
	code string
	mgr  *sessionManager

	clients map[*client]bool
	members map[*client]string
	state   GameState

	tombstones []identity

	actions chan action
	unreg   chan *client
	ticks   chan struct{}

	timer *roundClock
	rng   *rand.Rand
	dead  atomic.Bool
}

// post delivers a player action into the session loop. Sessions that have
// already been torn down answer with GAME_NOT_FOUND.
func (s *session) post(a action) {
	if s.dead.Load() {
		a.fail(errGameNotFound)
		return
	}
	s.actions <- a
}

// postUnreg delivers a disconnect. A dead session has no roster left to
// clean up.
func (s *session) postUnreg(c *client) {
	if s.dead.Load() {
		return
	}
	s.unreg <- c
}

func (s *session) run() {
	for {
		select {
		case a := <-s.actions:
			if s.handle(a) {
				return
			}
		case c := <-s.unreg:
			if s.handleLeave(c) {
				return
			}
		case <-s.ticks:
			s.handleTick()
		}
	}
}

// retire removes the session from the registry once no participants
// remain. A short-lived drain answers any sender that raced the teardown.
func (s *session) retire() {
	s.dead.Store(true)
	s.mgr.remove(s.code)
	s.disarmClock()
	log.Info().Str("game", s.code).Msg("session deleted")

	go func() {
		for {
			select {
			case a := <-s.actions:
				a.fail(errGameNotFound)
			case <-s.unreg:
			case <-time.After(time.Minute):
				return
			}
		}
	}()
}

// handle applies one client action. It reports true when the session
// emptied out and the loop should stop.
func (s *session) handle(a action) bool {
	switch a.msg.Type {
	case msgRegister, msgJoinGame, msgRejoin:
		s.handleJoin(a)
		return false
	}

	name, ok := s.members[a.c]
	if !ok {
		a.fail(errNotRegistered)
		return false
	}

	switch a.msg.Type {
	case msgChangeTeam:
		s.handleChangeTeam(a, name)
	case msgStartGame:
		s.handleStartGame(a, name)
	case msgStartRound:
		s.handleStartRound(a, name)
	case msgSkip:
		s.handleAdvanceCard(a, name, cardSkipped)
	case msgCorrect:
		s.handleAdvanceCard(a, name, cardCorrect)
	case msgBuzz:
		s.handleBuzz(a, name)
	case msgBuzzInvalid:
		s.handleResolveBuzz(a, name, false)
	case msgBuzzValid:
		s.handleResolveBuzz(a, name, true)
	case msgEndGame:
		s.handleEndGame(a, name)
	default:
		a.fail(errUnknownType)
	}

	return false
}

func (s *session) tombstoneIndex(name string) int {
	return slices.IndexFunc(s.tombstones, func(t identity) bool {
		return t.name == name
	})
}

func (s *session) handleJoin(a action) {
	if _, ok := s.members[a.c]; ok {
		a.fail(errRegistered)
		return
	}

	p, err := a.msg.join()
	if err != nil {
		a.fail(errGameRequired)
		return
	}

	// A tombstone for this name means a terminated participant returning:
	// restore them straight into their old team instead of the audience.
	if i := s.tombstoneIndex(p.Name); i >= 0 {
		tomb := s.tombstones[i]
		s.tombstones = slices.Delete(s.tombstones, i, i+1)

		if next, ok := s.state.rejoin(p.Name, tomb.team); ok {
			s.state = next
			s.bind(a, p.Name, tomb.team)
			s.broadcast(newEvent(msgRejoin, p.Name))
			s.broadcastState()
			log.Debug().Str("game", s.code).Str("name", p.Name).Str("team", tomb.team).Msg("participant rejoined")
			return
		}
	}

	next, err := s.state.addPlayer(p.Name)
	if err != nil {
		a.fail(err)
		return
	}

	s.state = next
	s.bind(a, p.Name, "")
	s.broadcastState()
	log.Debug().Str("game", s.code).Str("name", p.Name).Msg("participant joined")
}

func (s *session) bind(a action, name, team string) {
	s.clients[a.c] = true
	s.members[a.c] = name
	a.c.reply(newSuccess(identityPayload{Game: s.code, Name: name, Team: team}))
	if a.res != nil {
		a.res <- s
	}
}

func (s *session) handleChangeTeam(a action, name string) {
	team, err := a.msg.team()
	if err != nil {
		a.fail(errTeamRequired)
		return
	}

	next, err := s.state.changeTeam(name, team)
	if err != nil {
		a.fail(err)
		return
	}

	s.state = next
	a.c.reply(newSuccess(identityPayload{Game: s.code, Name: name, Team: team}))
	s.broadcastState()
}

func (s *session) handleStartGame(a action, name string) {
	next, err := s.state.startGame(s.rng)
	if err != nil {
		a.fail(err)
		return
	}

	s.state = next
	s.broadcastState()
	log.Info().Str("game", s.code).Str("name", name).Int("teams", len(next.Teams)).Msg("game started")
}

func (s *session) handleStartRound(a action, name string) {
	next, err := s.state.startRound(name, s.mgr.deck, s.rng, s.mgr.clock.Now(), s.mgr.cfg.roundDuration)
	if err == errOutOfCards {
		s.forceEnd(s.state)
		return
	}
	if err != nil {
		a.fail(err)
		return
	}

	s.state = next
	s.armClock()
	s.broadcastState()
}

func (s *session) handleAdvanceCard(a action, name string, outcome cardOutcome) {
	next, err := s.state.advanceCard(name, outcome, s.mgr.deck, s.rng)
	if err == errOutOfCards {
		s.forceEnd(next)
		return
	}
	if err != nil {
		a.fail(err)
		return
	}

	s.state = next
	s.broadcastState()
}

func (s *session) handleBuzz(a action, name string) {
	next, err := s.state.buzz(name, s.mgr.clock.Now())
	if err != nil {
		a.fail(err)
		return
	}

	s.disarmClock()
	s.state = next
	s.broadcast(newEvent(msgBuzz, name))
	s.broadcastState()
	log.Debug().Str("game", s.code).Str("buzzer", name).Msg("round buzzed")
}

func (s *session) handleResolveBuzz(a action, name string, valid bool) {
	next, err := s.state.resolveBuzz(name, valid, s.mgr.deck, s.rng, s.mgr.clock.Now())
	if err == errOutOfCards {
		s.forceEnd(next)
		return
	}
	if err != nil {
		a.fail(err)
		return
	}

	s.state = next
	s.armClock()
	s.broadcast(newEvent(msgContinue, nil))
	s.broadcastState()
}

func (s *session) handleEndGame(a action, name string) {
	next, err := s.state.endGame(s.mgr.deck)
	if err != nil {
		a.fail(err)
		return
	}

	s.disarmClock()
	s.state = next
	s.broadcast(newEvent(msgEndGame, next.Results))
	s.broadcastState()
	s.record(next.Results)
	log.Info().Str("game", s.code).Str("name", name).Msg("game ended")
}

// forceEnd handles deck exhaustion: not a user error but a forced
// transition to the terminal phase, announced to the whole session exactly
// once. The state passed in carries any final ledger update.
func (s *session) forceEnd(exhausted GameState) {
	s.disarmClock()

	next, err := exhausted.endGame(s.mgr.deck)
	if err != nil {
		// Exhaustion can only occur mid-game, so this is an invariant
		// violation; log it without touching other sessions.
		log.Error().Err(err).Str("game", s.code).Msg("forced end of unstarted game")
		return
	}

	s.state = next
	s.broadcast(newEvent(msgOutOfCards, nil))
	s.broadcastState()
	s.record(next.Results)
	log.Info().Str("game", s.code).Msg("deck exhausted, game ended")
}

// handleLeave runs the ungraceful-disconnect path. Duplicate close events
// for the same connection are ignored, and a tombstone is recorded at most
// once per identity so a later rejoin can restore team membership.
func (s *session) handleLeave(c *client) bool {
	name, ok := s.members[c]
	delete(s.clients, c)
	delete(s.members, c)
	c.shutdown()

	if !ok {
		return false
	}

	team := ""
	if ti := s.state.teamIndexOf(name); ti >= 0 {
		team = s.state.Teams[ti].Name
	}
	if s.tombstoneIndex(name) < 0 {
		s.tombstones = append(s.tombstones, identity{game: s.code, name: name, team: team})
	}

	next, alive := s.state.leave(name)
	s.state = next
	s.broadcast(newEvent(msgClosed, identityPayload{Game: s.code, Name: name, Team: team}))
	log.Debug().Str("game", s.code).Str("name", name).Msg("participant left")

	if !alive {
		s.retire()
		return true
	}

	s.broadcastState()
	return false
}

// handleTick fires the round-expiry transition once the deadline has
// passed. Ticks queued before a disarm are harmless: the phase guard below
// rejects them.
func (s *session) handleTick() {
	if s.state.Phase != phaseRoundRunning {
		return
	}
	if s.mgr.clock.Now().Before(s.state.RoundEnd) {
		return
	}

	s.disarmClock()
	s.state = s.state.expireRound(s.rng)
	s.broadcast(newEvent(msgEndRound, nil))
	s.broadcastState()
	log.Debug().Str("game", s.code).Int("curTeam", s.state.CurTeam).Msg("round expired")
}

// armClock starts the poll loop for a round. Exactly one clock may be
// active per session; arming over a live one is a programming error, caught
// here rather than left to corrupt a later round.
func (s *session) armClock() {
	if s.timer != nil {
		log.Error().Str("game", s.code).Msg("round clock armed twice")
		s.disarmClock()
	}

	rc := &roundClock{stop: make(chan struct{})}
	s.timer = rc

	interval := s.mgr.cfg.clockInterval
	clk := s.mgr.clock

	go func() {
		ticker := clk.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-rc.stop:
				return
			case <-ticker.Chan():
				select {
				case s.ticks <- struct{}{}:
				default:
				}
			}
		}
	}()
}

func (s *session) disarmClock() {
	if s.timer == nil {
		return
	}
	close(s.timer.stop)
	s.timer = nil
}

// broadcast delivers a message to every connection in the session. A
// consumer whose buffer is full gets disconnected; its read pump's exit
// then runs the normal leave path.
func (s *session) broadcast(msg any) {
	for c := range s.clients {
		select {
		case c.send <- msg:
		default:
			log.Warn().Str("game", s.code).Str("connection", c.id).Msg("send buffer full, disconnecting")
			c.shutdown()
		}
	}
}

func (s *session) broadcastState() {
	s.broadcast(newStateMessage(s.state))
}

// record persists final results to the historical store, when one is
// configured. Gameplay never waits on it.
func (s *session) record(results []TeamResult) {
	if s.mgr.store == nil {
		return
	}

	code := s.code
	st := s.mgr.store

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := st.recordGame(ctx, code, results); err != nil {
			log.Error().Err(err).Str("game", code).Msg("failed to record game results")
		}
	}()
}
