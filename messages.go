package main

import (
	"encoding/json"
	"time"
)

// Client → server message types.
const (
	msgRegister    = "REGISTER"
	msgJoinGame    = "JOIN_GAME"
	msgRejoin      = "REJOIN"
	msgChangeTeam  = "CHANGE_TEAM"
	msgStartGame   = "START_GAME"
	msgStartRound  = "START_ROUND"
	msgSkip        = "SKIP"
	msgCorrect     = "CORRECT"
	msgBuzz        = "BUZZ"
	msgBuzzInvalid = "BUZZ_INVALID"
	msgBuzzValid   = "BUZZ_VALID"
	msgEndGame     = "END_GAME"
)

// Server → client message types.
const (
	msgGameState  = "GAME_STATE"
	msgSuccess    = "SUCCESS"
	msgError      = "ERROR"
	msgContinue   = "CONTINUE"
	msgEndRound   = "END_ROUND"
	msgOutOfCards = "OUT_OF_CARDS"
	msgClosed     = "CLOSED"
)

// clientMessage is the tagged union for everything a client can send. The
// payload stays raw until the type tag selects a decoder; unrecognized tags
// are reported back to the sender rather than silently dropped.
type clientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// joinPayload is the data carried by REGISTER, JOIN_GAME and REJOIN.
type joinPayload struct {
	Game string `json:"game"`
	Name string `json:"name"`
}

func (m clientMessage) join() (joinPayload, error) {
	var p joinPayload
	err := json.Unmarshal(m.Data, &p)
	return p, err
}

// team decodes the CHANGE_TEAM payload, a bare team name.
func (m clientMessage) team() (string, error) {
	var t string
	err := json.Unmarshal(m.Data, &t)
	return t, err
}

// identityPayload mirrors a connection's binding on the wire.
type identityPayload struct {
	Game string `json:"game"`
	Name string `json:"name"`
	Team string `json:"team,omitempty"`
}

// snapshot is the externally broadcast view of a session: the full state
// minus internal-only fields such as the live round clock handle.
type snapshot struct {
	Game     string       `json:"game"`
	Phase    phase        `json:"phase"`
	Teams    []Team       `json:"teams"`
	Audience []string     `json:"audience"`
	CurTeam  int          `json:"curTeam"`
	Card     *Card        `json:"card,omitempty"`
	RoundEnd *time.Time   `json:"roundEnd,omitempty"`
	TimeLeft int64        `json:"timeLeft,omitempty"`
	Buzzer   string       `json:"buzzer,omitempty"`
	LastCard string       `json:"lastCard,omitempty"`
	Results  []TeamResult `json:"results,omitempty"`
}

// snapshotOf projects a state value onto the wire. The state is immutable
// once published, so the snapshot may share its slices.
func snapshotOf(g GameState) snapshot {
	snap := snapshot{
		Game:     g.Code,
		Phase:    g.Phase,
		Teams:    g.Teams,
		Audience: g.Audience,
		CurTeam:  g.CurTeam,
		Card:     g.Card,
		TimeLeft: g.TimeLeft.Milliseconds(),
		Buzzer:   g.Buzzer,
		LastCard: g.LastCard,
		Results:  g.Results,
	}
	if !g.RoundEnd.IsZero() {
		end := g.RoundEnd
		snap.RoundEnd = &end
	}
	return snap
}

type stateMessage struct {
	Type string   `json:"type"` // "GAME_STATE"
	Data snapshot `json:"data"`
}

func newStateMessage(g GameState) stateMessage {
	return stateMessage{Type: msgGameState, Data: snapshotOf(g)}
}

type successMessage struct {
	Type    string `json:"type"` // "SUCCESS"
	Message any    `json:"message"`
}

func newSuccess(message any) successMessage {
	return successMessage{Type: msgSuccess, Message: message}
}

type errorMessage struct {
	Type    string `json:"type"` // "ERROR"
	Message string `json:"message"`
}

func newError(err error) errorMessage {
	return errorMessage{Type: msgError, Message: err.Error()}
}

// eventMessage carries a discrete notification (BUZZ, END_ROUND, ...) sent
// alongside state replication so clients can trigger side effects such as
// audible alerts without diffing snapshots.
type eventMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

func newEvent(kind string, data any) eventMessage {
	return eventMessage{Type: kind, Data: data}
}
