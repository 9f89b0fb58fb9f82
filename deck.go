package main

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"

	"github.com/rs/zerolog/log"
)

//go:embed cards.csv
var defaultCards []byte

// Card is one guessable item: a word plus the companion words the clue-giver
// is forbidden to say. Index is the card's stable position in the deck and is
// what team ledgers record.
type Card struct {
	Index     int      `json:"index"`
	Word      string   `json:"word"`
	Forbidden []string `json:"forbidden"`
}

// Deck is the immutable card catalog. It never changes after load, so reads
// need no locking.
type Deck struct {
	cards []Card
}

func newDeck(cards []Card) *Deck {
	return &Deck{cards: cards}
}

// parseDeck reads a card catalog in CSV form: a word followed by at least one
// forbidden word per record. A short record fails the whole load; malformed
// catalogs are a startup error, never a runtime one.
func parseDeck(r io.Reader) (*Deck, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	var cards []Card

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read cards: %w", err)
		}
		if len(record) < 2 {
			return nil, fmt.Errorf("card %d: expected a word and at least one forbidden word, got %d field(s)", len(cards)+1, len(record))
		}

		cards = append(cards, Card{
			Index:     len(cards),
			Word:      record[0],
			Forbidden: record[1:],
		})
	}

	if len(cards) == 0 {
		return nil, errors.New("card catalog is empty")
	}

	return newDeck(cards), nil
}

// loadDeck prefers an explicit cards file, then the database catalog, then
// the embedded deck.
func loadDeck(ctx context.Context, cfg *Config, st *store) (*Deck, error) {
	if cfg.cards != "" {
		f, err := os.Open(cfg.cards)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		if info, err := f.Stat(); err == nil {
			log.Debug().Str("file", cfg.cards).Str("size", humanReadableSize(info.Size())).Msg("loading card catalog")
		}

		return parseDeck(f)
	}

	if st != nil {
		cards, err := st.loadCards(ctx)
		if err != nil {
			return nil, err
		}
		if len(cards) > 0 {
			return newDeck(cards), nil
		}
	}

	return parseDeck(bytes.NewReader(defaultCards))
}

// Draw picks uniformly at random among cards whose index is not in used.
// It returns errOutOfCards once every card has been consumed; callers must
// treat that as a forced game end, not a retryable failure.
func (d *Deck) Draw(rng *rand.Rand, used map[int]struct{}) (Card, error) {
	eligible := make([]int, 0, len(d.cards))
	for i := range d.cards {
		if _, ok := used[i]; !ok {
			eligible = append(eligible, i)
		}
	}

	if len(eligible) == 0 {
		return Card{}, errOutOfCards
	}

	return d.cards[eligible[rng.Intn(len(eligible))]], nil
}

// Word resolves a ledger index back to its word.
func (d *Deck) Word(index int) string {
	if index < 0 || index >= len(d.cards) {
		return ""
	}
	return d.cards[index].Word
}

// Words resolves a whole ledger.
func (d *Deck) Words(indices []int) []string {
	words := make([]string, 0, len(indices))
	for _, i := range indices {
		words = append(words, d.Word(i))
	}
	return words
}

func (d *Deck) Size() int {
	return len(d.cards)
}
