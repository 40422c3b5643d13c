// Package game keeps the state of the couple games played over the realtime
// socket: mode, whose turn it is, and the delayed outcome of a bottle spin.
package game

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
	"pgregory.net/rand"
)

var (
	// ErrSpinInProgress is returned when a spin is requested while the
	// previous one has not produced its result yet.
	ErrSpinInProgress = errors.New("spin already in progress")
	// ErrNoPlayers is returned when an action needs players and the room has none.
	ErrNoPlayers = errors.New("no players in room")
	// ErrClosed is returned once the service has been shut down.
	ErrClosed = errors.New("game service closed")
	// ErrNoRoom is returned for actions on a room nobody joined, or one
	// already dropped.
	ErrNoRoom = errors.New("no such game room")
)

// SpinResult is the outcome of a bottle spin.
type SpinResult struct {
	CoupleID       string
	SpunBy         string
	SelectedUserID string
}

// Card is a drawn truth-or-dare card.
type Card struct {
	Type    string
	Text    string
	DrawnBy string
}

// State is a snapshot of a room.
type State struct {
	CoupleID string
	Extreme  bool
	Turn     string
	Spinning bool
	LastCard *Card
}

type room struct {
	mu       sync.Mutex
	extreme  bool
	turn     string
	spin     *time.Timer
	lastCard *Card
}

// Service owns every game room of the process.
type Service struct {
	rooms     *xsync.MapOf[string, *room]
	spinDelay time.Duration
	pick      func(n int) int
	log       *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option customizes a Service.
type Option func(*Service)

// WithPicker replaces the random index source used to select the spin outcome.
func WithPicker(pick func(n int) int) Option {
	return func(s *Service) {
		s.pick = pick
	}
}

// NewService creates a Service whose spins resolve after spinDelay.
func NewService(spinDelay time.Duration, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		rooms:     xsync.NewMapOf[string, *room](),
		spinDelay: spinDelay,
		pick:      rand.Intn,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// room returns an existing room. Only Join creates rooms, so an action racing
// with Drop cannot bring a room back that nothing would drop again.
func (s *Service) room(coupleID string) (*room, error) {
	r, ok := s.rooms.Load(coupleID)
	if !ok {
		return nil, errors.Wrapf(ErrNoRoom, "couple %s", coupleID)
	}
	return r, nil
}

// Join records userID in the couple's room. The first player to join gets
// the first turn. It returns the player whose turn it is.
func (s *Service) Join(coupleID, userID string) string {
	r, _ := s.rooms.LoadOrCompute(coupleID, func() *room { return &room{} })
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.turn == "" {
		r.turn = userID
	}
	return r.turn
}

// Spin starts a bottle spin. onStart, when set, runs before Spin returns and
// always before onResult. After the spin delay one of players is selected and
// passed to onResult, unless the room is dropped or the service closed in the
// meantime.
func (s *Service) Spin(coupleID, spunBy string, players []string, onStart func(), onResult func(SpinResult)) error {
	if s.ctx.Err() != nil {
		return ErrClosed
	}
	if len(players) == 0 {
		return errors.Wrapf(ErrNoPlayers, "spin in %s", coupleID)
	}
	players = append([]string(nil), players...)

	r, err := s.room(coupleID)
	if err != nil {
		return err
	}
	r.mu.Lock()

	if r.spin != nil {
		r.mu.Unlock()
		return errors.Wrapf(ErrSpinInProgress, "couple %s", coupleID)
	}

	// The result waits for onStart. onStart runs unlocked because it may
	// broadcast, and a broadcast eviction can drop this very room.
	announced := make(chan struct{})
	s.wg.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(s.spinDelay, func() {
		defer s.wg.Done()
		<-announced

		r.mu.Lock()
		current := r.spin == timer
		if current {
			r.spin = nil
		}
		r.mu.Unlock()

		if !current || s.ctx.Err() != nil {
			return
		}
		result := SpinResult{
			CoupleID:       coupleID,
			SpunBy:         spunBy,
			SelectedUserID: players[s.pick(len(players))],
		}
		s.log.Debug("spin resolved",
			zap.String("coupleId", coupleID),
			zap.String("selected", result.SelectedUserID))
		onResult(result)
	})
	r.spin = timer
	r.mu.Unlock()

	if onStart != nil {
		onStart()
	}
	close(announced)
	return nil
}

// DrawCard records the card drawn by userID.
func (s *Service) DrawCard(coupleID, userID, cardType, text string) (Card, error) {
	r, err := s.room(coupleID)
	if err != nil {
		return Card{}, err
	}
	card := Card{Type: cardType, Text: text, DrawnBy: userID}

	r.mu.Lock()
	r.lastCard = &card
	r.mu.Unlock()
	return card, nil
}

// NextTurn passes the turn to the player following the current one in
// players and returns the new holder.
func (s *Service) NextTurn(coupleID string, players []string) (string, error) {
	if len(players) == 0 {
		return "", errors.Wrapf(ErrNoPlayers, "next turn in %s", coupleID)
	}

	r, err := s.room(coupleID)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	next := players[0]
	for i, p := range players {
		if p == r.turn {
			next = players[(i+1)%len(players)]
			break
		}
	}
	r.turn = next
	return next, nil
}

// ToggleMode switches the room between the regular and the extreme deck.
func (s *Service) ToggleMode(coupleID string, extreme bool) (bool, error) {
	r, err := s.room(coupleID)
	if err != nil {
		return false, err
	}
	r.mu.Lock()
	r.extreme = extreme
	r.mu.Unlock()
	return extreme, nil
}

// State returns a snapshot of the room, or false if it does not exist.
func (s *Service) State(coupleID string) (State, bool) {
	r, ok := s.rooms.Load(coupleID)
	if !ok {
		return State{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	return State{
		CoupleID: coupleID,
		Extreme:  r.extreme,
		Turn:     r.turn,
		Spinning: r.spin != nil,
		LastCard: r.lastCard,
	}, true
}

// Rooms returns the number of live rooms.
func (s *Service) Rooms() int {
	return s.rooms.Size()
}

// Drop forgets a room and cancels its pending spin. It is wired to the
// registry so an abandoned room holds no state.
func (s *Service) Drop(coupleID string) {
	r, ok := s.rooms.LoadAndDelete(coupleID)
	if !ok {
		return
	}
	s.stopSpin(r)
	s.log.Debug("game room dropped", zap.String("coupleId", coupleID))
}

// Close cancels every pending spin and waits for running spin callbacks.
func (s *Service) Close() {
	s.cancel()
	s.rooms.Range(func(coupleID string, r *room) bool {
		s.stopSpin(r)
		s.rooms.Delete(coupleID)
		return true
	})
	s.wg.Wait()
}

func (s *Service) stopSpin(r *room) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.spin == nil {
		return
	}
	if r.spin.Stop() {
		s.wg.Done()
	}
	r.spin = nil
}
