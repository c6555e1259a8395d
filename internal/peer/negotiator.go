// Package peer implements the client side of the signaling protocol: the
// room link, the negotiation state machine, and the pion-backed media
// transport sessions it drives.
package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/screenlink/signaling/internal/protocol"
)

// State is the negotiator's connection lifecycle.
type State int

const (
	// StateIdle precedes the join.
	StateIdle State = iota
	// StateConnecting means joined and waiting for a peer (or its offer).
	StateConnecting
	// StateNegotiating means an offer/answer exchange is in flight.
	StateNegotiating
	// StateConnected means the media transport is established.
	StateConnected
	// StateFailed means the last transport attempt failed; a fresh attempt
	// starts when the peer reappears or re-offers.
	StateFailed
	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	// ErrRelayUnreachable diagnoses a transport failure where TURN was
	// configured but no relay candidate was ever gathered, which usually
	// means the relay is down or blocked.
	ErrRelayUnreachable = errors.New("transport failed without gathering a relay candidate")

	// ErrTransportFailed is a transport failure with no more specific cause.
	ErrTransportFailed = errors.New("transport failed")
)

// Sender delivers signaling messages to the server.
type Sender interface {
	Send(msg *protocol.Message) error
}

// DefaultICEWarmupDelay gives local ICE gathering a head start before the
// offer is created, so the first candidates ride close behind it.
const DefaultICEWarmupDelay = 100 * time.Millisecond

type NegotiatorConfig struct {
	RoomID string
	UserID string

	Link       Sender
	NewSession sessionFactory

	// ICEWarmupDelay overrides DefaultICEWarmupDelay when positive.
	ICEWarmupDelay time.Duration

	// TURNConfigured enables the relay-unreachable failure diagnostic.
	TURNConfigured bool

	// OnStateChange, when set, observes every transition. err is non-nil only
	// for StateFailed.
	OnStateChange func(state State, err error)

	Log *slog.Logger
}

// Negotiator drives one participant's negotiation with whichever peer shares
// its room. All state lives on a single event loop; transport and timer
// callbacks post onto it, so no field needs locking beyond the state
// snapshot.
type Negotiator struct {
	cfg NegotiatorConfig
	log *slog.Logger

	events chan func()
	done   chan struct{}

	// Loop-owned state.
	session       transportSession
	sessionGen    int
	buffer        candidateBuffer
	remoteDescSet bool
	peerID        string

	mu    sync.Mutex
	state State
}

func NewNegotiator(cfg NegotiatorConfig) (*Negotiator, error) {
	if cfg.RoomID == "" || cfg.UserID == "" {
		return nil, errors.New("RoomID and UserID are required")
	}
	if cfg.Link == nil {
		return nil, errors.New("Link is required")
	}
	if cfg.NewSession == nil {
		return nil, errors.New("NewSession is required")
	}
	if cfg.ICEWarmupDelay <= 0 {
		cfg.ICEWarmupDelay = DefaultICEWarmupDelay
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Negotiator{
		cfg:    cfg,
		log:    cfg.Log.With("room", cfg.RoomID, "user", cfg.UserID),
		events: make(chan func(), 16),
		done:   make(chan struct{}),
		state:  StateIdle,
	}, nil
}

// State returns the current lifecycle state.
func (n *Negotiator) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

func (n *Negotiator) setState(state State, err error) {
	n.mu.Lock()
	prev := n.state
	n.state = state
	n.mu.Unlock()

	if prev != state {
		if err != nil {
			n.log.Warn("state change", "from", prev, "to", state, "err", err)
		} else {
			n.log.Info("state change", "from", prev, "to", state)
		}
		if n.cfg.OnStateChange != nil {
			n.cfg.OnStateChange(state, err)
		}
	}
}

// post schedules fn on the event loop; it is safe from any goroutine and
// becomes a no-op once the loop has exited.
func (n *Negotiator) post(fn func()) {
	select {
	case n.events <- fn:
	case <-n.done:
	}
}

// Run joins the room and processes signaling until ctx is cancelled or msgs
// closes (the link went away). It must be called once.
func (n *Negotiator) Run(ctx context.Context, msgs <-chan *protocol.Message) error {
	defer close(n.done)
	defer n.teardownSession()
	defer n.setState(StateClosed, nil)

	if err := n.send(&protocol.Message{Type: protocol.KindJoin, RoomID: n.cfg.RoomID, UserID: n.cfg.UserID}); err != nil {
		return fmt.Errorf("join: %w", err)
	}
	n.setState(StateConnecting, nil)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-n.events:
			fn()
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("signaling link closed")
			}
			n.handleSignal(msg)
		}
	}
}

func (n *Negotiator) handleSignal(msg *protocol.Message) {
	switch msg.Type {
	case protocol.KindRoomUsers:
		// Reply to the join. A peer already present will offer to us once it
		// sees our arrival; nothing to initiate from this side.
		if len(msg.Users) > 0 {
			n.peerID = msg.Users[0]
			n.log.Info("peer already in room", "peer", n.peerID)
		}

	case protocol.KindUserJoined:
		n.peerID = msg.UserID
		n.log.Info("peer joined", "peer", n.peerID)
		n.startOffer()

	case protocol.KindUserLeft:
		n.log.Info("peer left", "peer", msg.UserID)
		n.peerID = ""
		n.teardownSession()
		n.setState(StateConnecting, nil)

	case protocol.KindOffer:
		n.handleOffer(msg.Offer)

	case protocol.KindAnswer:
		n.handleAnswer(msg.Answer)

	case protocol.KindICECandidate:
		n.handleRemoteCandidate(msg.Candidate)

	case protocol.KindPong:
		// Keepalive reply; the link already accounts for it.

	case protocol.KindError:
		n.fail(fmt.Errorf("server rejected session: %s", msg.Message))

	default:
		n.log.Warn("ignoring unexpected signal", "type", msg.Type)
	}
}

// startOffer begins a fresh transport attempt as the offering side. Any
// previous session is discarded, never reused.
func (n *Negotiator) startOffer() {
	if err := n.resetSession(); err != nil {
		n.fail(err)
		return
	}
	n.setState(StateNegotiating, nil)

	// Let gathering warm up before the offer so early candidates trickle
	// right behind it.
	gen := n.sessionGen
	time.AfterFunc(n.cfg.ICEWarmupDelay, func() {
		n.post(func() {
			if gen != n.sessionGen || n.session == nil {
				return
			}
			offer, err := n.session.CreateOffer()
			if err != nil {
				n.fail(err)
				return
			}
			n.sendRelayed(&protocol.Message{Type: protocol.KindOffer, Offer: offer})
		})
	})
}

func (n *Negotiator) handleOffer(offer json.RawMessage) {
	// An offer always begins a fresh attempt, including a peer retrying after
	// a failure.
	if err := n.resetSession(); err != nil {
		n.fail(err)
		return
	}
	n.setState(StateNegotiating, nil)

	answer, err := n.session.HandleOffer(offer)
	if err != nil {
		n.fail(fmt.Errorf("handle offer: %w", err))
		return
	}
	// The remote description is in place; apply held candidates before the
	// answer goes out.
	n.remoteDescSet = true
	n.drainCandidates()
	n.sendRelayed(&protocol.Message{Type: protocol.KindAnswer, Answer: answer})
}

func (n *Negotiator) handleAnswer(answer json.RawMessage) {
	if n.session == nil {
		n.log.Warn("dropping answer with no session")
		return
	}
	if n.remoteDescSet {
		// A duplicate or stale answer after negotiation settled. Applying it
		// would disturb the stable session over a redundant frame; absorb it.
		n.log.Warn("dropping redundant answer")
		return
	}
	if err := n.session.HandleAnswer(answer); err != nil {
		n.fail(fmt.Errorf("handle answer: %w", err))
		return
	}
	n.remoteDescSet = true
	n.drainCandidates()
}

func (n *Negotiator) handleRemoteCandidate(candidate json.RawMessage) {
	if !n.remoteDescSet {
		n.buffer.Add(candidate)
		n.log.Debug("buffered remote candidate", "pending", n.buffer.Len())
		return
	}
	if n.session == nil {
		return
	}
	if err := n.session.AddRemoteCandidate(candidate); err != nil {
		// Duplicate or late candidates are not fatal.
		n.log.Warn("apply remote candidate", "err", err)
	}
}

func (n *Negotiator) drainCandidates() {
	for _, candidate := range n.buffer.Drain() {
		if err := n.session.AddRemoteCandidate(candidate); err != nil {
			n.log.Warn("apply buffered candidate", "err", err)
		}
	}
}

// resetSession closes any current session and builds a fresh one with
// callbacks bound to its generation, so a stale session's events are ignored.
func (n *Negotiator) resetSession() error {
	n.teardownSession()

	n.sessionGen++
	gen := n.sessionGen

	session, err := n.cfg.NewSession(sessionCallbacks{
		OnLocalCandidate: func(candidate json.RawMessage) {
			n.post(func() {
				if gen != n.sessionGen {
					return
				}
				n.sendRelayed(&protocol.Message{Type: protocol.KindICECandidate, Candidate: candidate})
			})
		},
		OnStateChange: func(state SessionState) {
			n.post(func() {
				if gen != n.sessionGen {
					return
				}
				n.handleSessionState(state)
			})
		},
	})
	if err != nil {
		return fmt.Errorf("new session: %w", err)
	}
	n.session = session
	return nil
}

func (n *Negotiator) handleSessionState(state SessionState) {
	switch state {
	case SessionConnected:
		n.setState(StateConnected, nil)
	case SessionDisconnected:
		// Often transient (a route change); the transport recovers or moves
		// to failed on its own.
		n.log.Warn("transport disconnected")
	case SessionFailed:
		err := ErrTransportFailed
		if n.cfg.TURNConfigured && n.session != nil && !n.session.RelayCandidateGathered() {
			err = ErrRelayUnreachable
		}
		n.teardownSession()
		n.fail(err)
	case SessionClosed:
	}
}

func (n *Negotiator) teardownSession() {
	if n.session == nil {
		return
	}
	if err := n.session.Close(); err != nil {
		n.log.Warn("close session", "err", err)
	}
	n.session = nil
	n.sessionGen++
	n.buffer.Reset()
	n.remoteDescSet = false
}

func (n *Negotiator) fail(err error) {
	n.teardownSession()
	n.setState(StateFailed, err)
}

func (n *Negotiator) sendRelayed(msg *protocol.Message) {
	msg.RoomID = n.cfg.RoomID
	msg.UserID = n.cfg.UserID
	if err := n.send(msg); err != nil {
		n.log.Warn("send signaling message", "type", msg.Type, "err", err)
	}
}

func (n *Negotiator) send(msg *protocol.Message) error {
	return n.cfg.Link.Send(msg)
}
