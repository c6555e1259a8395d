package peer

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

// SessionState is the lifecycle of one transport session as the negotiator
// sees it.
type SessionState int

const (
	SessionConnecting SessionState = iota
	SessionConnected
	SessionDisconnected
	SessionFailed
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionConnecting:
		return "connecting"
	case SessionConnected:
		return "connected"
	case SessionDisconnected:
		return "disconnected"
	case SessionFailed:
		return "failed"
	case SessionClosed:
		return "closed"
	}
	return fmt.Sprintf("SessionState(%d)", int(s))
}

// transportSession is one media transport attempt. A session is used for one
// negotiation only: on failure or peer departure it is closed and replaced,
// never renegotiated.
type transportSession interface {
	// CreateOffer produces the local session description to send to the peer.
	CreateOffer() (json.RawMessage, error)

	// HandleOffer applies the remote offer and returns the local answer.
	HandleOffer(offer json.RawMessage) (json.RawMessage, error)

	// HandleAnswer applies the remote answer to a sent offer.
	HandleAnswer(answer json.RawMessage) error

	// AddRemoteCandidate applies one remote ICE candidate. Duplicates are
	// harmless.
	AddRemoteCandidate(candidate json.RawMessage) error

	// RelayCandidateGathered reports whether a local relay (TURN) candidate
	// was gathered, for failure diagnostics.
	RelayCandidateGathered() bool

	Close() error
}

// sessionCallbacks are invoked from the transport's own goroutines; the
// negotiator converts them into events on its loop.
type sessionCallbacks struct {
	OnLocalCandidate func(candidate json.RawMessage)
	OnStateChange    func(state SessionState)
}

// sessionFactory builds one transport session per negotiation attempt.
type sessionFactory func(cb sessionCallbacks) (transportSession, error)

// SessionConfig is what the pion-backed factory needs to build sessions.
type SessionConfig struct {
	ICEServers []webrtc.ICEServer

	// Media, when non-nil, contributes local tracks to every session.
	Media MediaSource

	// LoggerFactory routes pion's internal logging; defaults to a slog bridge.
	API *webrtc.API

	Log *slog.Logger
}

// NewSessionFactory returns a factory producing pion-backed sessions.
func NewSessionFactory(cfg SessionConfig) sessionFactory {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	api := cfg.API
	if api == nil {
		se := webrtc.SettingEngine{LoggerFactory: NewLoggerFactory(cfg.Log)}
		api = webrtc.NewAPI(webrtc.WithSettingEngine(se))
	}

	return func(cb sessionCallbacks) (transportSession, error) {
		pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
		if err != nil {
			return nil, fmt.Errorf("new peer connection: %w", err)
		}

		s := &pionSession{pc: pc, log: cfg.Log}

		if cfg.Media != nil {
			for _, track := range cfg.Media.Tracks() {
				if _, err := pc.AddTrack(track); err != nil {
					_ = pc.Close()
					return nil, fmt.Errorf("add track: %w", err)
				}
			}
		} else {
			// A receive-only side still needs media sections in its offer, or
			// the SDP carries no m-lines and can never connect.
			for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
				if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
					Direction: webrtc.RTPTransceiverDirectionRecvonly,
				}); err != nil {
					_ = pc.Close()
					return nil, fmt.Errorf("add %s transceiver: %w", kind, err)
				}
			}
		}

		pc.OnICECandidate(func(c *webrtc.ICECandidate) {
			if c == nil {
				// End of gathering.
				return
			}
			if c.Typ == webrtc.ICECandidateTypeRelay {
				s.relaySeen.Store(true)
			}
			if cb.OnLocalCandidate == nil {
				return
			}
			payload, err := json.Marshal(c.ToJSON())
			if err != nil {
				s.log.Error("encode local candidate", "err", err)
				return
			}
			cb.OnLocalCandidate(payload)
		})

		pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
			if cb.OnStateChange == nil {
				return
			}
			switch state {
			case webrtc.PeerConnectionStateConnected:
				cb.OnStateChange(SessionConnected)
			case webrtc.PeerConnectionStateDisconnected:
				cb.OnStateChange(SessionDisconnected)
			case webrtc.PeerConnectionStateFailed:
				cb.OnStateChange(SessionFailed)
			case webrtc.PeerConnectionStateClosed:
				cb.OnStateChange(SessionClosed)
			}
		})

		return s, nil
	}
}

type pionSession struct {
	pc  *webrtc.PeerConnection
	log *slog.Logger

	relaySeen atomic.Bool
	close     sync.Once
	closeErr  error
}

func (s *pionSession) CreateOffer() (json.RawMessage, error) {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	return json.Marshal(s.pc.LocalDescription())
}

func (s *pionSession) HandleOffer(offer json.RawMessage) (json.RawMessage, error) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(offer, &desc); err != nil {
		return nil, fmt.Errorf("decode offer: %w", err)
	}
	if err := s.pc.SetRemoteDescription(desc); err != nil {
		return nil, fmt.Errorf("set remote description: %w", err)
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	return json.Marshal(s.pc.LocalDescription())
}

func (s *pionSession) HandleAnswer(answer json.RawMessage) error {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(answer, &desc); err != nil {
		return fmt.Errorf("decode answer: %w", err)
	}
	if err := s.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (s *pionSession) AddRemoteCandidate(candidate json.RawMessage) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(candidate, &init); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	if err := s.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add candidate: %w", err)
	}
	return nil
}

func (s *pionSession) RelayCandidateGathered() bool {
	return s.relaySeen.Load()
}

func (s *pionSession) Close() error {
	s.close.Do(func() {
		s.closeErr = s.pc.Close()
	})
	return s.closeErr
}
