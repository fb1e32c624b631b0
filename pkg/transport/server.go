// Package transport wires the WebSocket and REST surface described in
// spec.md §6 onto pkg/session, pkg/room, pkg/turn and pkg/dispatch. It
// is the only package that serves HTTP and WebSocket endpoints; the
// provider clients under pkg/providers dial out over net/http or
// coder/websocket themselves.
package transport

import (
	"context"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/lokutor-ai/speech-relay/pkg/dispatch"
	"github.com/lokutor-ai/speech-relay/pkg/providers/asr"
	"github.com/lokutor-ai/speech-relay/pkg/providers/mt"
	"github.com/lokutor-ai/speech-relay/pkg/providers/tts"
	"github.com/lokutor-ai/speech-relay/pkg/providers/vad"
	"github.com/lokutor-ai/speech-relay/pkg/relayconfig"
	"github.com/lokutor-ai/speech-relay/pkg/relayerr"
	"github.com/lokutor-ai/speech-relay/pkg/relaylog"
	"github.com/lokutor-ai/speech-relay/pkg/room"
)

// Server holds everything shared across connections: the provider
// handles, the Room registry, a single Dispatcher, and the live
// connection table a Dispatcher Sender needs to resolve a session id
// to an actual socket.
type Server struct {
	cfg relayconfig.Config
	log relaylog.Logger

	registry   *room.Registry
	dispatcher *dispatch.Dispatcher

	asr    asr.Provider
	mt     mt.Provider
	tts    tts.Provider
	newVAD func() vad.Provider

	recordingsDir string
	ttsArchiveDir string

	mu          sync.Mutex
	connections map[string]*connection
}

// connection pairs a live socket with the Room Participant it belongs
// to, if any. Solo sessions have no Participant; sends to them skip
// the socket-open check that SocketOpen would otherwise gate.
type connection struct {
	conn        *websocket.Conn
	participant *room.Participant
}

// NewServer builds a Server. newVAD must return a fresh Provider
// instance per call, since each session owns its own VAD state.
func NewServer(cfg relayconfig.Config, asrP asr.Provider, mtP mt.Provider, ttsP tts.Provider, newVAD func() vad.Provider, log relaylog.Logger, recordingsDir, ttsArchiveDir string) *Server {
	log = relaylog.OrDefault(log)
	s := &Server{
		cfg:           cfg,
		log:           log,
		registry:      room.NewRegistry(),
		asr:           asrP,
		mt:            mtP,
		tts:           ttsP,
		newVAD:        newVAD,
		recordingsDir: recordingsDir,
		ttsArchiveDir: ttsArchiveDir,
		connections:   make(map[string]*connection),
	}
	lockout := time.Duration(cfg.LockoutBufferMS) * time.Millisecond
	s.dispatcher = dispatch.New(asrP, mtP, ttsP, s, log, lockout)

	os.MkdirAll(recordingsDir, 0o755)
	os.MkdirAll(ttsArchiveDir, 0o755)
	return s
}

// Routes registers every endpoint from spec.md §6 on a fresh mux.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHealth)
	mux.HandleFunc("/rooms", s.handleRooms)
	mux.HandleFunc("/recordings", s.handleRecordings)
	mux.HandleFunc("/ws/audio", s.handleAudio)
	mux.HandleFunc("/ws/session", s.handleSession)
	return mux
}

func (s *Server) register(sessionID string, conn *websocket.Conn, p *room.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connections[sessionID] = &connection{conn: conn, participant: p}
}

func (s *Server) unregister(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.connections, sessionID)
}

func (s *Server) lookup(sessionID string) (*connection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connections[sessionID]
	return c, ok
}

// SendJSON implements dispatch.Sender.
func (s *Server) SendJSON(sessionID string, v interface{}) error {
	c, ok := s.lookup(sessionID)
	if !ok {
		return relayerr.ErrSocketClosed
	}
	if c.participant != nil && !c.participant.SocketOpen() {
		return relayerr.ErrSocketClosed
	}
	if err := wsjson.Write(context.Background(), c.conn, v); err != nil {
		if c.participant != nil {
			c.participant.MarkClosed()
		}
		return err
	}
	return nil
}

// SendBinary implements dispatch.Sender.
func (s *Server) SendBinary(sessionID string, data []byte) error {
	c, ok := s.lookup(sessionID)
	if !ok {
		return relayerr.ErrSocketClosed
	}
	if c.participant != nil && !c.participant.SocketOpen() {
		return relayerr.ErrSocketClosed
	}
	if err := c.conn.Write(context.Background(), websocket.MessageBinary, data); err != nil {
		if c.participant != nil {
			c.participant.MarkClosed()
		}
		return err
	}
	return nil
}

// normalizeLanguage coerces v to fallback unless it's one of the three
// codes the wire protocol recognizes (spec.md §6.1).
func normalizeLanguage(v, fallback string) string {
	switch v {
	case "en", "es", "pt":
		return v
	default:
		return fallback
	}
}

// soloLanguage returns v unchanged if it's a recognized code, or ""
// (auto-detect) otherwise — solo mode's coercion rule differs from
// conversation mode's, which always has a concrete fallback language.
func soloLanguage(v string) string {
	switch v {
	case "en", "es", "pt":
		return v
	default:
		return ""
	}
}
