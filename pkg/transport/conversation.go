package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/lokutor-ai/speech-relay/pkg/dispatch"
	"github.com/lokutor-ai/speech-relay/pkg/room"
	"github.com/lokutor-ai/speech-relay/pkg/segment"
	"github.com/lokutor-ai/speech-relay/pkg/session"
	"github.com/lokutor-ai/speech-relay/pkg/wire"
)

// handleSession serves the two-party `/ws/session` endpoint: either a
// create request (room_id absent, my_lang/partner_lang present) or a
// join request (room_id present). Two independent invocations of this
// handler, one per participant, share state only through the Room and
// the Dispatcher (spec.md §4.5, §4.6); there is no precedent for this
// endpoint in the original single-user implementation, so its shape
// follows spec.md §6.1 directly, with the Turn Controller gating logic
// of §4.5 applied around the same Session Pipeline mechanics the solo
// handler uses.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}

	q := r.URL.Query()
	name := q.Get("name")
	if name == "" {
		name = "anonymous"
	}
	roomID := q.Get("room_id")

	var rm *room.Room
	var participant *room.Participant

	if roomID != "" {
		var ok bool
		rm, ok = s.registry.Get(roomID)
		if !ok {
			s.sendAndClose(conn, wire.NewError("room not found"), websocket.StatusNormalClosure)
			return
		}
		participant, err = rm.Join(name, rm.PartnerLanguageHint, uuid.NewString())
		if err != nil {
			s.sendAndClose(conn, wire.NewError("room is full"), websocket.StatusNormalClosure)
			return
		}
	} else {
		myLang := normalizeLanguage(q.Get("my_lang"), "en")
		partnerLang := normalizeLanguage(q.Get("partner_lang"), "es")

		lockout := time.Duration(s.cfg.LockoutBufferMS) * time.Millisecond
		graceA := s.cfg.GraceDuration("a")
		graceB := s.cfg.GraceDuration("b")
		rm = s.registry.Create(lockout, graceA, graceB)
		rm.PartnerLanguageHint = partnerLang
		participant, err = rm.Join(name, myLang, uuid.NewString())
		if err != nil {
			s.sendAndClose(conn, wire.NewError("failed to create room"), websocket.StatusInternalError)
			return
		}
	}

	role := participant.Role
	sessionID := participant.SessionID

	vadProvider := s.newVAD()
	pipeline, err := session.New(participant.Language, s.cfg.SampleRate, s.cfg.ChunkSize, s.cfg.SilenceThresholdMS, vadProvider)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "pipeline init failed")
		return
	}

	s.register(sessionID, conn, participant)

	partner := rm.Partner(role)
	if roomID != "" {
		var partnerName, partnerLang string
		if partner != nil {
			partnerName, partnerLang = partner.Name, partner.Language
		}
		s.SendJSON(sessionID, wire.NewRoomJoined(rm.Code, name, participant.Language, partnerName, partnerLang))
		if partner != nil {
			s.SendJSON(partner.SessionID, wire.NewPartnerJoined(name, participant.Language))
		}
	} else {
		s.SendJSON(sessionID, wire.NewRoomCreated(rm.Code, name, participant.Language, rm.PartnerLanguageHint))
	}

	cs := &convSession{}

	ctx := r.Context()
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			break
		}

		if msgType == websocket.MessageText {
			var in wire.Interrupt
			if json.Unmarshal(data, &in) == nil && in.Type == wire.TypeInterrupt {
				rm.Turn.OnInterrupt(role)
				participant.SetTTSCancelled(true)
			}
			continue
		}

		events, err := pipeline.ProcessChunk(data)
		if err != nil {
			s.log.Warn("conversation decode failed", "session", sessionID, "err", err)
			continue
		}

		for _, ev := range events {
			switch ev.Type {
			case segment.SpeechStart:
				if !rm.Turn.TryStart(role) {
					continue
				}
				cs.beginUtterance()
				s.dispatcher.CancelPartial(sessionID)
			case segment.SpeechEnd:
				if !rm.Turn.OnSpeechEnd(role) {
					continue
				}
				s.dispatcher.CancelPartial(sessionID)
				uid := cs.currentUtteranceID()
				job := dispatch.Job{
					UtteranceID:  uid,
					Final:        true,
					PCM:          ev.UtterancePCM,
					SampleRate:   s.cfg.SampleRate,
					LanguageHint: participant.Language,
					Room:         rm,
					Origin:       participant,
				}
				s.dispatcher.SubmitFinal(ctx, job)
			}
		}

		if rm.Turn.HoldsFloor(role) && pipeline.IsSpeaking() {
			pcm := pipeline.CurrentUtterancePCM()
			if len(pcm) >= s.cfg.SampleRate && cs.tryBeginPartial() {
				uid := cs.currentUtteranceID()
				job := dispatch.Job{
					UtteranceID:        uid,
					Final:              false,
					PCM:                pcm,
					SampleRate:         s.cfg.SampleRate,
					LanguageHint:       participant.Language,
					Room:               rm,
					Origin:             participant,
					CurrentUtteranceID: cs.currentUtteranceID,
					OnComplete:         cs.endPartial,
				}
				s.dispatcher.SubmitPartial(ctx, job)
			}
		}
	}

	conn.Close(websocket.StatusNormalClosure, "")
	s.unregister(sessionID)
	participant.MarkClosed()

	currentPartner := rm.Partner(role)
	empty := rm.Leave(role)
	if currentPartner != nil && currentPartner.SocketOpen() {
		s.SendJSON(currentPartner.SessionID, wire.NewPartnerLeft(name))
	}
	if empty {
		s.registry.Remove(rm.Code)
	}

	pipeline.Close()
	s.archiveRaw(sessionID, pipeline.RawLog())

	s.log.Info("conversation session closed", "session", sessionID, "room", rm.Code, "role", role)
}

func (s *Server) sendAndClose(conn *websocket.Conn, frame wire.ErrorFrame, status websocket.StatusCode) {
	ctx := context.Background()
	b, _ := json.Marshal(frame)
	conn.Write(ctx, websocket.MessageText, b)
	conn.Close(status, "")
}

// convSession is the per-connection state the conversation loop owns
// directly rather than asking the Dispatcher about: the utterance
// counter and the "partial already in flight" gate from spec.md §4.5's
// third bullet.
type convSession struct {
	mu          sync.Mutex
	utteranceID int64
	partialBusy bool
}

func (cs *convSession) beginUtterance() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.utteranceID++
}

func (cs *convSession) currentUtteranceID() int64 {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.utteranceID
}

func (cs *convSession) tryBeginPartial() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.partialBusy {
		return false
	}
	cs.partialBusy = true
	return true
}

func (cs *convSession) endPartial() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.partialBusy = false
}
