package stream

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/satindergrewal/metronome/internal/audio"
	"gopkg.in/hraban/opus.v2"
)

// DefaultOpusBitrate keeps click transients crisp without wasting bandwidth.
const DefaultOpusBitrate = 64000

// clickCodec is the only codec offered: stereo Opus at the engine rate,
// with 10ms minimum packets so a click is never held back by packetization.
var clickCodec = webrtc.RTPCodecParameters{
	RTPCodecCapability: webrtc.RTPCodecCapability{
		MimeType:    webrtc.MimeTypeOpus,
		ClockRate:   audio.SampleRate,
		Channels:    audio.Channels,
		SDPFmtpLine: "minptime=10;useinbandfec=1;stereo=1",
	},
	PayloadType: 111,
}

// WebRTCHandler serves SDP negotiation for low-latency Opus monitoring of
// the click track. Every peer gets its own broadcaster listener and encoder.
type WebRTCHandler struct {
	broadcaster *Broadcaster
	bitrate     int
	api         *webrtc.API

	mu    sync.Mutex
	peers map[*monitor]struct{}
}

// monitor is one connected browser.
type monitor struct {
	pc    *webrtc.PeerConnection
	track *webrtc.TrackLocalStaticSample
	gone  chan struct{}
	once  sync.Once
}

func (m *monitor) close() {
	first := false
	m.once.Do(func() {
		close(m.gone)
		first = true
	})
	if first {
		m.pc.Close()
	}
}

// NewWebRTCHandler creates a WebRTC stream handler. A non-positive bitrate
// uses DefaultOpusBitrate.
func NewWebRTCHandler(b *Broadcaster, bitrate int) *WebRTCHandler {
	if bitrate <= 0 {
		bitrate = DefaultOpusBitrate
	}
	return &WebRTCHandler{
		broadcaster: b,
		bitrate:     bitrate,
		api:         newClickAPI(),
		peers:       make(map[*monitor]struct{}),
	}
}

func newClickAPI() *webrtc.API {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(clickCodec, webrtc.RTPCodecTypeAudio); err != nil {
		log.Printf("WebRTC: register opus codec: %v, using defaults", err)
		return webrtc.NewAPI()
	}
	return webrtc.NewAPI(webrtc.WithMediaEngine(m))
}

// PeerCount returns the number of active WebRTC peers.
func (h *WebRTCHandler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// Close disconnects every peer.
func (h *WebRTCHandler) Close() {
	h.mu.Lock()
	peers := make([]*monitor, 0, len(h.peers))
	for m := range h.peers {
		peers = append(peers, m)
	}
	h.peers = make(map[*monitor]struct{})
	h.mu.Unlock()

	for _, m := range peers {
		m.close()
	}
}

// negotiateError carries the HTTP status for a failed negotiation step.
type negotiateError struct {
	code int
	step string
	err  error
}

func (e *negotiateError) Error() string {
	return fmt.Sprintf("%s: %v", e.step, e.err)
}

func (h *WebRTCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Methods", "POST")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return
	}

	m, err := h.negotiate(offer)
	if err != nil {
		log.Printf("WebRTC: %v", err)
		code := http.StatusInternalServerError
		if ne, ok := err.(*negotiateError); ok {
			code = ne.code
		}
		http.Error(w, err.Error(), code)
		return
	}

	h.mu.Lock()
	h.peers[m] = struct{}{}
	total := len(h.peers)
	h.mu.Unlock()
	log.Printf("WebRTC monitor connected (total: %d)", total)

	go h.streamTo(m)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m.pc.LocalDescription())
}

// negotiate answers offer with a send-only click track and waits for ICE
// gathering so the answer needs no trickle.
func (h *WebRTCHandler) negotiate(offer webrtc.SessionDescription) (*monitor, error) {
	pc, err := h.api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, &negotiateError{http.StatusInternalServerError, "create peer connection", err}
	}
	fail := func(code int, step string, err error) (*monitor, error) {
		pc.Close()
		return nil, &negotiateError{code, step, err}
	}

	track, err := webrtc.NewTrackLocalStaticSample(clickCodec.RTPCodecCapability, "click", "metronome")
	if err != nil {
		return fail(http.StatusInternalServerError, "create click track", err)
	}
	if _, err := pc.AddTransceiverFromTrack(track, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendonly,
	}); err != nil {
		return fail(http.StatusInternalServerError, "add click track", err)
	}
	if err := pc.SetRemoteDescription(offer); err != nil {
		return fail(http.StatusBadRequest, "set remote description", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fail(http.StatusBadRequest, "create answer", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return fail(http.StatusInternalServerError, "set local description", err)
	}
	<-gathered

	m := &monitor{pc: pc, track: track, gone: make(chan struct{})}
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed,
			webrtc.PeerConnectionStateDisconnected:
			h.drop(m)
		}
	})
	return m, nil
}

// drop forgets a peer and closes it. Safe to call more than once.
func (h *WebRTCHandler) drop(m *monitor) {
	h.mu.Lock()
	_, ok := h.peers[m]
	delete(h.peers, m)
	remaining := len(h.peers)
	h.mu.Unlock()

	m.close()
	if ok {
		log.Printf("WebRTC monitor disconnected (remaining: %d)", remaining)
	}
}

// streamTo encodes broadcaster frames for one peer until it goes away.
func (h *WebRTCHandler) streamTo(m *monitor) {
	defer h.drop(m)

	listener := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(listener)

	// AppRestrictedLowdelay skips the speech/music analysis lookahead.
	enc, err := opus.NewEncoder(audio.SampleRate, audio.Channels, opus.AppRestrictedLowdelay)
	if err != nil {
		log.Printf("WebRTC: opus encoder error: %v", err)
		return
	}
	if err := enc.SetBitrate(h.bitrate); err != nil {
		log.Printf("WebRTC: opus bitrate %d rejected: %v", h.bitrate, err)
	}

	packet := make([]byte, 4000)
	for {
		select {
		case <-m.gone:
			return
		case <-listener.Done():
			return
		case frame, ok := <-listener.C:
			if !ok {
				return
			}
			n, err := enc.Encode(frame, packet)
			if err != nil {
				log.Printf("WebRTC: opus encode error: %v", err)
				continue
			}
			if err := m.track.WriteSample(media.Sample{Data: packet[:n], Duration: audio.FrameDuration}); err != nil {
				return
			}
		}
	}
}
