package source

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/rtcp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v3"
	"github.com/teslashibe/go-planar/internal/log"
	"gocv.io/x/gocv"
)

const (
	webrtcScheme = "webrtc"

	// DefaultSignallingPort is where gst-plugins-rs webrtcsink serves its
	// signalling websocket.
	DefaultSignallingPort = "8443"
)

// signalMessage is the JSON envelope of the webrtcsink signalling protocol.
type signalMessage struct {
	Type      string         `json:"type"`
	PeerID    string         `json:"peerId,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
	Producers []producerInfo `json:"producers,omitempty"`
	SDP       *sdpPayload    `json:"sdp,omitempty"`
	ICE       *icePayload    `json:"ice,omitempty"`
	Details   string         `json:"details,omitempty"`
}

type producerInfo struct {
	ID   string            `json:"id"`
	Meta map[string]string `json:"meta"`
}

type sdpPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type icePayload struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
}

// WebRTC receives H264 video from a webrtcsink producer and decodes it
// with ffmpeg.
type WebRTC struct {
	name       string
	signalling string
	producer   string // Wanted meta name, empty for the first producer
	timeout    time.Duration

	wsMu sync.Mutex
	ws   *websocket.Conn
	pc   *webrtc.PeerConnection

	mu        sync.Mutex
	sessionID string

	dec       *h264Decoder
	track     chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// OpenWebRTC connects to the signalling server named by a
// webrtc://host[:port][/path][?producer=name] uri and waits for a video
// track. It fails if none arrives within cfg.ConnectTimeout.
func OpenWebRTC(uri string, cfg Config) (*WebRTC, error) {
	signalling, producer, err := parseWebRTC(uri)
	if err != nil {
		return nil, err
	}

	timeout := cfg.ConnectTimeout
	if timeout == 0 {
		timeout = DefaultConnectTimeout
	}

	w := &WebRTC{
		name:       uri,
		signalling: signalling,
		producer:   producer,
		timeout:    timeout,
		track:      make(chan struct{}, 1),
		done:       make(chan struct{}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := w.connect(ctx); err != nil {
		w.Close()
		return nil, fmt.Errorf("source: webrtc %s: %w", signalling, err)
	}
	return w, nil
}

// parseWebRTC maps a webrtc:// uri to its signalling URL and producer name.
func parseWebRTC(uri string) (signalling, producer string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("source: %w", err)
	}
	if u.Scheme != webrtcScheme || u.Hostname() == "" {
		return "", "", fmt.Errorf("source: not a webrtc uri: %q", uri)
	}

	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), DefaultSignallingPort)
	}
	return "ws://" + host + u.Path, u.Query().Get("producer"), nil
}

func (w *WebRTC) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: w.timeout}
	ws, _, err := dialer.DialContext(ctx, w.signalling, nil)
	if err != nil {
		return fmt.Errorf("signalling connect: %w", err)
	}
	w.ws = ws

	if deadline, ok := ctx.Deadline(); ok {
		ws.SetReadDeadline(deadline)
	}
	peerID, err := w.welcome()
	if err != nil {
		return err
	}
	producerID, err := w.findProducer()
	if err != nil {
		return err
	}
	ws.SetReadDeadline(time.Time{})
	log.Debug("webrtc signalling ready", "peer", peerID, "producer", producerID)

	if w.dec, err = newH264Decoder(3); err != nil {
		return err
	}
	if err := w.newPeerConnection(); err != nil {
		return fmt.Errorf("peer connection: %w", err)
	}
	if err := w.send(signalMessage{Type: "startSession", PeerID: producerID}); err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	go w.handleSignalling()

	select {
	case <-w.track:
		log.Info("webrtc video connected", "source", w.name)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("no video track: %w", ctx.Err())
	}
}

func (w *WebRTC) welcome() (string, error) {
	var msg signalMessage
	if err := w.ws.ReadJSON(&msg); err != nil {
		return "", fmt.Errorf("welcome: %w", err)
	}
	if msg.Type != "welcome" {
		return "", fmt.Errorf("expected welcome, got %q", msg.Type)
	}
	return msg.PeerID, nil
}

func (w *WebRTC) findProducer() (string, error) {
	if err := w.send(signalMessage{Type: "list"}); err != nil {
		return "", err
	}

	var msg signalMessage
	if err := w.ws.ReadJSON(&msg); err != nil {
		return "", fmt.Errorf("list producers: %w", err)
	}
	if msg.Type != "list" {
		return "", fmt.Errorf("expected list, got %q", msg.Type)
	}
	return pickProducer(msg.Producers, w.producer)
}

// pickProducer returns the ID of the producer whose meta name is name, or
// of the first producer when name is empty.
func pickProducer(producers []producerInfo, name string) (string, error) {
	for _, p := range producers {
		if name == "" || p.Meta["name"] == name {
			return p.ID, nil
		}
	}
	if name == "" {
		return "", fmt.Errorf("no producers")
	}
	return "", fmt.Errorf("producer %q not found in %d producers", name, len(producers))
}

func (w *WebRTC) newPeerConnection() error {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return err
	}
	w.pc = pc

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return err
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		mime := track.Codec().MimeType
		if track.Kind() != webrtc.RTPCodecTypeVideo || !strings.EqualFold(mime, webrtc.MimeTypeH264) {
			log.Warn("ignoring webrtc track", "kind", track.Kind().String(), "codec", mime)
			return
		}
		go w.readTrack(track)
	})

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil {
			w.sendICE(c)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debug("webrtc connection state", "state", state.String())
		if state == webrtc.PeerConnectionStateFailed {
			w.dec.CloseInput()
		}
	})

	return nil
}

func (w *WebRTC) handleSignalling() {
	for {
		var msg signalMessage
		if err := w.ws.ReadJSON(&msg); err != nil {
			if !w.closed() {
				log.Warn("webrtc signalling lost", "err", err)
			}
			return
		}

		switch msg.Type {
		case "sessionStarted":
			w.mu.Lock()
			w.sessionID = msg.SessionID
			w.mu.Unlock()
		case "peer":
			w.handlePeer(msg)
		case "endSession":
			log.Info("webrtc session ended by producer")
			w.dec.CloseInput()
			return
		case "error":
			log.Warn("webrtc signalling error", "details", msg.Details)
		}
	}
}

func (w *WebRTC) handlePeer(msg signalMessage) {
	if msg.SDP != nil && msg.SDP.Type == "offer" {
		offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDP.SDP}
		if err := w.pc.SetRemoteDescription(offer); err != nil {
			log.Warn("webrtc remote description", "err", err)
			return
		}
		answer, err := w.pc.CreateAnswer(nil)
		if err != nil {
			log.Warn("webrtc answer", "err", err)
			return
		}
		if err := w.pc.SetLocalDescription(answer); err != nil {
			log.Warn("webrtc local description", "err", err)
			return
		}
		w.send(signalMessage{
			Type:      "peer",
			SessionID: w.session(),
			SDP:       &sdpPayload{Type: answer.Type.String(), SDP: answer.SDP},
		})
	}

	if msg.ICE != nil {
		if err := w.pc.AddICECandidate(webrtc.ICECandidateInit{
			Candidate:     msg.ICE.Candidate,
			SDPMid:        msg.ICE.SDPMid,
			SDPMLineIndex: msg.ICE.SDPMLineIndex,
		}); err != nil {
			log.Debug("webrtc ice candidate rejected", "err", err)
		}
	}
}

func (w *WebRTC) sendICE(c *webrtc.ICECandidate) {
	sid := w.session()
	if sid == "" {
		return
	}
	init := c.ToJSON()
	w.send(signalMessage{
		Type:      "peer",
		SessionID: sid,
		ICE: &icePayload{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		},
	})
}

// readTrack depacketizes RTP into Annex-B NAL units for the decoder.
func (w *WebRTC) readTrack(track *webrtc.TrackRemote) {
	select {
	case w.track <- struct{}{}:
	default:
	}

	// Ask for a keyframe so decoding starts without waiting a full GOP.
	if err := w.pc.WriteRTCP([]rtcp.Packet{
		&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())},
	}); err != nil {
		log.Debug("webrtc keyframe request", "err", err)
	}

	var depacketizer codecs.H264Packet
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			w.dec.CloseInput()
			return
		}

		nal, err := depacketizer.Unmarshal(pkt.Payload)
		if err != nil {
			log.Debug("webrtc rtp payload", "err", err)
			continue
		}
		// FU-A fragments yield nothing until the last one.
		if len(nal) == 0 {
			continue
		}
		if err := w.dec.Write(nal); err != nil {
			return
		}
	}
}

func (w *WebRTC) send(msg signalMessage) error {
	w.wsMu.Lock()
	defer w.wsMu.Unlock()
	return w.ws.WriteJSON(msg)
}

func (w *WebRTC) session() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sessionID
}

func (w *WebRTC) closed() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// Read waits for the newest decoded frame. It returns ErrEmptyFrame if
// none arrives within the connect timeout and ErrEndOfStream once the
// producer has gone and every buffered frame was read.
func (w *WebRTC) Read(dst *gocv.Mat) error {
	if w.closed() {
		return ErrClosed
	}

	timer := time.NewTimer(w.timeout)
	defer timer.Stop()

	select {
	case frame := <-w.dec.frames:
		return decodeFrame(frame, dst)
	case <-w.dec.done:
		select {
		case frame := <-w.dec.frames:
			return decodeFrame(frame, dst)
		default:
			return ErrEndOfStream
		}
	case <-w.done:
		return ErrClosed
	case <-timer.C:
		return ErrEmptyFrame
	}
}

// Name returns the source uri.
func (w *WebRTC) Name() string {
	return w.name
}

// Close tears down the peer connection, signalling and decoder.
func (w *WebRTC) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)
		if w.pc != nil {
			w.pc.Close()
		}
		if w.ws != nil {
			w.wsMu.Lock()
			w.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			w.wsMu.Unlock()
			w.ws.Close()
		}
		if w.dec != nil {
			w.dec.Close()
		}
	})
	return nil
}
