package source

import (
	"bufio"
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWebRTC(t *testing.T) {
	tests := []struct {
		uri          string
		wantURL      string
		wantProducer string
		wantErr      bool
	}{
		{uri: "webrtc://robot.local", wantURL: "ws://robot.local:8443"},
		{uri: "webrtc://10.0.0.5:9000?producer=cam", wantURL: "ws://10.0.0.5:9000", wantProducer: "cam"},
		{uri: "webrtc://[::1]/signal", wantURL: "ws://[::1]:8443/signal"},
		{uri: "webrtc://", wantErr: true},
		{uri: "http://robot.local", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.uri, func(t *testing.T) {
			url, producer, err := parseWebRTC(tc.uri)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantURL, url)
			assert.Equal(t, tc.wantProducer, producer)
		})
	}
}

func TestPickProducer(t *testing.T) {
	producers := []producerInfo{
		{ID: "a", Meta: map[string]string{"name": "front"}},
		{ID: "b", Meta: map[string]string{"name": "rear"}},
		{ID: "c"},
	}

	id, err := pickProducer(producers, "")
	require.NoError(t, err)
	assert.Equal(t, "a", id)

	id, err = pickProducer(producers, "rear")
	require.NoError(t, err)
	assert.Equal(t, "b", id)

	_, err = pickProducer(producers, "top")
	assert.ErrorContains(t, err, `producer "top" not found`)

	_, err = pickProducer(nil, "")
	assert.Error(t, err)
}

func TestSplitJPEG(t *testing.T) {
	img1 := []byte{0xFF, 0xD8, 0x01, 0x02, 0xFF, 0x00, 0xFF, 0xD9}
	img2 := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x10, 0xFF, 0xD9}
	var stream []byte
	stream = append(stream, 0x00, 0xFF)
	stream = append(stream, img1...)
	stream = append(stream, 0x42, 0x42)
	stream = append(stream, img2...)
	stream = append(stream, 0xFF, 0xD8, 0x07) // truncated

	// One byte at a time exercises every partial-marker path.
	sc := bufio.NewScanner(iotest.OneByteReader(bytes.NewReader(stream)))
	sc.Split(splitJPEG)

	var got [][]byte
	for sc.Scan() {
		got = append(got, append([]byte(nil), sc.Bytes()...))
	}
	require.NoError(t, sc.Err())
	require.Len(t, got, 2)
	assert.Equal(t, img1, got[0])
	assert.Equal(t, img2, got[1])
}

// signallingServer answers welcome and list, then idles.
func signallingServer(t *testing.T, first string, producers []producerInfo) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.WriteJSON(signalMessage{Type: first, PeerID: "peer-1"})
		var req signalMessage
		if err := conn.ReadJSON(&req); err != nil || req.Type != "list" {
			return
		}
		conn.WriteJSON(signalMessage{Type: "list", Producers: producers})
		conn.ReadMessage()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenWebRTC_SignallingErrors(t *testing.T) {
	cameras := []producerInfo{{ID: "p1", Meta: map[string]string{"name": "front"}}}

	tests := []struct {
		name      string
		first     string
		producers []producerInfo
		query     string
		wantErr   string
	}{
		{name: "no welcome", first: "list", wantErr: "expected welcome"},
		{name: "unknown producer", first: "welcome", producers: cameras, query: "?producer=rear", wantErr: `producer "rear" not found`},
		{name: "no producers", first: "welcome", wantErr: "no producers"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := signallingServer(t, tc.first, tc.producers)
			uri := "webrtc://" + strings.TrimPrefix(srv.URL, "http://") + tc.query

			cfg := DefaultConfig()
			cfg.ConnectTimeout = 2 * time.Second
			_, err := OpenWebRTC(uri, cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestOpenWebRTC_Unreachable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConnectTimeout = 500 * time.Millisecond
	_, err := Open("webrtc://127.0.0.1:1", cfg)
	assert.Error(t, err)
}
