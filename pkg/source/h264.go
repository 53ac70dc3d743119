package source

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

// ffmpegPath is the decoder binary looked up on PATH.
var ffmpegPath = "ffmpeg"

// maxJPEGSize bounds one decoded frame.
const maxJPEGSize = 16 << 20

var errDecoderClosed = errors.New("source: h264 decoder closed")

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// h264Decoder pipes an Annex-B H264 stream through one long-running ffmpeg
// process and yields decoded frames as JPEG. Only the newest frame is
// kept; a slow reader skips frames instead of stalling the stream.
type h264Decoder struct {
	cmd *exec.Cmd

	mu    sync.Mutex
	stdin io.WriteCloser

	frames chan []byte
	done   chan struct{} // closed once ffmpeg exits
}

func newH264Decoder(quality int) (*h264Decoder, error) {
	cmd := exec.Command(ffmpegPath,
		"-hide_banner", "-loglevel", "error",
		"-fflags", "nobuffer", "-flags", "low_delay",
		"-f", "h264", "-i", "pipe:0",
		"-f", "image2pipe", "-vcodec", "mjpeg",
		"-q:v", strconv.Itoa(quality),
		"pipe:1",
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("source: ffmpeg stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("source: ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("source: start ffmpeg: %w", err)
	}

	d := &h264Decoder{
		cmd:    cmd,
		stdin:  stdin,
		frames: make(chan []byte, 1),
		done:   make(chan struct{}),
	}
	go d.readFrames(stdout)
	return d, nil
}

func (d *h264Decoder) readFrames(r io.Reader) {
	defer close(d.done)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 256<<10), maxJPEGSize)
	sc.Split(splitJPEG)
	for sc.Scan() {
		frame := append([]byte(nil), sc.Bytes()...)
		select {
		case <-d.frames:
		default:
		}
		d.frames <- frame
	}
	if sc.Err() != nil {
		d.cmd.Process.Kill()
	}
	d.cmd.Wait()
}

// Write feeds Annex-B NAL units to the decoder.
func (d *h264Decoder) Write(nal []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stdin == nil {
		return errDecoderClosed
	}
	_, err := d.stdin.Write(nal)
	return err
}

// CloseInput ends the stream. Frames ffmpeg still holds are flushed.
func (d *h264Decoder) CloseInput() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stdin != nil {
		d.stdin.Close()
		d.stdin = nil
	}
}

// Close ends the stream and waits briefly for ffmpeg to exit.
func (d *h264Decoder) Close() {
	d.CloseInput()
	select {
	case <-d.done:
	case <-time.After(time.Second):
		d.cmd.Process.Kill()
		<-d.done
	}
}

// splitJPEG is a bufio.SplitFunc yielding whole JPEG images, SOI to EOI.
// Bytes outside an image are dropped. ffmpeg's mjpeg encoder writes no
// embedded thumbnails, so the first EOI ends the image.
func splitJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.Index(data, jpegSOI)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// Keep a trailing 0xFF; it may start the next SOI.
		if len(data) > 1 {
			return len(data) - 1, nil, nil
		}
		return 0, nil, nil
	}

	end := bytes.Index(data[start+len(jpegSOI):], jpegEOI)
	if end < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		return start, nil, nil
	}
	end += start + len(jpegSOI) + len(jpegEOI)
	return end, data[start:end], nil
}
