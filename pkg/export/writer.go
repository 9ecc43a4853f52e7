package export

import (
	"bytes"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
)

// EncodeOptions configure the video encoder.
type EncodeOptions struct {
	Codec  string // default libx264
	CRF    int    // 0-51, lower is higher quality, default 18
	Preset string // ultrafast..veryslow, default medium
}

func (o EncodeOptions) withDefaults() EncodeOptions {
	if o.Codec == "" {
		o.Codec = "libx264"
	}
	if o.CRF == 0 {
		o.CRF = 18
	}
	if o.Preset == "" {
		o.Preset = "medium"
	}
	return o
}

// VideoWriter encodes raw RGB frames into a video file by piping them into
// an ffmpeg child process.
type VideoWriter struct {
	log        logs.Log
	width      int
	height     int
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	stderr     bytes.Buffer
	frameCount int
}

func NewVideoWriter(log logs.Log, outputPath string, width, height int, fps float64, opts EncodeOptions) (*VideoWriter, error) {
	opts = opts.withDefaults()
	cmd := exec.Command("ffmpeg",
		"-y",
		"-f", "rawvideo",
		"-vcodec", "rawvideo",
		"-s", fmt.Sprintf("%vx%v", width, height),
		"-pix_fmt", "rgb24",
		"-r", strconv.FormatFloat(fps, 'f', -1, 64),
		"-i", "-",
		"-c:v", opts.Codec,
		"-crf", strconv.Itoa(opts.CRF),
		"-preset", opts.Preset,
		"-pix_fmt", "yuv420p",
		outputPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	w := &VideoWriter{
		log:    log,
		width:  width,
		height: height,
		cmd:    cmd,
		stdin:  stdin,
	}
	cmd.Stderr = &w.stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("Failed to start ffmpeg encoder: %w", err)
	}
	log.Infof("Encoding %vx%v video at %.3f FPS to %v (%v crf %v preset %v)", width, height, fps, outputPath, opts.Codec, opts.CRF, opts.Preset)
	return w, nil
}

// Write sends one frame to the encoder. Frames of the wrong size are
// resized to the writer's dimensions.
func (w *VideoWriter) Write(frame *cimg.Image) error {
	if frame.Width != w.width || frame.Height != w.height {
		frame = cimg.ResizeNew(frame, w.width, w.height, nil)
	}
	nchan := frame.NChan()
	rowBytes := frame.Width * nchan
	for y := 0; y < frame.Height; y++ {
		if _, err := w.stdin.Write(frame.Pixels[y*frame.Stride : y*frame.Stride+rowBytes]); err != nil {
			return w.pipeError(err)
		}
	}
	w.frameCount++
	return nil
}

// FrameCount returns the number of frames written so far.
func (w *VideoWriter) FrameCount() int {
	return w.frameCount
}

// Close flushes the stream and waits for the encoder to finish.
func (w *VideoWriter) Close() error {
	if w.cmd == nil {
		return nil
	}
	w.stdin.Close()
	err := w.cmd.Wait()
	w.cmd = nil
	if err != nil {
		return w.encodeError(err)
	}
	w.log.Infof("Encoded %v frames", w.frameCount)
	return nil
}

// pipeError translates a broken pipe into the encoder's stderr, which holds
// the actual reason ffmpeg quit.
func (w *VideoWriter) pipeError(err error) error {
	if w.cmd != nil {
		w.stdin.Close()
		werr := w.cmd.Wait()
		w.cmd = nil
		if werr != nil {
			return w.encodeError(werr)
		}
	}
	return fmt.Errorf("Failed to write frame to encoder: %w", err)
}

func (w *VideoWriter) encodeError(err error) error {
	if msg := strings.TrimSpace(w.stderr.String()); msg != "" {
		return fmt.Errorf("ffmpeg encode failed: %v", msg)
	}
	return fmt.Errorf("ffmpeg encode failed: %w", err)
}

// MuxAudio copies the video stream of videoPath and the audio stream of
// audioSourcePath (if any) into outputPath. The video is not re-encoded.
func MuxAudio(log logs.Log, videoPath, audioSourcePath, outputPath string) error {
	cmd := exec.Command("ffmpeg",
		"-y",
		"-i", videoPath,
		"-i", audioSourcePath,
		"-c:v", "copy",
		"-c:a", "aac",
		"-map", "0:v:0",
		"-map", "1:a:0?",
		"-shortest",
		outputPath)
	stderr := bytes.Buffer{}
	cmd.Stderr = &stderr
	log.Infof("Muxing audio from %v into %v", audioSourcePath, outputPath)
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("ffmpeg audio mux failed: %v", msg)
		}
		return fmt.Errorf("ffmpeg audio mux failed: %w", err)
	}
	return nil
}
