package export

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/bmharper/cimg/v2"
)

// VideoInfo describes the stream that a FrameSource produces.
type VideoInfo struct {
	Width  int
	Height int
	FPS    float64
	// FrameCount is the total number of frames, or 0 when unknown.
	FrameCount int
}

// FrameSource produces decoded RGB frames in presentation order.
type FrameSource interface {
	Info() VideoInfo
	// Next returns the next frame and its frame number. It returns io.EOF
	// when the stream is exhausted. Sources are not restartable.
	Next() (frameNumber int, frame *cimg.Image, err error)
	Close() error
}

// FrameSink consumes processed frames.
type FrameSink interface {
	Write(frame *cimg.Image) error
	Close() error
}

// CheckFFmpeg returns an error if ffmpeg is not on the PATH.
func CheckFFmpeg() error {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("ffmpeg not found. Install ffmpeg and make sure it is on the PATH: %w", err)
	}
	return nil
}

// ProbeVideo reads the dimensions, frame rate and frame count of the first
// video stream of a file, using ffprobe.
func ProbeVideo(path string) (VideoInfo, error) {
	cmd := exec.Command("ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-count_packets",
		"-show_entries", "stream=width,height,r_frame_rate,nb_read_packets",
		"-of", "csv=p=0",
		path)
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && len(exitErr.Stderr) != 0 {
			return VideoInfo{}, fmt.Errorf("ffprobe failed on %v: %v", path, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return VideoInfo{}, fmt.Errorf("ffprobe failed on %v: %w", path, err)
	}
	return parseProbeOutput(string(out))
}

// parseProbeOutput parses "width,height,num/den,frames" as emitted by ffprobe.
func parseProbeOutput(out string) (VideoInfo, error) {
	parts := strings.Split(strings.TrimSpace(out), ",")
	if len(parts) < 3 {
		return VideoInfo{}, fmt.Errorf("Unexpected ffprobe output '%v'", strings.TrimSpace(out))
	}
	info := VideoInfo{}
	var err error
	if info.Width, err = strconv.Atoi(parts[0]); err != nil {
		return VideoInfo{}, fmt.Errorf("Unexpected ffprobe width '%v'", parts[0])
	}
	if info.Height, err = strconv.Atoi(parts[1]); err != nil {
		return VideoInfo{}, fmt.Errorf("Unexpected ffprobe height '%v'", parts[1])
	}
	if num, den, ok := strings.Cut(parts[2], "/"); ok {
		n, err1 := strconv.ParseFloat(num, 64)
		d, err2 := strconv.ParseFloat(den, 64)
		if err1 != nil || err2 != nil || d == 0 {
			return VideoInfo{}, fmt.Errorf("Unexpected ffprobe frame rate '%v'", parts[2])
		}
		info.FPS = n / d
	} else if info.FPS, err = strconv.ParseFloat(parts[2], 64); err != nil {
		return VideoInfo{}, fmt.Errorf("Unexpected ffprobe frame rate '%v'", parts[2])
	}
	if len(parts) >= 4 {
		// nb_read_packets is absent for some containers. Frame count 0 is
		// acceptable, it only degrades progress reporting.
		info.FrameCount, _ = strconv.Atoi(parts[3])
	}
	return info, nil
}

// FFmpegSource decodes a video file into raw RGB frames through an ffmpeg
// child process.
type FFmpegSource struct {
	info      VideoInfo
	cmd       *exec.Cmd
	stdout    io.ReadCloser
	stderr    bytes.Buffer
	reader    *bufio.Reader
	frameSize int
	nextFrame int
	done      bool
}

func NewFFmpegSource(path string) (*FFmpegSource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	info, err := ProbeVideo(path)
	if err != nil {
		return nil, err
	}
	cmd := exec.Command("ffmpeg",
		"-v", "error",
		"-i", path,
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	s := &FFmpegSource{
		info:      info,
		cmd:       cmd,
		stdout:    stdout,
		reader:    bufio.NewReaderSize(stdout, 1<<20),
		frameSize: info.Width * info.Height * 3,
	}
	cmd.Stderr = &s.stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("Failed to start ffmpeg on %v: %w", path, err)
	}
	return s, nil
}

func (s *FFmpegSource) Info() VideoInfo {
	return s.info
}

func (s *FFmpegSource) Next() (int, *cimg.Image, error) {
	if s.done {
		return 0, nil, io.EOF
	}
	frame := cimg.NewImage(s.info.Width, s.info.Height, cimg.PixelFormatRGB)
	if _, err := io.ReadFull(s.reader, frame.Pixels[:s.frameSize]); err != nil {
		s.done = true
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			if werr := s.wait(); werr != nil {
				return 0, nil, werr
			}
			return 0, nil, io.EOF
		}
		return 0, nil, err
	}
	n := s.nextFrame
	s.nextFrame++
	return n, frame, nil
}

func (s *FFmpegSource) Close() error {
	if s.cmd == nil {
		return nil
	}
	s.stdout.Close()
	return s.wait()
}

func (s *FFmpegSource) wait() error {
	if s.cmd == nil {
		return nil
	}
	err := s.cmd.Wait()
	s.cmd = nil
	if err != nil {
		if msg := strings.TrimSpace(s.stderr.String()); msg != "" {
			return fmt.Errorf("ffmpeg decode failed: %v", msg)
		}
		return fmt.Errorf("ffmpeg decode failed: %w", err)
	}
	return nil
}
