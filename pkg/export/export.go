// Package export turns a video plus its annotation store into an anonymized
// output video, using ffmpeg child processes for decode, encode and audio
// muxing.
package export

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/google/uuid"
	"github.com/videoanon/defacer/pkg/anno"
	"github.com/videoanon/defacer/pkg/anonymize"
	"github.com/videoanon/defacer/pkg/kibi"
	"github.com/videoanon/defacer/pkg/perfstats"
)

// ErrCanceled is returned by Export when the caller's Cancel hook fired.
var ErrCanceled = errors.New("Export canceled")

// Options control a full export run.
type Options struct {
	OutputPath string
	// AudioSourcePath is the file whose audio track is muxed into the
	// output, normally the input video. Empty disables audio.
	AudioSourcePath string
	// Anonymizer defaults to a mosaic.
	Anonymizer anonymize.Anonymizer
	Frame      FrameOptions
	Encode     EncodeOptions
	// Interpolate fills gaps between keyframe annotations before export.
	Interpolate bool
	// Progress receives (current, total) per frame. total is 0 when the
	// source cannot count its frames. A final call with current == total
	// is guaranteed, also when the export fails.
	Progress func(current, total int)
	// Cancel is polled between frames. Returning true aborts the export
	// with ErrCanceled.
	Cancel func() bool
}

// Export drains source, anonymizes annotated regions, encodes the result
// and muxes the original audio back in. The encoded video goes to a
// temporary file first, so the output path never holds a silent video.
func Export(log logs.Log, source FrameSource, store *anno.Store, opts Options) error {
	if err := CheckFFmpeg(); err != nil {
		return err
	}
	if opts.Anonymizer == nil {
		var err error
		if opts.Anonymizer, err = anonymize.New(anonymize.DefaultConfig()); err != nil {
			return err
		}
	}
	if opts.Interpolate {
		added := anno.InterpolateSequential(store)
		if added > 0 {
			log.Infof("Interpolation added %v annotations before export", added)
		}
	}

	info := source.Info()
	tempVideo := filepath.Join(os.TempDir(), "defacer-"+uuid.NewString()+".mp4")
	defer os.Remove(tempVideo)

	writer, err := NewVideoWriter(log, tempVideo, info.Width, info.Height, info.FPS, opts.Encode)
	if err != nil {
		return err
	}
	processed := NewProcessedFrames(source, store, opts.Anonymizer, opts.Frame)
	timer := perfstats.FrameTimer{}
	if _, err := drainFrames(processed, writer, info.FrameCount, &timer, opts.Progress, opts.Cancel); err != nil {
		writer.Close()
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}
	log.Infof("Processed %v frames, %.1f ms/frame (%.1f FPS)", timer.Frames, timer.AverageMS(), timer.PerSecond())

	if opts.AudioSourcePath != "" {
		if err := MuxAudio(log, tempVideo, opts.AudioSourcePath, opts.OutputPath); err != nil {
			return err
		}
	} else if err := moveFile(tempVideo, opts.OutputPath); err != nil {
		return err
	}
	if st, err := os.Stat(opts.OutputPath); err == nil {
		log.Infof("Wrote %v (%v)", opts.OutputPath, kibi.Bytes(st.Size()))
	}
	return nil
}

// drainFrames copies every frame of src into sink, reporting progress per
// frame. The final (total, total) progress call always happens, so UIs can
// rely on it to tear down their progress display.
func drainFrames(src FrameSource, sink FrameSink, total int, timer *perfstats.FrameTimer, progress func(current, total int), cancel func() bool) (written int, err error) {
	defer func() {
		if progress != nil {
			t := total
			if t == 0 {
				t = written
			}
			progress(t, t)
		}
	}()
	for {
		if cancel != nil && cancel() {
			return written, ErrCanceled
		}
		start := time.Now()
		_, frame, err := src.Next()
		if err == io.EOF {
			return written, nil
		} else if err != nil {
			return written, err
		}
		if err := sink.Write(frame); err != nil {
			return written, err
		}
		if timer != nil {
			timer.Add(time.Since(start))
		}
		written++
		if progress != nil {
			progress(written, total)
		}
	}
}

// moveFile renames src to dst, falling back to a copy when they are on
// different filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
