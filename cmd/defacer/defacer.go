package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/akamensky/argparse"
	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
	"github.com/videoanon/defacer/pkg/anno"
	"github.com/videoanon/defacer/pkg/anonymize"
	"github.com/videoanon/defacer/pkg/export"
	"github.com/videoanon/defacer/pkg/facetrack"
	"github.com/videoanon/defacer/pkg/session"
)

func check(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func main() {
	parser := argparse.NewParser("defacer", "Anonymize faces in video")

	auto := parser.NewCommand("auto", "Detect, track and anonymize in one pass")
	autoInput := auto.String("i", "input", &argparse.Options{Help: "Input video file", Required: true})
	autoDetections := auto.String("d", "detections", &argparse.Options{Help: "Face detections JSON produced by an external detector", Required: true})
	autoOutput := auto.String("o", "output", &argparse.Options{Help: "Output video file (default: <input>_defaced.mp4)"})
	autoSaveAnnotations := auto.String("a", "save-annotations", &argparse.Options{Help: "Also write the generated annotations to this JSON file"})
	autoThreshold := auto.Float("", "threshold", &argparse.Options{Help: "Detection confidence threshold", Default: 0.5})
	autoMosaicType := auto.Selector("", "mosaic-type", []string{"mosaic", "blur", "solid"}, &argparse.Options{Help: "Anonymization effect", Default: "mosaic"})
	autoBlockSize := auto.Int("", "block-size", &argparse.Options{Help: "Mosaic block size in pixels", Default: 10})
	autoBBoxScale := auto.Float("", "bbox-scale", &argparse.Options{Help: "Grow detection boxes by this factor", Default: 1.1})
	autoCRF := auto.Int("", "crf", &argparse.Options{Help: "Output quality, 0-51, lower is better", Default: 18})
	autoPreset := auto.Selector("", "preset", []string{"ultrafast", "fast", "medium", "slow", "veryslow"}, &argparse.Options{Help: "Encoder speed preset", Default: "medium"})
	autoNoTracking := auto.Flag("", "no-tracking", &argparse.Options{Help: "Disable tracking, each detection becomes its own track"})
	autoDrawBoxes := auto.Flag("", "draw-boxes", &argparse.Options{Help: "Overlay annotation boxes instead of shipping output"})
	autoNoEllipse := auto.Flag("", "no-ellipse", &argparse.Options{Help: "Anonymize the full rectangle instead of the inscribed ellipse"})

	exportCmd := parser.NewCommand("export", "Anonymize a video using an existing annotation file")
	exportInput := exportCmd.String("i", "input", &argparse.Options{Help: "Input video file", Required: true})
	exportAnnotations := exportCmd.String("a", "annotations", &argparse.Options{Help: "Annotation JSON file", Required: true})
	exportOutput := exportCmd.String("o", "output", &argparse.Options{Help: "Output video file (default: <input>_defaced.mp4)"})
	exportMosaicType := exportCmd.Selector("", "mosaic-type", []string{"mosaic", "blur", "solid"}, &argparse.Options{Help: "Anonymization effect", Default: "mosaic"})
	exportBlockSize := exportCmd.Int("", "block-size", &argparse.Options{Help: "Mosaic block size in pixels", Default: 10})
	exportBBoxScale := exportCmd.Float("", "bbox-scale", &argparse.Options{Help: "Grow annotation boxes by this factor", Default: 1.0})
	exportCRF := exportCmd.Int("", "crf", &argparse.Options{Help: "Output quality, 0-51, lower is better", Default: 18})
	exportPreset := exportCmd.Selector("", "preset", []string{"ultrafast", "fast", "medium", "slow", "veryslow"}, &argparse.Options{Help: "Encoder speed preset", Default: "medium"})
	exportDrawBoxes := exportCmd.Flag("", "draw-boxes", &argparse.Options{Help: "Overlay annotation boxes instead of shipping output"})
	exportNoEllipse := exportCmd.Flag("", "no-ellipse", &argparse.Options{Help: "Anonymize the full rectangle instead of the inscribed ellipse"})
	exportNoInterpolate := exportCmd.Flag("", "no-interpolate", &argparse.Options{Help: "Do not interpolate between keyframe annotations"})

	suggest := parser.NewCommand("suggest", "Print merge suggestions for the tracks of an annotation file")
	suggestAnnotations := suggest.String("a", "annotations", &argparse.Options{Help: "Annotation JSON file", Required: true})
	suggestMaxGap := suggest.Int("", "max-gap", &argparse.Options{Help: "Maximum frame gap between tracks", Default: 60})
	suggestMaxDistance := suggest.Float("", "max-distance", &argparse.Options{Help: "Maximum pixel distance between track endpoints", Default: 200.0})
	suggestMinConfidence := suggest.Float("", "min-confidence", &argparse.Options{Help: "Minimum suggestion confidence", Default: 0.5})

	if err := parser.Parse(os.Args); err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	check(err)

	switch {
	case auto.Happened():
		check(runAuto(logger, autoArgs{
			input:           *autoInput,
			detections:      *autoDetections,
			output:          outputPath(*autoOutput, *autoInput),
			saveAnnotations: *autoSaveAnnotations,
			threshold:       float32(*autoThreshold),
			mosaicType:      *autoMosaicType,
			blockSize:       *autoBlockSize,
			bboxScale:       *autoBBoxScale,
			crf:             *autoCRF,
			preset:          *autoPreset,
			tracking:        !*autoNoTracking,
			drawBoxes:       *autoDrawBoxes,
			ellipse:         !*autoNoEllipse,
		}))
	case exportCmd.Happened():
		check(runExport(logger, exportArgs{
			input:       *exportInput,
			annotations: *exportAnnotations,
			output:      outputPath(*exportOutput, *exportInput),
			mosaicType:  *exportMosaicType,
			blockSize:   *exportBlockSize,
			bboxScale:   *exportBBoxScale,
			crf:         *exportCRF,
			preset:      *exportPreset,
			drawBoxes:   *exportDrawBoxes,
			ellipse:     !*exportNoEllipse,
			interpolate: !*exportNoInterpolate,
		}))
	case suggest.Happened():
		check(runSuggest(*suggestAnnotations, *suggestMaxGap, *suggestMaxDistance, *suggestMinConfidence))
	default:
		fmt.Print(parser.Usage(nil))
	}
}

// outputPath returns explicit when set, otherwise "<input>_defaced.mp4".
func outputPath(explicit, input string) string {
	if explicit != "" {
		return explicit
	}
	base := input
	if idx := strings.LastIndex(base, "."); idx > strings.LastIndexByte(base, os.PathSeparator) {
		base = base[:idx]
	}
	return base + "_defaced.mp4"
}

type autoArgs struct {
	input           string
	detections      string
	output          string
	saveAnnotations string
	threshold       float32
	mosaicType      string
	blockSize       int
	bboxScale       float64
	crf             int
	preset          string
	tracking        bool
	drawBoxes       bool
	ellipse         bool
}

func runAuto(logger logs.Log, args autoArgs) error {
	if err := export.CheckFFmpeg(); err != nil {
		return err
	}
	detections, err := facetrack.LoadDetections(args.detections)
	if err != nil {
		return err
	}
	anonymizer, err := makeAnonymizer(args.mosaicType, args.blockSize)
	if err != nil {
		return err
	}

	source, err := export.NewFFmpegSource(args.input)
	if err != nil {
		return err
	}
	defer source.Close()
	info := source.Info()
	logger.Infof("Input %v: %vx%v, %.2f FPS, %v frames", args.input, info.Width, info.Height, info.FPS, info.FrameCount)

	sess := session.NewSession(logger)
	defer sess.Close()

	var tracker *facetrack.Tracker
	if args.tracking {
		tracker = facetrack.NewTracker(logger, facetrack.DefaultOptions(info.Width, info.Height))
	}
	err = sess.RunDetection(session.DetectionJob{
		Source:    source,
		Detector:  &fileDetector{detections: detections, threshold: args.threshold},
		Tracker:   tracker,
		BBoxScale: args.bboxScale,
		Progress:  progressPrinter(logger, "Detecting"),
	})
	if err != nil {
		return err
	}

	if args.saveAnnotations != "" {
		if err := sess.Save(args.saveAnnotations); err != nil {
			return err
		}
		logger.Infof("Wrote annotations to %v", args.saveAnnotations)
	}

	// The detection pass drained the first source. Decode again for export.
	exportSource, err := export.NewFFmpegSource(args.input)
	if err != nil {
		return err
	}
	defer exportSource.Close()

	sess.PostWait(func(store *anno.Store) {
		err = export.Export(logger, exportSource, store, export.Options{
			OutputPath:      args.output,
			AudioSourcePath: args.input,
			Anonymizer:      anonymizer,
			// Boxes were already scaled at detection time.
			Frame:       export.FrameOptions{Ellipse: args.ellipse, BBoxScale: 1.0, DrawBoxes: args.drawBoxes},
			Encode:      export.EncodeOptions{CRF: args.crf, Preset: args.preset},
			Interpolate: true,
			Progress:    progressPrinter(logger, "Exporting"),
		})
	})
	if err != nil {
		return err
	}
	logger.Infof("Done: %v", args.output)
	return nil
}

type exportArgs struct {
	input       string
	annotations string
	output      string
	mosaicType  string
	blockSize   int
	bboxScale   float64
	crf         int
	preset      string
	drawBoxes   bool
	ellipse     bool
	interpolate bool
}

func runExport(logger logs.Log, args exportArgs) error {
	if err := export.CheckFFmpeg(); err != nil {
		return err
	}
	store, err := anno.Load(args.annotations)
	if err != nil {
		return err
	}
	anonymizer, err := makeAnonymizer(args.mosaicType, args.blockSize)
	if err != nil {
		return err
	}
	source, err := export.NewFFmpegSource(args.input)
	if err != nil {
		return err
	}
	defer source.Close()

	err = export.Export(logger, source, store, export.Options{
		OutputPath:      args.output,
		AudioSourcePath: args.input,
		Anonymizer:      anonymizer,
		Frame:           export.FrameOptions{Ellipse: args.ellipse, BBoxScale: args.bboxScale, DrawBoxes: args.drawBoxes},
		Encode:          export.EncodeOptions{CRF: args.crf, Preset: args.preset},
		Interpolate:     args.interpolate,
		Progress:        progressPrinter(logger, "Exporting"),
	})
	if err != nil {
		return err
	}
	logger.Infof("Done: %v", args.output)
	return nil
}

func runSuggest(annotationsPath string, maxGap int, maxDistance, minConfidence float64) error {
	store, err := anno.Load(annotationsPath)
	if err != nil {
		return err
	}
	params := anno.NewMergeParams()
	params.MaxTimeGap = maxGap
	params.MaxPositionDistance = maxDistance
	params.MinConfidence = minConfidence
	suggestions := anno.ComputeMergeSuggestions(store, params)
	if len(suggestions) == 0 {
		fmt.Println("No merge suggestions")
		return nil
	}
	for _, s := range suggestions {
		fmt.Printf("tracks %v  confidence %.3f  gaps %v\n", s.TrackIDs, s.Confidence, s.TimeGaps)
	}
	return nil
}

func makeAnonymizer(kindName string, blockSize int) (anonymize.Anonymizer, error) {
	kind, err := anonymize.ParseKind(kindName)
	if err != nil {
		return nil, err
	}
	cfg := anonymize.DefaultConfig()
	cfg.Kind = kind
	cfg.BlockSize = blockSize
	return anonymize.New(cfg)
}

// progressPrinter logs progress at a coarse cadence so long videos don't
// flood the log.
func progressPrinter(logger logs.Log, label string) func(current, total int) {
	last := -1
	return func(current, total int) {
		if current == last {
			return
		}
		if current%300 == 0 || current == total {
			logger.Infof("%v: %v/%v frames", label, current, total)
			last = current
		}
	}
}

// fileDetector replays offline detections frame by frame, dropping entries
// below the confidence threshold.
type fileDetector struct {
	detections *facetrack.FileDetections
	threshold  float32
	frame      int
}

func (d *fileDetector) Detect(frame *cimg.Image) ([]facetrack.Detection, error) {
	all := d.detections.ForFrame(d.frame)
	d.frame++
	keep := make([]facetrack.Detection, 0, len(all))
	for _, det := range all {
		if det.Confidence >= d.threshold {
			keep = append(keep, det)
		}
	}
	return keep, nil
}

func (d *fileDetector) Close() {}
