package main

import (
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"

	"github.com/lipcheck/lipcheck/internal/preprocess"
	"github.com/lipcheck/lipcheck/internal/video"
)

var stepLabels = map[string]string{
	preprocess.StepDecode:    "Decoding frames",
	preprocess.StepLandmarks: "Detecting landmarks",
	preprocess.StepCrop:      "Cropping mouth",
	preprocess.StepEncode:    "Encoding clip",
}

// stepProgress shows one bar per preprocessing step. Decoding has no known
// total, so its bar is sized from the ffprobe frame estimate.
type stepProgress struct {
	w        io.Writer
	estimate int
	step     string
	bar      *progressbar.ProgressBar
}

func newStepProgress(w io.Writer, estimate int) *stepProgress {
	if f, ok := w.(*os.File); !ok || !isatty.IsTerminal(f.Fd()) {
		w = io.Discard
	}
	return &stepProgress{w: w, estimate: estimate}
}

func (p *stepProgress) Update(step string, done, total int) {
	if step != p.step {
		p.Finish()
		max := total
		if max <= 0 {
			max = p.estimate
		}
		if max <= 0 {
			max = -1
		}
		label, ok := stepLabels[step]
		if !ok {
			label = step
		}
		p.bar = progressbar.NewOptions(max,
			progressbar.OptionSetDescription(label),
			progressbar.OptionSetWriter(p.w),
			progressbar.OptionShowCount(),
			progressbar.OptionThrottle(100*time.Millisecond),
		)
		p.step = step
	}
	if max := p.bar.GetMax(); max > 0 && done > max {
		p.bar.ChangeMax(done)
	}
	p.bar.Set(done)
}

func (p *stepProgress) Finish() {
	if p.bar == nil {
		return
	}
	p.bar.Finish()
	io.WriteString(p.w, "\n")
	p.bar = nil
}

// estimateFrames returns ffprobe's frame estimate for path, or 0.
func estimateFrames(path string) int {
	probe, err := video.Probe(path, video.DefaultProbeTimeout)
	if err != nil {
		return 0
	}
	return probe.EstimatedFrames()
}
