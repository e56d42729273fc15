// Package video probes, decodes and encodes video files through ffmpeg.
package video

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// DefaultProbeTimeout bounds one ffprobe call.
const DefaultProbeTimeout = 30 * time.Second

// ErrNoVideoStream is returned by Probe for files without a video stream,
// such as audio-only uploads.
var ErrNoVideoStream = errors.New("no video stream found")

// ProbeResult describes the first video stream of a file.
type ProbeResult struct {
	Width     int
	Height    int
	Codec     string
	FrameRate float64
	Frames    int // 0 when the container does not report a count
	Duration  float64
	HasAudio  bool
}

type probeOutput struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
		RFrameRate   string `json:"r_frame_rate"`
		NbFrames     string `json:"nb_frames"`
		Duration     string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe runs ffprobe on path.
func Probe(path string, timeout time.Duration) (*ProbeResult, error) {
	out, err := ffmpeg.ProbeWithTimeout(path, timeout, ffmpeg.KwArgs{})
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}
	return parseProbe(out)
}

func parseProbe(raw string) (*ProbeResult, error) {
	var p probeOutput
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("cannot parse ffprobe JSON: %w", err)
	}

	res := &ProbeResult{}
	found := false
	for _, s := range p.Streams {
		switch s.CodecType {
		case "audio":
			res.HasAudio = true
		case "video":
			if found {
				continue
			}
			found = true
			res.Width = s.Width
			res.Height = s.Height
			res.Codec = s.CodecName
			res.FrameRate = parseRate(s.AvgFrameRate)
			if res.FrameRate == 0 {
				res.FrameRate = parseRate(s.RFrameRate)
			}
			res.Frames, _ = strconv.Atoi(s.NbFrames)
			res.Duration, _ = strconv.ParseFloat(s.Duration, 64)
		}
	}
	if !found {
		return nil, ErrNoVideoStream
	}
	if res.Duration == 0 {
		res.Duration, _ = strconv.ParseFloat(p.Format.Duration, 64)
	}
	return res, nil
}

// parseRate parses ffprobe rationals such as "30000/1001".
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		v, _ := strconv.ParseFloat(s, 64)
		return v
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}

// EstimatedFrames returns the reported frame count, or one derived from
// duration and frame rate. It is used for progress reporting only.
func (p *ProbeResult) EstimatedFrames() int {
	if p.Frames > 0 {
		return p.Frames
	}
	if p.Duration > 0 && p.FrameRate > 0 {
		return int(p.Duration*p.FrameRate + 0.5)
	}
	return 0
}
