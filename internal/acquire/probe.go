package acquire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/franz/mediabin/internal/util"
)

// ProbeOutput is the raw JSON printed by ffprobe
type ProbeOutput struct {
	Streams []ProbeStream `json:"streams"`
	Format  *ProbeFormat  `json:"format"`
}

// IntOrString can unmarshal both integers and strings from JSON
type IntOrString struct {
	Value int
}

// UnmarshalJSON accepts 42, "42" and "N/A"
func (i *IntOrString) UnmarshalJSON(data []byte) error {
	var intVal int
	if err := json.Unmarshal(data, &intVal); err == nil {
		i.Value = intVal
		return nil
	}

	var strVal string
	if err := json.Unmarshal(data, &strVal); err != nil {
		return err
	}

	parsed, err := strconv.Atoi(strVal)
	if err != nil {
		i.Value = 0
		return nil
	}
	i.Value = parsed
	return nil
}

// ProbeStream is one stream of the container
type ProbeStream struct {
	Index      int         `json:"index"`
	CodecName  string      `json:"codec_name"`
	CodecType  string      `json:"codec_type"`
	Width      int         `json:"width"`
	Height     int         `json:"height"`
	FrameRate  string      `json:"avg_frame_rate"`
	SampleRate IntOrString `json:"sample_rate"`
	Channels   int         `json:"channels"`
	Duration   string      `json:"duration"`
	BitRate    string      `json:"bit_rate"`
}

// ProbeFormat is container level metadata
type ProbeFormat struct {
	FormatName string            `json:"format_name"`
	Duration   string            `json:"duration"`
	Size       string            `json:"size"`
	BitRate    string            `json:"bit_rate"`
	Tags       map[string]string `json:"tags"`
}

// ProbeInfo is the condensed technical description stored in the sidecar
type ProbeInfo struct {
	Container  string  `json:"container,omitempty"`
	Duration   float64 `json:"duration_seconds,omitempty"`
	Width      int     `json:"width,omitempty"`
	Height     int     `json:"height,omitempty"`
	VideoCodec string  `json:"video_codec,omitempty"`
	AudioCodec string  `json:"audio_codec,omitempty"`
	BitRate    int64   `json:"bit_rate,omitempty"`
}

// ProbeAvailable reports whether ffprobe is on PATH
func ProbeAvailable() bool {
	_, err := exec.LookPath("ffprobe")
	return err == nil
}

// RunProbe executes ffprobe against path and parses its JSON output.
// Returns util.ErrNotFound when ffprobe is not installed.
func RunProbe(ctx context.Context, path string) (*ProbeOutput, error) {
	if !ProbeAvailable() {
		return nil, util.ErrNotFound
	}

	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)

	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("ffprobe failed: %s", string(exitErr.Stderr))
		}
		return nil, fmt.Errorf("ffprobe execution failed: %w", err)
	}

	return ParseProbeOutput(output)
}

// ParseProbeOutput decodes ffprobe's JSON
func ParseProbeOutput(data []byte) (*ProbeOutput, error) {
	var out ProbeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	return &out, nil
}

// Summarize picks the first video and audio stream and the container duration
func (o *ProbeOutput) Summarize() *ProbeInfo {
	info := &ProbeInfo{}
	if o.Format != nil {
		info.Container = o.Format.FormatName
		info.Duration, _ = strconv.ParseFloat(o.Format.Duration, 64)
		info.BitRate, _ = strconv.ParseInt(o.Format.BitRate, 10, 64)
	}

	for _, s := range o.Streams {
		switch s.CodecType {
		case "video":
			if info.VideoCodec != "" {
				continue
			}
			info.VideoCodec = s.CodecName
			info.Width = s.Width
			info.Height = s.Height
			if info.Duration == 0 {
				info.Duration, _ = strconv.ParseFloat(s.Duration, 64)
			}
		case "audio":
			if info.AudioCodec == "" {
				info.AudioCodec = s.CodecName
			}
			if info.Duration == 0 {
				info.Duration, _ = strconv.ParseFloat(s.Duration, 64)
			}
		}
	}
	return info
}
