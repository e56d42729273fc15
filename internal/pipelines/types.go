// Package pipelines runs the Python model CLI (doctor, lipread, transcribe,
// classify-image) as subprocesses and parses their JSON results.
package pipelines

import "time"

// Capabilities represents what the installed Python models can do,
// as reported by the `doctor --json` command.
type Capabilities struct {
	PackageVersion string             `json:"package_version"`
	Python         PythonInfo         `json:"python"`
	Dependencies   map[string]DepInfo `json:"dependencies"`
	Executables    map[string]DepInfo `json:"executables"`
	Checkpoints    map[string]DepInfo `json:"checkpoints"`
	GPU            GPUInfo            `json:"gpu"`
	Summary        SummaryInfo        `json:"summary"`

	HasLipReading bool      `json:"-"`
	HasSpeech     bool      `json:"-"`
	HasImage      bool      `json:"-"`
	HasLandmarks  bool      `json:"-"`
	ProbedAt      time.Time `json:"-"`
}

// Ready reports whether every model needed by video verification is present.
func (c *Capabilities) Ready() bool {
	return c.HasLipReading && c.HasSpeech && c.HasLandmarks
}

// PythonInfo holds Python runtime information.
type PythonInfo struct {
	Version    string `json:"version"`
	Executable string `json:"executable"`
}

// DepInfo represents the availability status of a single dependency.
type DepInfo struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Path      string `json:"path,omitempty"`
	Error     string `json:"error,omitempty"`
}

// GPUInfo holds GPU availability information.
type GPUInfo struct {
	CUDAAvailable bool   `json:"cuda_available"`
	DeviceCount   int    `json:"device_count,omitempty"`
	Error         string `json:"error,omitempty"`
}

// SummaryInfo summarises overall dependency status.
type SummaryInfo struct {
	Available int  `json:"available"`
	Total     int  `json:"total"`
	AllOK     bool `json:"all_ok"`
}

// RunResult is the structured outcome of executing a model subprocess.
type RunResult struct {
	ExitCode   int           `json:"exit_code"`
	OutputPath string        `json:"output_path,omitempty"` // path to the --out JSON file
	StderrTail string        `json:"stderr_tail,omitempty"` // last N bytes of stderr
	Duration   time.Duration `json:"duration"`
}

// IsSuccess returns true when the subprocess exited cleanly.
func (r RunResult) IsSuccess() bool { return r.ExitCode == 0 }

// PipelineOutput holds the metadata fields every model output file carries.
type PipelineOutput struct {
	SchemaVersion   string `json:"schema_version"`
	PipelineVersion string `json:"pipeline_version"`
	ModelVersion    string `json:"model_version"`
}

// RequiredFieldsPresent checks the metadata every output must carry.
func (p PipelineOutput) RequiredFieldsPresent() bool {
	return p.SchemaVersion != "" && p.PipelineVersion != "" && p.ModelVersion != ""
}

// TextOutput is written by the lipread and transcribe commands.
type TextOutput struct {
	PipelineOutput
	Text string `json:"text"`
}

// ImageOutput is written by the classify-image command. Score is the
// classifier's confidence in Label, in [0, 1].
type ImageOutput struct {
	PipelineOutput
	Label string  `json:"label"`
	Score float64 `json:"score"`
}
