package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/lipcheck/lipcheck/internal/pipelines"
)

func newDoctorCommand(cc *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check which models and tools are installed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := cc.ensureConfig()
			if err != nil {
				return err
			}
			runner, err := pipelines.NewRunner(pipelineConfig(cfg, logger))
			if err != nil {
				return err
			}
			caps, err := runner.RunDoctor(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), caps)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Python %s (%s)\n", caps.Python.Version, caps.Python.Executable)
			fmt.Fprintln(out, renderTable(
				[]string{"Component", "Name", "Available", "Version / Detail"},
				doctorRows(caps),
				nil,
			))
			fmt.Fprintln(out, renderTable(
				[]string{"Capability", "Ready"},
				[][]string{
					{"Lip reading", yesNo(caps.HasLipReading)},
					{"Speech to text", yesNo(caps.HasSpeech)},
					{"Face landmarks", yesNo(caps.HasLandmarks)},
					{"Image classifier", yesNo(caps.HasImage)},
					{"CUDA", yesNo(caps.GPU.CUDAAvailable)},
				},
				nil,
			))
			if !caps.Ready() {
				return fmt.Errorf("video verification is not ready (%d/%d dependencies available)",
					caps.Summary.Available, caps.Summary.Total)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the raw probe result as JSON")
	return cmd
}

func doctorRows(caps *pipelines.Capabilities) [][]string {
	var rows [][]string
	add := func(component string, deps map[string]pipelines.DepInfo) {
		names := make([]string, 0, len(deps))
		for name := range deps {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			d := deps[name]
			detail := d.Version
			if d.Error != "" {
				detail = d.Error
			} else if detail == "" {
				detail = d.Path
			}
			rows = append(rows, []string{component, name, yesNo(d.Available), detail})
		}
	}
	add("package", caps.Dependencies)
	add("executable", caps.Executables)
	add("checkpoint", caps.Checkpoints)
	return rows
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
