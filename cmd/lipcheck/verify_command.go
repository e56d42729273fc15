package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lipcheck/lipcheck/internal/consistency"
	"github.com/lipcheck/lipcheck/internal/verify"
)

var errVideoUnavailable = errors.New("video verification unavailable; run 'lipcheck doctor' to see which models are missing")
var errImageUnavailable = errors.New("image verification unavailable; run 'lipcheck doctor' to see which models are missing")

type videoReport struct {
	RunID          string `json:"run_id"`
	Label          string `json:"label"`
	Score          string `json:"score"`
	LipReadingText string `json:"lip_reading_text"`
	SpeechText     string `json:"speech_text"`
	DurationMs     int64  `json:"duration_ms"`
}

type imageReport struct {
	RunID      string `json:"run_id"`
	Label      string `json:"label"`
	Score      string `json:"score"`
	DurationMs int64  `json:"duration_ms"`
}

func newVerifyCommand(cc *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "verify <video>",
		Short: "Compare lip reading with speech for a local video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := cc.ensureConfig()
			if err != nil {
				return err
			}
			a, err := openApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()
			if !a.verifier.VideoAvailable() {
				return errVideoUnavailable
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			progress := newStepProgress(os.Stderr, estimateFrames(args[0]))
			res, err := a.verifier.VerifyVideoFile(ctx, args[0], verify.WithProgress(progress.Update))
			progress.Finish()
			if err != nil {
				return err
			}

			report := videoReport{
				RunID:          res.RunID,
				Label:          string(res.Result.Label),
				Score:          res.Result.FormattedScore(),
				LipReadingText: res.LipReadingText,
				SpeechText:     res.SpeechText,
				DurationMs:     res.Duration.Milliseconds(),
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Field", "Value"},
				[][]string{
					{"Label", report.Label},
					{"Score", report.Score},
					{"Lip reading", report.LipReadingText},
					{"Speech", report.SpeechText},
					{"Run", report.RunID},
					{"Took", res.Duration.Round(time.Millisecond).String()},
				},
				nil,
			))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the result as JSON")
	return cmd
}

func newImageCommand(cc *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "image <image>",
		Short: "Classify a still image as real or fake",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := cc.ensureConfig()
			if err != nil {
				return err
			}
			a, err := openApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()
			if !a.verifier.ImageAvailable() {
				return errImageUnavailable
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			res, err := a.verifier.VerifyImageFile(ctx, args[0])
			if err != nil {
				return err
			}

			report := imageReport{
				RunID:      res.RunID,
				Label:      res.Label,
				Score:      res.FormattedScore(),
				DurationMs: res.Duration.Milliseconds(),
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Field", "Value"},
				[][]string{
					{"Label", report.Label},
					{"Score", report.Score},
					{"Run", report.RunID},
				},
				nil,
			))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the result as JSON")
	return cmd
}

func newCompareCommand() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "compare <lip reading text> <speech text>",
		Short: "Score two transcripts without running any model",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res := consistency.Classify(args[0], args[1])
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]string{
					"label":      string(res.Label),
					"score":      res.FormattedScore(),
					"similarity": fmt.Sprintf("%.2f", res.Similarity),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Label", "Score", "Similarity"},
				[][]string{{string(res.Label), res.FormattedScore(), fmt.Sprintf("%.2f", res.Similarity)}},
				[]columnAlignment{alignLeft, alignRight, alignRight},
			))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the result as JSON")
	return cmd
}
