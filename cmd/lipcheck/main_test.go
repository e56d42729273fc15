package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lipcheck/lipcheck/internal/config"
	"github.com/lipcheck/lipcheck/internal/db"
	"github.com/lipcheck/lipcheck/internal/pipelines"
	"github.com/lipcheck/lipcheck/internal/runs"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCompareCommand_Identical(t *testing.T) {
	out, err := execute(t, "compare", "THE CAT IS BLUE", "THE CAT IS BLUE")
	if err != nil {
		t.Fatalf("compare error = %v", err)
	}
	if !strings.Contains(out, "Real") || !strings.Contains(out, "100.00") {
		t.Fatalf("compare output = %q", out)
	}
}

func TestCompareCommand_JSON(t *testing.T) {
	out, err := execute(t, "compare", "--json", "I love Saudi Arabia", "THE DOG IS RED")
	if err != nil {
		t.Fatalf("compare error = %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if got["label"] != "Fake" {
		t.Errorf("label = %q, want Fake", got["label"])
	}
}

func TestCompareCommand_NeedsTwoArgs(t *testing.T) {
	if _, err := execute(t, "compare", "only one"); err == nil {
		t.Fatal("compare with one argument should fail")
	}
}

func TestRunsCommand(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv(config.EnvDataDir, dataDir)
	t.Setenv(config.EnvLogLevel, "error")

	out, err := execute(t, "runs")
	if err != nil {
		t.Fatalf("runs error = %v", err)
	}
	if !strings.Contains(out, "No runs recorded") {
		t.Fatalf("runs output = %q", out)
	}

	database, err := db.New(filepath.Join(dataDir, config.DBFilename), nil)
	if err != nil {
		t.Fatalf("db.New() error = %v", err)
	}
	now := time.Now()
	repo := runs.NewRepository(database.Conn())
	repo.CreateRun(context.Background(), &runs.Run{
		ID: "abc123", Kind: "video", State: "failed", Stage: "preprocessing",
		ErrorKind: "NO_FACE_DETECTED", DurationMs: 42, CreatedAt: now, UpdatedAt: now,
	})
	database.Close()

	out, err = execute(t, "runs")
	if err != nil {
		t.Fatalf("runs error = %v", err)
	}
	for _, want := range []string{"abc123", "NO_FACE_DETECTED", "42ms"} {
		if !strings.Contains(out, want) {
			t.Errorf("runs output missing %q:\n%s", want, out)
		}
	}
}

func TestDoctorRows_SortedWithDetail(t *testing.T) {
	caps := &pipelines.Capabilities{
		Dependencies: map[string]pipelines.DepInfo{
			"whisper": {Available: true, Version: "20231117"},
			"fairseq": {Available: false, Error: "No module named 'fairseq'"},
		},
		Checkpoints: map[string]pipelines.DepInfo{
			"lip_reading": {Available: true, Path: "/models/finetune-model.pt"},
		},
	}

	rows := doctorRows(caps)

	if len(rows) != 3 {
		t.Fatalf("doctorRows() = %v", rows)
	}
	if rows[0][1] != "fairseq" || rows[0][2] != "no" || !strings.Contains(rows[0][3], "fairseq") {
		t.Errorf("rows[0] = %v", rows[0])
	}
	if rows[1][1] != "whisper" || rows[1][3] != "20231117" {
		t.Errorf("rows[1] = %v", rows[1])
	}
	if rows[2][0] != "checkpoint" || rows[2][3] != "/models/finetune-model.pt" {
		t.Errorf("rows[2] = %v", rows[2])
	}
}

func TestRenderTable_PadsShortRows(t *testing.T) {
	out := renderTable([]string{"A", "B"}, [][]string{{"only"}}, nil)
	if !strings.Contains(out, "only") || !strings.Contains(out, "A") {
		t.Fatalf("renderTable() = %q", out)
	}
	if renderTable(nil, nil, nil) != "" {
		t.Fatal("renderTable() with no headers should be empty")
	}
}

func TestStepProgress_NonTerminalIsSilent(t *testing.T) {
	var buf bytes.Buffer
	p := newStepProgress(&buf, 10)
	p.Update("decode", 5, 0)
	p.Update("decode", 12, 0)
	p.Update("landmarks", 3, 12)
	p.Finish()

	if buf.Len() != 0 {
		t.Fatalf("progress wrote %q to a non-terminal writer", buf.String())
	}
}
