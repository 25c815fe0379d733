package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	lferrors "github.com/logflow/tracemine/pkg/errors"
	"github.com/logflow/tracemine/pkg/event"
	"github.com/logflow/tracemine/pkg/infer"
	"github.com/logflow/tracemine/pkg/invariant"
	"github.com/logflow/tracemine/pkg/partition"
	"github.com/logflow/tracemine/pkg/tracegraph"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"input", lferrors.MalformedTrace("t1", "no events"), 2},
		{"budget", lferrors.BudgetExhausted("splits", 10), 3},
		{"canceled", lferrors.Canceled("refine", nil), 130},
		{"internal", lferrors.New(lferrors.CodeCoverViolated, "broken"), 1},
		{"plain", errors.New("boom"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestWriteModel(t *testing.T) {
	m := &partition.Model{Nodes: []partition.NodeView{{ID: 1, Label: "A", Members: 2}}}
	dir := t.TempDir()

	require.NoError(t, writeModel(m, filepath.Join(dir, "m.json")))
	data, err := os.ReadFile(filepath.Join(dir, "m.json"))
	require.NoError(t, err)
	var got partition.Model
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "A", got.Nodes[0].Label)

	require.NoError(t, writeModel(m, filepath.Join(dir, "m.yml")))
	data, err = os.ReadFile(filepath.Join(dir, "m.yml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "label: A")

	err = writeModel(m, filepath.Join(dir, "m.dot"))
	assert.True(t, lferrors.IsCode(err, lferrors.CodeInvalidConfig))
}

func TestKindFilter(t *testing.T) {
	keep, err := kindFilter(nil)
	require.NoError(t, err)
	assert.Nil(t, keep)

	keep, err = kindFilter([]string{"AFby", "NeverFollowedBy"})
	require.NoError(t, err)
	assert.True(t, keep[invariant.AlwaysFollowedBy])
	assert.True(t, keep[invariant.NeverFollowedBy])
	assert.False(t, keep[invariant.AlwaysPrecedes])

	_, err = kindFilter([]string{"sometimes"})
	assert.Error(t, err)
}

func TestOrderOptions(t *testing.T) {
	f := inputFlags{orders: []string{"rpc=total", "gossip=partial"}}
	opts, err := f.orderOptions()
	require.NoError(t, err)
	assert.Len(t, opts, 2)

	f.orders = []string{"rpc"}
	_, err = f.orderOptions()
	assert.Error(t, err)

	f.orders = []string{"rpc=circular"}
	_, err = f.orderOptions()
	assert.Error(t, err)

	o, ok := tracegraph.ParseOrder("total")
	require.True(t, ok)
	assert.Equal(t, tracegraph.TotalOrder, o)
}

func TestAttachHooks(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	oldLogger, oldVerbose, oldProgress := logger, verbose, showProgress
	logger, verbose, showProgress = zap.New(core), true, true
	defer func() { logger, verbose, showProgress = oldLogger, oldVerbose, oldProgress }()

	var stderr bytes.Buffer
	e := infer.New()
	attachHooks(e, &stderr)

	var tr tracegraph.Trace
	for _, l := range []string{"A", "B", "C"} {
		tr.Events = append(tr.Events, event.New(event.NewType(l)))
	}
	_, err := e.Run(context.Background(), []tracegraph.Trace{tr})
	require.NoError(t, err)

	var phases []string
	for _, entry := range logs.FilterMessage("Phase").All() {
		phases = append(phases, entry.ContextMap()["phase"].(string))
	}
	assert.Contains(t, phases, "refining")
	assert.Contains(t, phases, "complete")
}

// execute runs the root command with a fresh output buffer.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func writeFixtures(t *testing.T, traces string) (dir, cfgPath, input string) {
	t.Helper()
	dir = t.TempDir()
	input = filepath.Join(dir, "traces.txt")
	require.NoError(t, os.WriteFile(input, []byte(traces), 0644))

	cfgPath = filepath.Join(dir, "config.yaml")
	conf := "logging:\n  level: warn\n" +
		"checkpoint:\n  enabled: true\n  backend: file\n  dir: " + filepath.Join(dir, "runs") + "\n" +
		"metrics:\n  exporter: victoria\n  output: " + filepath.Join(dir, "metrics.prom") + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(conf), 0644))
	return dir, cfgPath, input
}

func TestCLI_InferAndRuns(t *testing.T) {
	dir, cfgPath, input := writeFixtures(t, "A\nB\nC\n\nD\nB\nE\n")
	model := filepath.Join(dir, "model.json")

	out, err := execute(t, "--config", cfgPath, "infer", "-i", input, "-o", model, "--invariants")
	require.NoError(t, err)
	assert.Contains(t, out, "INFERENCE COMPLETE")
	assert.Contains(t, out, "A AFby B")

	data, err := os.ReadFile(model)
	require.NoError(t, err)
	var m partition.Model
	require.NoError(t, json.Unmarshal(data, &m))
	assert.NotEmpty(t, m.Nodes)
	assert.NotEmpty(t, m.Edges)

	prom, err := os.ReadFile(filepath.Join(dir, "metrics.prom"))
	require.NoError(t, err)
	assert.Contains(t, string(prom), "tracemine_runs_total")

	out, err = execute(t, "--config", cfgPath, "runs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "traces.txt")

	out, err = execute(t, "--config", cfgPath, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "exporter: victoria")

	out, err = execute(t, "--config", cfgPath, "config", "path")
	require.NoError(t, err)
	assert.Contains(t, out, cfgPath)
}

func TestCLI_MineAndDiff(t *testing.T) {
	dir, cfgPath, left := writeFixtures(t, "A\nB\nC\n\nA\nB\n")
	right := filepath.Join(dir, "right.txt")
	require.NoError(t, os.WriteFile(right, []byte("A\nC\n\nA\nB\n"), 0644))

	out, err := execute(t, "--config", cfgPath, "mine", "-i", left, "--kind", "AFby", "--json")
	require.NoError(t, err)
	var invs []string
	require.NoError(t, json.Unmarshal([]byte(out), &invs))
	assert.Contains(t, invs, "A AFby B")
	for _, s := range invs {
		assert.Contains(t, s, "AFby")
	}

	out, err = execute(t, "--config", cfgPath, "diff", left, right)
	require.NoError(t, err)
	assert.Contains(t, out, "- A AFby B")

	_, err = execute(t, "--config", cfgPath, "diff", left, filepath.Join(dir, "missing.txt"))
	assert.Error(t, err)
}

func TestCLI_InferBudget(t *testing.T) {
	dir, cfgPath, input := writeFixtures(t, "X\nA\nB\nC\n\nY\nA\nB\nD\n")
	model := filepath.Join(dir, "partial.yaml")

	out, err := execute(t, "--config", cfgPath, "infer", "-i", input, "-o", model, "--max-splits", "1")
	require.Error(t, err)
	assert.Equal(t, 3, exitCode(err))
	assert.Contains(t, out, "partial model")
	_, statErr := os.Stat(model)
	assert.NoError(t, statErr)
}
