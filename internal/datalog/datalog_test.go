package datalog_test

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/perovskite-lab/mpptctl/internal/datalog"
	"github.com/perovskite-lab/mpptctl/internal/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendWritesOneLinePerSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mpp_tracker_log.txt")

	sink, err := datalog.NewFile(path)
	require.NoError(t, err)

	samples := []tracker.Sample{
		{Elapsed: 0, Voltage: 0.0, Current: -0.0201},
		{Elapsed: 0.25, Voltage: 0.01, Current: -0.0200},
		{Elapsed: 0.5, Voltage: 0.02, Current: -0.0199},
	}
	for _, s := range samples {
		require.NoError(t, sink.Append(s))
	}
	require.NoError(t, sink.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, len(samples))

	var prev float64 = -1
	for i, line := range lines {
		fields := strings.Split(line, ", ")
		require.Len(t, fields, 3, "line %d", i)

		elapsed, err := strconv.ParseFloat(fields[0], 64)
		require.NoError(t, err)
		v, err := strconv.ParseFloat(fields[1], 64)
		require.NoError(t, err)
		a, err := strconv.ParseFloat(fields[2], 64)
		require.NoError(t, err)

		assert.Greater(t, elapsed, prev, "timestamps must be strictly increasing")
		assert.InDelta(t, samples[i].Voltage, v, 1e-6)
		assert.InDelta(t, samples[i].Current, a, 1e-8)
		prev = elapsed
	}
}

func TestSamplesSurviveWithoutClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")

	sink, err := datalog.NewFile(path)
	require.NoError(t, err)
	require.NoError(t, sink.Append(tracker.Sample{Elapsed: 0, Voltage: 0.5, Current: -0.01}))

	// aborted sessions keep their partial log
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEmpty(t, raw)
	sink.Close()
}

func TestNewFileCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs", "aug", "log.txt")

	sink, err := datalog.NewFile(path)
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	_, err = os.Stat(path)
	assert.NoError(t, err)
}
