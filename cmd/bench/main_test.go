package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkloadsRead(t *testing.T) {
	workloads, err := generate(1500)
	require.NoError(t, err)
	require.Len(t, workloads, 5)

	for _, wl := range workloads {
		whole, err := measure(wl, 0, 1)
		require.NoError(t, err, wl.name)
		assert.Equal(t, 1500, whole.Values, wl.name)
		assert.Zero(t, whole.NeedsData, wl.name)

		chunked, err := measure(wl, 512, 1)
		require.NoError(t, err, wl.name)
		assert.Equal(t, 1500, chunked.Values, wl.name)
		assert.Positive(t, chunked.NeedsData, wl.name)
	}
}

func TestCompressedSizes(t *testing.T) {
	data := bytes.Repeat([]byte("ionic "), 1000)
	sizes, err := compressedSizes(data)
	require.NoError(t, err)
	for i, n := range sizes {
		assert.Positive(t, n, i)
		assert.Less(t, n, len(data), i)
	}
}

func TestReports(t *testing.T) {
	results := []CaseResult{
		{Name: "rows-1.0", Bytes: 2000, Values: 10, Chunk: 0, Elapsed: time.Millisecond},
		{Name: "rows-1.0", Bytes: 2000, Values: 10, Chunk: 64, Elapsed: 2 * time.Millisecond, NeedsData: 31},
	}
	assert.Equal(t, 100000.0, results[0].NsPerValue())
	assert.Equal(t, 2e6, results[0].BytesPerSec())

	var csv bytes.Buffer
	writeCSV(&csv, results)
	lines := strings.Split(strings.TrimSpace(csv.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "rows-1.0,2000,0,0,0,10,64,200000.0,1000000,31", lines[2])

	var md bytes.Buffer
	writeMarkdown(&md, results, "generated", time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))
	assert.Contains(t, md.String(), "**Date:** 2026-01-02")
	assert.Contains(t, md.String(), "| rows-1.0 | 64 |")
}
