package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/netbirdio/qzmanager/client/internal/helper"
	"github.com/netbirdio/qzmanager/client/internal/helper/cache"
	"github.com/netbirdio/qzmanager/client/internal/helper/downloader"
	"github.com/netbirdio/qzmanager/client/server"
)

func testStatus() *server.StatusResponse {
	checked := time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)
	return &server.StatusResponse{
		Status: helper.Status{
			ProcessRunning:   true,
			PID:              321,
			Connected:        true,
			LastCheckedAt:    &checked,
			Version:          "2.2.5",
			Phase:            helper.PhaseConnected,
			InstallAttempted: true,
			InstallAttempt:   helper.InstallAttempted.String(),
			Cache: cache.Info{
				Directory: "/cache",
				Files: []cache.File{{
					Name:     "qz-tray-2.2.5-x86_64.run",
					Size:     1048576,
					SizeMB:   "1.0",
					Modified: checked,
					Version:  "2.2.5",
				}},
				TotalSize:   1048576,
				TotalSizeMB: "1.0",
			},
		},
		Download: &downloader.Progress{Percent: 100, DownloadedBytes: 1048576, TotalBytes: 1048576},
	}
}

func withOutputFlags(t *testing.T, j, y bool) {
	t.Helper()
	oldJSON, oldYAML := jsonFlag, yamlFlag
	jsonFlag, yamlFlag = j, y
	t.Cleanup(func() {
		jsonFlag, yamlFlag = oldJSON, oldYAML
	})
}

func TestParseStatus(t *testing.T) {
	out := parseStatus(testStatus())

	expected := `QZ Tray version: 2.2.5
Phase: connected
Connection: Connected
Last checked: 2024-03-01T10:00:00Z
Process: running (pid 321)
Install attempt: attempted
Download: 100% (1.0/1.0 MB)
Cache: /cache (1 files, 1.0 MB)
  qz-tray-2.2.5-x86_64.run  1.0 MB  2024-03-01T10:00:00Z
`
	assert.Equal(t, expected, out)
}

func TestFormatStatus_JSON(t *testing.T) {
	withOutputFlags(t, true, false)

	out, err := formatStatus(testStatus())
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, true, decoded["connected"])
	assert.Equal(t, "2.2.5", decoded["version"])
	assert.Equal(t, "/cache", decoded["cache"].(map[string]interface{})["cacheDir"])
}

func TestFormatStatus_YAML(t *testing.T) {
	withOutputFlags(t, false, true)

	out, err := formatStatus(testStatus())
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, yaml.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, true, decoded["processRunning"])
	assert.Equal(t, 321, decoded["pid"])
	assert.Contains(t, decoded, "download")
}

func TestAPIClient(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.UserAgent(), "qzmanager/"))
		_ = json.NewEncoder(w).Encode(testStatus())
	})
	mux.HandleFunc("/restart", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(server.ErrorResponse{Message: "initialization already in progress", Code: http.StatusConflict})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := newAPIClient(strings.TrimPrefix(srv.URL, "http://"))

	status, err := client.status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 321, status.PID)

	_, err = client.restart(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initialization already in progress")
}

func TestProgressPrinter(t *testing.T) {
	var buf bytes.Buffer
	printProgress := progressPrinter(&buf)

	printProgress(downloader.Progress{Percent: 50, DownloadedBytes: 524288, TotalBytes: 1048576})
	printProgress(downloader.Progress{Percent: 50, DownloadedBytes: 524300, TotalBytes: 1048576})
	printProgress(downloader.Progress{Percent: 100, DownloadedBytes: 1048576, TotalBytes: 1048576})

	assert.Equal(t, "\rDownloading QZ Tray:  50% (0.5/1.0 MB)\rDownloading QZ Tray: 100% (1.0/1.0 MB)\n", buf.String())
}

func TestParseCacheInfo(t *testing.T) {
	assert.Equal(t, "Cache directory: /empty\nNo cached installers\n", parseCacheInfo(cache.Info{Directory: "/empty"}))

	out := parseCacheInfo(testStatus().Cache)
	assert.Contains(t, out, "qz-tray-2.2.5-x86_64.run")
	assert.Contains(t, out, "Total: 1.0 MB")
}
