package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dice-recorder/recorder"
	"dice-recorder/report"
	"dice-recorder/segment"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "none.env")}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func seedDB(t *testing.T, dsn string, records ...recorder.RawRecord) {
	t.Helper()
	ctx := context.Background()
	store, err := recorder.OpenStore(ctx, recorder.DatabaseConfig{Driver: recorder.DriverSQLite, DSN: dsn, ConnectAttempts: 1}, segment.IntegerScheme{}, nil)
	require.NoError(t, err)
	defer store.Close()

	p := recorder.NewParser(recorder.ParserConfig{})
	rows := make([]recorder.Session, 0, len(records))
	for _, raw := range records {
		row, err := p.Parse(raw)
		require.NoError(t, err)
		rows = append(rows, row)
	}
	_, err = store.InsertBatch(ctx, rows)
	require.NoError(t, err)
}

func TestLoadConfig_Layering(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "dice.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
upstream:
  api_url: https://file.test/history
schedule:
  interval: 2h
  max_attempts: 3
records:
  id_scheme: dated
`), 0o644))
	t.Setenv("DICE_SCHEDULE_MAX_ATTEMPTS", "4")

	opts := &rootOptions{}
	cmd := buildRootCommand(opts)
	var got recorder.Config
	cmd.AddCommand(&cobra.Command{
		Use: "show-config",
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := loadConfig(c, opts)
			got = cfg
			return err
		},
	})
	cmd.SetArgs([]string{"--config", cfgPath, "--env-file", filepath.Join(dir, "none.env"), "--interval", "15m", "show-config"})
	require.NoError(t, cmd.Execute())

	assert.Equal(t, "https://file.test/history", got.Upstream.APIURL)
	assert.Equal(t, 15*time.Minute, got.Schedule.Interval, "explicit flag wins")
	assert.Equal(t, 4, got.Schedule.MaxAttempts, "env beats file")
	assert.Equal(t, 5*time.Minute, got.Schedule.RetryInterval, "default kept")
	assert.Equal(t, "dated", got.Records.IDScheme)
}

func TestStatsAndExport(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "cli.db")
	seedDB(t, dsn,
		`{"issueId":"1","result":"1:2:3"}`,
		`{"issueId":"2","result":"4:5:6"}`,
		`{"issueId":"5","result":"6:6:6"}`,
	)

	out, err := execute(t, "--db-dsn", dsn, "stats")
	require.NoError(t, err)
	var st report.Statistics
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, int64(3), st.TotalSessions)
	assert.Equal(t, 2, st.ChunkCount)

	out, err = execute(t, "--db-dsn", dsn, "export", "--out", "-")
	require.NoError(t, err)
	assert.Equal(t, "1|1:2:3|6|XIU\n2|4:5:6|15|TAI\n5|6:6:6|18|TAI\n", out)

	outDir := filepath.Join(t.TempDir(), "exports")
	out, err = execute(t, "--db-dsn", dsn, "export", "--chunks", "--format", "json", "--out", outDir)
	require.NoError(t, err)
	path := strings.TrimSpace(out)
	assert.Equal(t, outDir, filepath.Dir(path))
	assert.Equal(t, ".zip", filepath.Ext(path))
	_, err = os.Stat(path)
	require.NoError(t, err)

	_, err = execute(t, "--db-dsn", dsn, "export", "--format", "csv", "--out", "-")
	assert.Error(t, err)
}

func TestLookupAndDeleteCommands(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "cli.db")
	seedDB(t, dsn,
		`{"issueId":"10","result":"1:1:1"}`,
		`{"issueId":"11","result":"2:2:2"}`,
		`{"issueId":"12","result":"3:3:3"}`,
		`{"issueId":"13","result":"4:4:4"}`,
	)

	out, err := execute(t, "--db-dsn", dsn, "lookup", "11")
	require.NoError(t, err)
	var v report.SessionView
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, report.SessionView{ID: "11", Dice1: 2, Dice2: 2, Dice3: 2, Point: 6, Result: recorder.OutcomeLow}, v)

	out, err = execute(t, "--db-dsn", dsn, "delete", "10")
	require.NoError(t, err)
	assert.Equal(t, "deleted 1\n", out)

	_, err = execute(t, "--db-dsn", dsn, "delete", "10")
	assert.ErrorIs(t, err, recorder.ErrNotFound)

	out, err = execute(t, "--db-dsn", dsn, "delete-range", "11", "12")
	require.NoError(t, err)
	assert.Equal(t, "deleted 2\n", out)

	_, err = execute(t, "--db-dsn", dsn, "delete-range", "13", "11")
	assert.ErrorIs(t, err, recorder.ErrInvalidRange)

	_, err = execute(t, "--db-dsn", dsn, "lookup", "12")
	assert.ErrorIs(t, err, recorder.ErrNotFound)
}

func TestFetchCommand(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"list":[{"issueId":"7","result":"2:3:4"},{"issueId":"8","result":"bad"}]}`))
	}))
	defer upstream.Close()
	dsn := filepath.Join(t.TempDir(), "cli.db")

	out, err := execute(t, "--db-dsn", dsn, "--api-url", upstream.URL, "fetch")
	require.NoError(t, err)
	var res recorder.CycleResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, recorder.CycleSuccess, res.State)
	assert.Equal(t, 2, res.Fetched)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Saved)
}

func TestFetchCommand_GivesUp(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer upstream.Close()
	dsn := filepath.Join(t.TempDir(), "cli.db")

	_, err := execute(t, "--db-dsn", dsn, "--api-url", upstream.URL, "--max-attempts", "2", "--retry-interval", "0s", "fetch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "given up after 2 attempts")
}

func TestFetchCommand_RequiresAPIURL(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "cli.db")
	_, err := execute(t, "--db-dsn", dsn, "fetch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_url")
}
