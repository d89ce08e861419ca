package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"ticketintel/internal/config"
	"ticketintel/internal/database"
	"ticketintel/internal/models"
	"ticketintel/internal/services"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupCLI 使用临时 SQLite 文件作为数据库
func setupCLI(t *testing.T) config.DatabaseConfig {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "engine.db")
	viper.Set("database.driver", "sqlite")
	viper.Set("database.sqlite_path", path)
	viper.Set("database.log_level", "silent")
	viper.Set("database.max_open_conns", 1)
	viper.Set("log.level", "error")
	viper.Set("log.output", "stdout")

	cfg := config.GetDefaultConfig().Database
	cfg.Driver = "sqlite"
	cfg.SQLitePath = path
	cfg.LogLevel = "silent"
	return cfg
}

// resetFlags 命令对象在进程内复用，每次执行前恢复默认参数
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	out := new(bytes.Buffer)
	rootCmd.SetOut(out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func seedCLITickets(t *testing.T, cfg config.DatabaseConfig, tickets ...models.Ticket) {
	t.Helper()
	db, err := database.Open(cfg, false)
	require.NoError(t, err)
	defer database.Close(db)
	require.NoError(t, db.Create(&tickets).Error)
}

func TestCLI_ImportAndRecompute(t *testing.T) {
	dbCfg := setupCLI(t)

	out, err := runCLI(t, "import", "--defaults", "--json")
	require.NoError(t, err)
	var imported services.ImportReport
	require.NoError(t, json.Unmarshal([]byte(out), &imported))
	assert.Equal(t, len(services.DefaultCatalog().Labels), imported.LabelsUpserted)

	seedCLITickets(t, dbCfg, models.Ticket{
		Title:       "vpn",
		Description: "la vpn no conecta",
		Category:    "Redes",
		Priority:    models.PriorityHigh,
		Status:      models.StatusOpen,
		CreatedAt:   time.Now().Add(-5 * time.Hour),
	})

	out, err = runCLI(t, "recompute-suggestions", "--json", "--dry-run=false")
	require.NoError(t, err)
	var report services.RecomputeReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Created)

	out, err = runCLI(t, "recompute-suggestions", "--json", "--dry-run=false")
	require.NoError(t, err)
	report = services.RecomputeReport{}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Zero(t, report.Created+report.Updated+report.Deleted, "second run must report no deltas")

	out, err = runCLI(t, "evaluate-alerts", "--dry-run=true")
	require.NoError(t, err)
	assert.Contains(t, out, "1 breaches")

	out, err = runCLI(t, "accept-suggestion", "1", "1")
	require.NoError(t, err)
	assert.Contains(t, out, `labelled "VPN"`)

	_, err = runCLI(t, "reject-suggestion", "1", "1")
	assert.True(t, services.IsKind(err, services.KindInvalidState), "got %v", err)
}

func TestCLI_Arguments(t *testing.T) {
	setupCLI(t)

	_, err := runCLI(t, "accept-suggestion", "1", "abc")
	assert.True(t, services.IsKind(err, services.KindValidation), "got %v", err)

	_, err = runCLI(t, "import")
	assert.True(t, services.IsKind(err, services.KindValidation), "got %v", err)

	_, err = runCLI(t, "import", filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)

	_, err = runCLI(t, "recompute-suggestions", "--threshold", "1.5")
	assert.True(t, services.IsKind(err, services.KindValidation), "got %v", err)

	for _, k := range []string{"0", "-3"} {
		_, err = runCLI(t, "retrain-clusters", "--clusters", k)
		assert.True(t, services.IsKind(err, services.KindValidation), "--clusters %s: got %v", k, err)
	}
}

// flakySource 第 failOn 次分块读取返回依赖不可用
type flakySource struct {
	services.TicketSource
	calls  int
	failOn int
}

func (f *flakySource) ListTickets(ctx context.Context, q services.TicketQuery) ([]models.Ticket, error) {
	f.calls++
	if f.calls == f.failOn {
		return nil, services.NewDependencyUnavailable("list tickets", errors.New("connection reset by peer"))
	}
	return f.TicketSource.ListTickets(ctx, q)
}

func TestCLI_ReadFailurePrintsPartialReport(t *testing.T) {
	dbCfg := setupCLI(t)
	_, err := runCLI(t, "import", "--defaults")
	require.NoError(t, err)

	vpn := models.Ticket{
		Title:       "vpn",
		Description: "la vpn no conecta",
		Category:    "Redes",
		Priority:    models.PriorityHigh,
		Status:      models.StatusOpen,
		CreatedAt:   time.Now().Add(-5 * time.Hour),
	}
	seedCLITickets(t, dbCfg, vpn, vpn, vpn)

	orig := wrapSource
	wrapSource = func(src services.TicketSource) services.TicketSource {
		return &flakySource{TicketSource: src, failOn: 2}
	}
	defer func() { wrapSource = orig }()

	out, err := runCLI(t, "recompute-suggestions", "--json", "--chunk-size", "2")
	require.Error(t, err)
	assert.True(t, services.IsKind(err, services.KindDependencyUnavailable), "got %v", err)

	var report services.RecomputeReport
	require.NoError(t, json.Unmarshal([]byte(out), &report), "partial report expected on stdout, got %q", out)
	assert.Equal(t, 2, report.Processed)
	assert.Positive(t, report.Created)
	require.Len(t, report.ChunkFailures, 1)
	assert.Equal(t, uint(3), report.ChunkFailures[0].FirstID)

	out, err = runCLI(t, "recompute-assignments", "--chunk-size", "2")
	require.Error(t, err)
	assert.Contains(t, out, "Processed 2 tickets")
}

func TestCLI_Version(t *testing.T) {
	out, err := runCLI(t, "version", "--json")
	require.NoError(t, err)
	var info map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, Version, info["version"])
}

func TestFinishRun(t *testing.T) {
	out := new(bytes.Buffer)
	cmd := &cobra.Command{}
	cmd.SetOut(out)
	jsonOutput = false
	printed := false
	runErr := services.NewDependencyUnavailable("list tickets", errors.New("timeout"))

	err := finishRun(cmd, nil, nil, runErr, func() { printed = true })
	assert.Same(t, runErr, err)
	assert.True(t, printed, "report must be printed before the run error")

	err = finishRun(cmd, nil, []services.ChunkFailure{{Chunk: 1}}, nil, func() {})
	assert.EqualError(t, err, "run completed with 1 failed chunk(s)")
}

func TestFailedChunks(t *testing.T) {
	assert.NoError(t, failedChunks(nil))
	err := failedChunks([]services.ChunkFailure{{Chunk: 2}})
	assert.EqualError(t, err, "run completed with 1 failed chunk(s)")
}
