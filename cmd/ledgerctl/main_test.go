package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"votechain/ledger"
	"votechain/storage"
)

func writeConfig(t *testing.T, backend string, extra string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dataPath := filepath.Join(dir, "ledger."+backend)
	body := fmt.Sprintf(`env = "dev"
listen = ":0"

[storage]
backend = %q
path = %q
difficulty = 1
%s`, backend, dataPath, extra)
	path := filepath.Join(dir, "votechain.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path, dataPath
}

func execute(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestAppendAndInspect(t *testing.T) {
	cfgPath, _ := writeConfig(t, "bolt", "")

	code, out, errOut := execute(t, "append", "-config", cfgPath, "-data", `{"type":"audit_note","note":"hello"}`)
	require.Equal(t, 0, code, errOut)
	var appended ledger.Block
	require.NoError(t, json.Unmarshal([]byte(out), &appended))
	require.EqualValues(t, 2, appended.Position)
	require.True(t, strings.HasPrefix(appended.Hash, "0"))

	code, out, _ = execute(t, "latest", "-config", cfgPath)
	require.Equal(t, 0, code)
	var latest ledger.Block
	require.NoError(t, json.Unmarshal([]byte(out), &latest))
	require.Equal(t, appended.Hash, latest.Hash)

	code, out, _ = execute(t, "block", "-config", cfgPath, "-position", "1")
	require.Equal(t, 0, code)
	var genesis ledger.Block
	require.NoError(t, json.Unmarshal([]byte(out), &genesis))
	require.Equal(t, ledger.GenesisPreviousHash, genesis.PreviousHash)
	require.Equal(t, genesis.Hash, appended.PreviousHash)

	code, out, _ = execute(t, "block", "-config", cfgPath, "-hash", appended.Hash)
	require.Equal(t, 0, code)
	require.Contains(t, out, "audit_note")

	code, out, _ = execute(t, "status", "-config", cfgPath)
	require.Equal(t, 0, code)
	var status statusOutput
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	require.EqualValues(t, 2, status.Length)
	require.Equal(t, 1, status.Difficulty)
	require.True(t, status.Valid)
	require.Equal(t, appended.Hash, status.LatestHash)
}

func TestBlockRequiresExactlyOneSelector(t *testing.T) {
	cfgPath, _ := writeConfig(t, "bolt", "")
	code, _, errOut := execute(t, "block", "-config", cfgPath)
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "exactly one of -position or -hash")

	code, _, errOut = execute(t, "block", "-config", cfgPath, "-position", "9")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "block not found")
}

func TestAppendRejectsNonObject(t *testing.T) {
	cfgPath, _ := writeConfig(t, "bolt", "")
	code, _, errOut := execute(t, "append", "-config", cfgPath, "-data", `[1,2]`)
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "parse -data")
}

func TestVerifyDetectsTampering(t *testing.T) {
	cfgPath, dataPath := writeConfig(t, "sqlite", "")
	code, _, errOut := execute(t, "append", "-config", cfgPath, "-data", `{"type":"verification_start","userId":"u1"}`)
	require.Equal(t, 0, code, errOut)

	code, out, _ := execute(t, "verify", "-config", cfgPath)
	require.Equal(t, 0, code)
	require.Contains(t, out, `"valid": true`)

	dsn, err := storage.FileDSN(dataPath)
	require.NoError(t, err)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Exec(`UPDATE blockchain_records SET data = ? WHERE id = 2`, `{"type":"verification_start","userId":"u2"}`).Error)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	code, out, _ = execute(t, "verify", "-config", cfgPath)
	require.Equal(t, 1, code)
	var report ledger.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.False(t, report.Valid)
	require.EqualValues(t, 2, report.FailedAt)
}

func TestExportFormats(t *testing.T) {
	cfgPath, dataPath := writeConfig(t, "bolt", "")
	for i := 0; i < 3; i++ {
		code, _, errOut := execute(t, "append", "-config", cfgPath, "-data", fmt.Sprintf(`{"type":"verification_step","n":%d}`, i))
		require.Equal(t, 0, code, errOut)
	}
	dir := filepath.Dir(dataPath)

	csvPath := filepath.Join(dir, "blocks.csv")
	code, out, errOut := execute(t, "export", "-config", cfgPath, "-format", "csv", "-out", csvPath, "-from", "2")
	require.Equal(t, 0, code, errOut)
	var summary exportOutput
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	require.Equal(t, 3, summary.Blocks)
	require.Len(t, summary.Checksum, 64)
	raw, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	require.Equal(t, 4, strings.Count(string(raw), "\n"))

	jsonlPath := filepath.Join(dir, "blocks.jsonl")
	code, out, _ = execute(t, "export", "-config", cfgPath, "-format", "jsonl", "-out", jsonlPath, "-to", "2")
	require.Equal(t, 0, code)
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	require.Equal(t, 2, summary.Blocks)

	parquetPath := filepath.Join(dir, "blocks.parquet")
	code, _, errOut = execute(t, "export", "-config", cfgPath, "-format", "parquet", "-out", parquetPath)
	require.Equal(t, 0, code, errOut)
	require.FileExists(t, parquetPath)

	code, _, errOut = execute(t, "export", "-config", cfgPath, "-format", "xml", "-out", parquetPath)
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "unsupported export format")

	code, _, errOut = execute(t, "export", "-config", cfgPath, "-out", jsonlPath, "-from", "9")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "no blocks")
}

func TestTokenUsesConfiguredSecret(t *testing.T) {
	cfgPath, _ := writeConfig(t, "memory", `
[auth]
enabled = true
hmacSecret = "test-secret"
issuer = "votechain"
roleClaim = "role"
`)
	code, out, errOut := execute(t, "token", "-config", cfgPath, "-sub", "auditor", "-role", "admin")
	require.Equal(t, 0, code, errOut)

	parsed, err := jwt.Parse(strings.TrimSpace(out), func(*jwt.Token) (interface{}, error) {
		return []byte("test-secret"), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithIssuer("votechain"))
	require.NoError(t, err)
	claims := parsed.Claims.(jwt.MapClaims)
	require.Equal(t, "auditor", claims["sub"])
	require.Equal(t, "admin", claims["role"])

	code, _, errOut = execute(t, "token", "-config", cfgPath)
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "subject required")
}

func TestUnknownCommand(t *testing.T) {
	code, _, errOut := execute(t, "rewind")
	require.Equal(t, 2, code)
	require.Contains(t, errOut, "Usage: ledgerctl")
}
