package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"votechain/config"
	"votechain/gateway/middleware"
	"votechain/integrations/exports"
	"votechain/ledger"
	"votechain/storage"
)

const (
	statusCommand = "status"
	verifyCommand = "verify"
	latestCommand = "latest"
	blockCommand  = "block"
	appendCommand = "append"
	exportCommand = "export"
	tokenCommand  = "token"
)

// errChainInvalid makes verify exit non-zero without printing a second error.
var errChainInvalid = errors.New("chain is invalid")

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		usage(stderr)
		return 2
	}
	var err error
	switch args[0] {
	case statusCommand:
		err = runStatus(ctx, args[1:], stdout, stderr)
	case verifyCommand:
		err = runVerify(ctx, args[1:], stdout, stderr)
	case latestCommand:
		err = runLatest(ctx, args[1:], stdout, stderr)
	case blockCommand:
		err = runBlock(ctx, args[1:], stdout, stderr)
	case appendCommand:
		err = runAppend(ctx, args[1:], stdout, stderr)
	case exportCommand:
		err = runExport(ctx, args[1:], stdout, stderr)
	case tokenCommand:
		err = runToken(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		usage(stdout)
		return 0
	default:
		usage(stderr)
		return 2
	}
	switch {
	case err == nil:
		return 0
	case errors.Is(err, flag.ErrHelp):
		return 2
	case errors.Is(err, errChainInvalid):
		return 1
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: ledgerctl <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  status                         chain length, difficulty and validity")
	fmt.Fprintln(w, "  verify [-strict]               full chain validation report")
	fmt.Fprintln(w, "  latest                         print the newest block")
	fmt.Fprintln(w, "  block -position N | -hash H    print one block")
	fmt.Fprintln(w, "  append -data '{...}'           append a block with the given JSON object")
	fmt.Fprintln(w, "  export -format csv|jsonl|parquet -out PATH [-from N] [-to N]")
	fmt.Fprintln(w, "  token -sub USER [-role admin] [-ttl 1h]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Every command accepts -config PATH (.toml or .yaml).")
}

func newFlagSet(name string, stderr io.Writer) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to the votechain config file")
	return fs, configPath
}

// openLedger loads the config and opens the configured block store. The
// returned closer releases the ledger and its store.
func openLedger(ctx context.Context, configPath string, strict bool) (*ledger.Ledger, *config.Config, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	store, err := storage.Open(storage.Options{
		Backend: cfg.Storage.Backend,
		Path:    cfg.Storage.Path,
		DSN:     cfg.Storage.DSN,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open block store: %w", err)
	}
	opts := []ledger.Option{ledger.WithDifficulty(cfg.Storage.Difficulty)}
	if strict || cfg.Storage.StrictProofOfWork {
		opts = append(opts, ledger.WithStrictProofOfWork())
	}
	chain, err := ledger.Open(ctx, store, opts...)
	if err != nil {
		_ = store.Close()
		return nil, nil, nil, fmt.Errorf("open ledger: %w", err)
	}
	closer := func() {
		_ = chain.Close()
		_ = store.Close()
	}
	return chain, cfg, closer, nil
}

func printJSON(w io.Writer, v any) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(encoded))
	return err
}

type statusOutput struct {
	Length     int64  `json:"length"`
	Difficulty int    `json:"difficulty"`
	LatestHash string `json:"latestHash"`
	Valid      bool   `json:"valid"`
	Message    string `json:"message"`
}

func runStatus(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs, configPath := newFlagSet(statusCommand, stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	chain, _, closeLedger, err := openLedger(ctx, *configPath, false)
	if err != nil {
		return err
	}
	defer closeLedger()

	report, err := chain.Verify(ctx)
	if err != nil {
		return err
	}
	latest, err := chain.LatestBlock(ctx)
	if err != nil {
		return err
	}
	return printJSON(stdout, statusOutput{
		Length:     report.Length,
		Difficulty: chain.Difficulty(),
		LatestHash: latest.Hash,
		Valid:      report.Valid,
		Message:    report.Message(),
	})
}

func runVerify(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs, configPath := newFlagSet(verifyCommand, stderr)
	strict := fs.Bool("strict", false, "Also require every hash to meet the proof-of-work difficulty")
	if err := fs.Parse(args); err != nil {
		return err
	}
	chain, _, closeLedger, err := openLedger(ctx, *configPath, *strict)
	if err != nil {
		return err
	}
	defer closeLedger()

	report, err := chain.Verify(ctx)
	if err != nil {
		return err
	}
	if err := printJSON(stdout, report); err != nil {
		return err
	}
	if !report.Valid {
		return errChainInvalid
	}
	return nil
}

func runLatest(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs, configPath := newFlagSet(latestCommand, stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	chain, _, closeLedger, err := openLedger(ctx, *configPath, false)
	if err != nil {
		return err
	}
	defer closeLedger()

	block, err := chain.LatestBlock(ctx)
	if err != nil {
		return err
	}
	return printJSON(stdout, block)
}

func runBlock(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs, configPath := newFlagSet(blockCommand, stderr)
	position := fs.Int64("position", 0, "1-based chain position of the block")
	hash := fs.String("hash", "", "Hash of the block")
	if err := fs.Parse(args); err != nil {
		return err
	}
	lookupHash := strings.TrimSpace(*hash)
	if (*position > 0) == (lookupHash != "") {
		return fmt.Errorf("exactly one of -position or -hash is required")
	}
	chain, _, closeLedger, err := openLedger(ctx, *configPath, false)
	if err != nil {
		return err
	}
	defer closeLedger()

	var block *ledger.Block
	if lookupHash != "" {
		block, err = chain.BlockByHash(ctx, lookupHash)
	} else {
		block, err = chain.BlockAt(ctx, *position)
	}
	if err != nil {
		return err
	}
	return printJSON(stdout, block)
}

func runAppend(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs, configPath := newFlagSet(appendCommand, stderr)
	raw := fs.String("data", "", "JSON object stored as the block data")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*raw) == "" {
		return fmt.Errorf("-data is required")
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(*raw), &data); err != nil {
		return fmt.Errorf("parse -data: %w", err)
	}
	if data == nil {
		return fmt.Errorf("-data must be a JSON object")
	}
	chain, _, closeLedger, err := openLedger(ctx, *configPath, false)
	if err != nil {
		return err
	}
	defer closeLedger()

	block, err := chain.AddBlock(ctx, data)
	if err != nil {
		return err
	}
	return printJSON(stdout, block)
}

type exportOutput struct {
	Format   string `json:"format"`
	Path     string `json:"path"`
	Blocks   int    `json:"blocks"`
	Checksum string `json:"sha256"`
}

func runExport(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs, configPath := newFlagSet(exportCommand, stderr)
	format := fs.String("format", "jsonl", "Output format: csv, jsonl or parquet")
	out := fs.String("out", "", "Destination file")
	from := fs.Int64("from", 0, "First position to export (default: genesis)")
	to := fs.Int64("to", 0, "Last position to export (default: latest)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path := strings.TrimSpace(*out)
	if path == "" {
		return fmt.Errorf("-out is required")
	}
	kind := strings.ToLower(strings.TrimSpace(*format))
	switch kind {
	case "csv", "jsonl", "parquet":
	default:
		return fmt.Errorf("unsupported export format %q", *format)
	}
	chain, _, closeLedger, err := openLedger(ctx, *configPath, false)
	if err != nil {
		return err
	}
	defer closeLedger()

	blocks, err := exports.Collect(ctx, chain, exports.Range{From: *from, To: *to})
	if err != nil {
		return err
	}
	var sum string
	switch kind {
	case "parquet":
		sum, err = exports.BlocksParquet(path, blocks)
	default:
		var payload []byte
		if kind == "csv" {
			payload, sum, err = exports.BlocksCSV(blocks)
		} else {
			payload, sum, err = exports.BlocksJSONL(blocks)
		}
		if err == nil {
			err = os.WriteFile(path, payload, 0o644)
		}
	}
	if err != nil {
		return err
	}
	return printJSON(stdout, exportOutput{Format: kind, Path: path, Blocks: len(blocks), Checksum: sum})
}

func runToken(args []string, stdout, stderr io.Writer) error {
	fs, configPath := newFlagSet(tokenCommand, stderr)
	subject := fs.String("sub", "", "Token subject (user id)")
	role := fs.String("role", "", "Role claim, e.g. admin")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	secretEnv := fs.String("secret-env", "VOTECHAIN_AUTH_SECRET", "Environment variable holding the signing secret when the config has none")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	secret := strings.TrimSpace(cfg.Auth.HMACSecret)
	if secret == "" && *secretEnv != "" {
		secret = strings.TrimSpace(os.Getenv(*secretEnv))
	}
	token, err := middleware.IssueToken(middleware.TokenRequest{
		Secret:    secret,
		Subject:   *subject,
		Role:      *role,
		RoleClaim: cfg.Auth.RoleClaim,
		Issuer:    cfg.Auth.Issuer,
		Audience:  cfg.Auth.Audience,
		TTL:       *ttl,
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, token)
	return err
}
