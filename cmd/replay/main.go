// Copyright (c) 2026 TempBox Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// TempBox — Replay Command
//
// Standalone CLI tool that replays saved raw MIME files through the
// parse/resolve/persist stages. Intended for recovering messages a provider
// delivered while the service was down. Authentication is skipped — the
// operator running this tool already holds the files.
//
// Usage:
//
//	go run ./cmd/replay/ --dir /var/spool/tempbox [--dry-run]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/tempbox/ingestion/internal/config"
	"github.com/tempbox/ingestion/internal/dedup"
	"github.com/tempbox/ingestion/internal/mailparse"
	"github.com/tempbox/ingestion/internal/models"
	"github.com/tempbox/ingestion/internal/pipeline"
	"github.com/tempbox/ingestion/internal/queue"
	"github.com/tempbox/ingestion/internal/store"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// --- CLI Flags ---
	dirFlag := flag.String("dir", "", "Directory of .eml files to replay (required)")
	dryRunFlag := flag.Bool("dry-run", false, "Parse and resolve only; do not write")
	flag.Parse()

	if *dirFlag == "" {
		fmt.Fprintf(os.Stderr, "Error: --dir is required\n\n")
		flag.Usage()
		os.Exit(1)
	}

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	inboxStore, err := store.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise inbox store", "error", err)
		os.Exit(1)
	}

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	publisher := queue.NewPublisher(rdb, cfg.EventsQueue)
	filter := dedup.NewFilter(rdb, cfg.DedupTTL)

	entries, err := os.ReadDir(*dirFlag)
	if err != nil {
		slog.Error("failed to read replay directory", "dir", *dirFlag, "error", err)
		os.Exit(1)
	}

	replayer := replayer{
		pipe:   pipeline.New(noopResolver{}, inboxStore, filter, publisher),
		dryRun: *dryRunFlag,
	}

	var stored, duplicates, dropped, failed int
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".eml") {
			continue
		}
		path := filepath.Join(*dirFlag, entry.Name())
		outcome, err := replayer.replayFile(ctx, path)
		switch {
		case err != nil:
			slog.Error("replay failed", "file", entry.Name(), "error", err)
			failed++
		case outcome == pipeline.OutcomeStored:
			stored++
		case outcome == pipeline.OutcomeDuplicate:
			duplicates++
		case outcome == pipeline.OutcomeNoInbox:
			dropped++
		}
	}

	slog.Info("replay complete",
		"stored", stored,
		"duplicates", duplicates,
		"dropped", dropped,
		"failed", failed,
	)
	if failed > 0 {
		os.Exit(1)
	}
}

type replayer struct {
	pipe   *pipeline.Pipeline
	dryRun bool
}

// replayFile runs one saved message through parse, inbox resolution and
// (unless dry-run) the idempotent persist path.
func (r replayer) replayFile(ctx context.Context, path string) (pipeline.Outcome, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	info, err := os.Stat(path)
	receivedAt := time.Now().UTC()
	if err == nil {
		receivedAt = info.ModTime().UTC()
	}

	payload, err := mailparse.DecodePayload(models.ShapeRawMime, raw, "message/rfc822")
	if err != nil {
		return "", err
	}
	env, err := mailparse.Parse(payload, receivedAt)
	if err != nil {
		return "", err
	}

	if r.dryRun {
		slog.Info("dry run: parsed message",
			"file", filepath.Base(path),
			"recipient", env.ToAddress,
			"message_id", env.MessageID,
		)
		return pipeline.OutcomeNoInbox, nil
	}

	result := r.pipe.ResolveAndStore(ctx, "replay", env)
	return result.Outcome, result.Err
}

// noopResolver satisfies the pipeline constructor; replay never resolves a
// provider because it enters the pipeline after the auth stage.
type noopResolver struct{}

func (noopResolver) ResolveActive(context.Context) (*models.ProviderConfig, error) {
	return nil, fmt.Errorf("replay does not resolve providers")
}
