package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"nests/internal/diagnostics"
	"nests/internal/infrastructure/livekit"
	repositories "nests/internal/infrastructure/repositories"
	"nests/pkg/config"
	"nests/pkg/logger"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/spf13/pflag"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", "configs/config.yaml", "path to the YAML config file")
		apiURL     = pflag.String("api", "", "base URL of a running nests api; enables join checks")
		keyHex     = pflag.String("key", "", "hex secret key used to sign join check requests (random if empty)")
		timeout    = pflag.Duration("timeout", 30*time.Second, "overall time limit")
	)
	pflag.Parse()

	healthy, err := run(*configPath, *apiURL, *keyHex, *timeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "nests-doctor:", err)
		os.Exit(2)
	}
	if !healthy {
		os.Exit(1)
	}
}

// run prints a consistency report and reports whether it found nothing.
func run(configPath, apiURL, keyHex string, timeout time.Duration) (bool, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return false, err
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		return false, err
	}
	defer repoFactory.Close()
	if !repoFactory.UsingRedis() {
		log.Warn("directory is in-memory; the report only covers this process")
	}

	directory := repoFactory.CreateRoomDirectory()
	rooms := livekit.NewRoomService(cfg.LiveKit.URL, cfg.LiveKit.APIKey, cfg.LiveKit.APISecret)
	doctor := diagnostics.NewDoctor(directory, rooms, log)

	report, err := doctor.Check(ctx)
	if err != nil {
		return false, err
	}

	if apiURL != "" {
		key, err := signingKey(keyHex)
		if err != nil {
			return false, err
		}
		checker := diagnostics.NewJoinChecker(nil, apiURL, key)
		records, err := directory.List(ctx)
		if err != nil {
			return false, fmt.Errorf("list directory: %w", err)
		}
		for _, room := range records {
			report.JoinChecks = append(report.JoinChecks, checker.Check(ctx, room.ID))
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return false, err
	}

	return report.Healthy(), nil
}

func signingKey(keyHex string) (*btcec.PrivateKey, error) {
	if keyHex == "" {
		return btcec.NewPrivateKey()
	}
	raw, err := hex.DecodeString(keyHex)
	if err != nil || len(raw) != 32 {
		return nil, fmt.Errorf("--key must be 32 bytes of hex")
	}
	key, _ := btcec.PrivKeyFromBytes(raw)
	return key, nil
}
