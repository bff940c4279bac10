package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"HISTORY_DB_PATH", "AUDIO_DIR", "MODELS_DIR", "SETTINGS_PATH",
		"LISTEN_ADDR", "INFERENCE_URL", "HANGOVER", "MIN_UTTERANCE",
		"MIN_RECORDING", "POLISH_TIMEOUT", "SYSTEM_PROMPT",
		"FRAME_MILLIS", "ASR_WORKERS", "UTTERANCE_QUEUE",
		"GDRIVE_FOLDER_ID", "GOOGLE_CREDENTIALS_FILE",
	} {
		t.Setenv(EnvPrefix+key, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, _, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.HistoryDBPath != "data/history/history.db" {
		t.Fatalf("expected default history_db_path, got %q", cfg.HistoryDBPath)
	}
	if cfg.Hangover != "3s" {
		t.Fatalf("expected default hangover, got %q", cfg.Hangover)
	}
	if cfg.FrameMillis != 30 {
		t.Fatalf("expected default frame_millis 30, got %d", cfg.FrameMillis)
	}
	if cfg.ParsedHangover() != 3*time.Second {
		t.Fatalf("expected parsed hangover 3s, got %v", cfg.ParsedHangover())
	}
	if cfg.ParsedMinRecording() != 500*time.Millisecond {
		t.Fatalf("expected parsed min_recording 500ms, got %v", cfg.ParsedMinRecording())
	}
}

func TestYAMLLoading(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	yamlContent := `
history_db_path: /custom/history.db
audio_dir: /custom/audio
models_dir: /custom/models
hangover: 5s
asr_workers: 4
gdrive_folder_id: my-folder
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.HistoryDBPath != "/custom/history.db" {
		t.Fatalf("expected yaml history_db_path, got %q", cfg.HistoryDBPath)
	}
	if cfg.ModelsDir != "/custom/models" {
		t.Fatalf("expected yaml models_dir, got %q", cfg.ModelsDir)
	}
	if cfg.ParsedHangover() != 5*time.Second {
		t.Fatalf("expected yaml hangover 5s, got %v", cfg.ParsedHangover())
	}
	if cfg.AsrWorkers != 4 {
		t.Fatalf("expected yaml asr_workers 4, got %d", cfg.AsrWorkers)
	}
	if cfg.GDriveFolderID != "my-folder" {
		t.Fatalf("expected yaml gdrive_folder_id, got %q", cfg.GDriveFolderID)
	}
}

func TestEnvOverridesYAML(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("hangover: 5s\nasr_workers: 4\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv(EnvPrefix+"HANGOVER", "7s")
	t.Setenv(EnvPrefix+"ASR_WORKERS", "8")

	cfg, _, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Hangover != "7s" {
		t.Fatalf("expected env hangover, got %q", cfg.Hangover)
	}
	if cfg.AsrWorkers != 8 {
		t.Fatalf("expected env asr_workers 8, got %d", cfg.AsrWorkers)
	}
}

func TestInvalidDurationsWarnAndFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix+"HANGOVER", "not-a-duration")

	cfg, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(warnings) == 0 {
		t.Fatal("expected a warning for invalid hangover")
	}
	if cfg.ParsedHangover() != 3*time.Second {
		t.Fatalf("expected fallback hangover 3s, got %v", cfg.ParsedHangover())
	}
}

func TestFrameMillisOutOfRange(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix+"FRAME_MILLIS", "500")

	cfg, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.FrameMillis != 30 {
		t.Fatalf("expected clamped frame_millis 30, got %d", cfg.FrameMillis)
	}
	if len(warnings) == 0 {
		t.Fatal("expected a warning for out-of-range frame_millis")
	}
}
