package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pengling9405/miaoyu/internal/asr"
	"github.com/pengling9405/miaoyu/internal/audio"
	"github.com/pengling9405/miaoyu/internal/backup"
	"github.com/pengling9405/miaoyu/internal/config"
	"github.com/pengling9405/miaoyu/internal/dictation"
	"github.com/pengling9405/miaoyu/internal/history"
	"github.com/pengling9405/miaoyu/internal/models"
	"github.com/pengling9405/miaoyu/internal/polish"
	"github.com/pengling9405/miaoyu/internal/punc"
	"github.com/pengling9405/miaoyu/internal/server"
	"github.com/pengling9405/miaoyu/internal/settings"
	"github.com/pengling9405/miaoyu/internal/vad"
)

func main() {
	log.Println("miaoyu: starting")

	cfgPath := os.Getenv("MIAOYU_CONFIG")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, warnings, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	for _, w := range warnings {
		log.Printf("warning: %s", w)
	}

	store, err := settings.NewFileStore(cfg.SettingsPath)
	if err != nil {
		log.Fatalf("settings init failed: %v", err)
	}

	hub := server.NewHub()

	// The manager refuses model switches mid-session; the machine is
	// built after the manager, so the guard closes over the variable.
	var machine *dictation.Machine
	manager, err := models.NewManager(cfg.ModelsDir, store,
		models.WithProgress(hub.DownloadProgress),
		models.WithSessionGuard(func() bool {
			return machine != nil && machine.Busy()
		}),
	)
	if err != nil {
		log.Fatalf("model manager init failed: %v", err)
	}

	histStore, err := history.NewStore(cfg.HistoryDBPath, cfg.AudioDir)
	if err != nil {
		log.Fatalf("history init failed: %v", err)
	}
	defer func() { _ = histStore.Close() }()

	polisher := polish.New(manager, polish.Config{
		SystemPrompt: cfg.SystemPrompt,
		Timeout:      cfg.ParsedPolishTimeout(),
		EnvKeys: map[string]string{
			"DEEPSEEK_API_KEY":        cfg.DeepSeekAPIKey,
			"MODELSCOPE_ACCESS_TOKEN": cfg.ModelScopeAPIKey,
		},
		Logger: slog.Default(),
	})

	machine = dictation.NewMachine(dictation.Config{
		FrameMillis:  cfg.FrameMillis,
		Hangover:     cfg.ParsedHangover(),
		MinUtterance: cfg.ParsedMinUtterance(),
		MinRecording: cfg.ParsedMinRecording(),
		Workers:      cfg.AsrWorkers,
		QueueSize:    cfg.UtteranceQueue,
	}, dictation.Deps{
		Opener: func(frameMillis int) (dictation.CaptureSource, error) {
			c, err := audio.Open(frameMillis)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		Classifier: vad.NewEnergyClassifier(0),
		Recognizer: func(modelID string) asr.Recognizer {
			return asr.NewLocalRecognizer(asr.LocalConfig{
				BaseURL: cfg.InferenceURL,
				ModelID: modelID,
			})
		},
		Restorer: punc.NewLocalRestorer(punc.LocalConfig{
			BaseURL: cfg.InferenceURL,
			ModelID: models.PunctModelID,
		}),
		Polisher: polisher,
		Gate:     manager,
		Store:    histStore,
		Recorder: audio.NewRecorder(cfg.AudioDir),
		Notifier: hub,
		Logger:   slog.Default(),
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.GDriveFolderID != "" {
		syncer, syncErr := backup.NewSyncer(ctx, cfg.GoogleCredentialsFile, cfg.GDriveFolderID)
		if syncErr != nil {
			log.Printf("warning: history backup disabled: %v", syncErr)
		} else {
			go syncer.Run(ctx, cfg.HistoryDBPath, 5*time.Minute)
		}
	}

	log.Printf("miaoyu: command API on http://%s", cfg.ListenAddr)

	if err := server.Serve(ctx, cfg.ListenAddr, hub, machine, manager, histStore); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}

	log.Println("miaoyu: shutting down")
	machine.Cancel()
}
