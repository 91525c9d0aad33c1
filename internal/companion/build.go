package companion

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/neuna/neuna/internal/audio"
	"github.com/neuna/neuna/internal/capture"
	"github.com/neuna/neuna/internal/chatmem"
	"github.com/neuna/neuna/internal/config"
	"github.com/neuna/neuna/internal/devices"
	cmdexec "github.com/neuna/neuna/internal/exec"
	"github.com/neuna/neuna/internal/geo"
	"github.com/neuna/neuna/internal/kvstore"
	"github.com/neuna/neuna/internal/llm"
	"github.com/neuna/neuna/internal/permission"
	"github.com/neuna/neuna/internal/prefs"
	"github.com/neuna/neuna/internal/speech"
)

// FromConfig assembles an App from runtime configuration and restores the
// saved conversation. gate may be nil to build one from cfg.Permissions.
func FromConfig(ctx context.Context, cfg *config.Config, paths *config.Paths, gate *permission.Gate, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}

	store, err := NewStore(ctx, cfg, paths)
	if err != nil {
		return nil, err
	}

	backend, err := llm.NewBackend(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("backend: %w", err)
	}
	gateway := llm.NewGateway(backend, llm.GatewayConfig(cfg), log)

	initial := devices.Defaults()
	if cfg.DevicesFile != "" {
		if initial, err = devices.LoadFile(cfg.DevicesFile); err != nil {
			return nil, err
		}
	}
	reg, err := devices.NewRegistry(initial)
	if err != nil {
		return nil, err
	}

	if gate == nil {
		gate = permission.NewGate(permission.Policy(cfg.Permissions), permission.WithLogger(log))
	}

	camera, err := newCamera(cfg)
	if err != nil {
		return nil, err
	}

	runner := cmdexec.NewRunner()
	var recorder audio.Recorder
	if cfg.Recorder != "off" {
		rec, err := audio.NewExecRecorder(cfg.Recorder, runner, log)
		if err != nil {
			log.Warn("voice input disabled", zap.Error(err))
		} else {
			recorder = rec
		}
	}
	speaker, err := speech.NewSpeaker("", runner, log)
	if err != nil {
		log.Warn("speech output disabled", zap.Error(err))
	}

	conv := chatmem.New(store, log)
	app, err := New(Deps{
		Gateway:      gateway,
		Conversation: conv,
		Devices:      reg,
		Prefs:        prefs.NewStore(store, log),
		Gate:         gate,
		Camera:       camera,
		Recorder:     recorder,
		Speaker:      speaker,
		Locator:      newLocator(cfg),
		Log:          log,
	}, Options{SpeakReplies: cfg.SpeakReplies})
	if err != nil {
		conv.Close()
		return nil, err
	}
	app.Restore(ctx)
	return app, nil
}

// NewStore opens the key-value store selected by cfg.Store.
func NewStore(ctx context.Context, cfg *config.Config, paths *config.Paths) (kvstore.Store, error) {
	switch cfg.Store {
	case "memory":
		return kvstore.NewMemStore(), nil
	case "minio":
		s, err := kvstore.NewMinIOStore(ctx, kvstore.MinIOConfig{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Bucket:    cfg.MinIO.Bucket,
			Secure:    cfg.MinIO.Secure,
		})
		if err != nil {
			return nil, fmt.Errorf("state store: %w", err)
		}
		return s, nil
	default:
		s, err := kvstore.NewFileStore(paths.StateDir)
		if err != nil {
			return nil, fmt.Errorf("state store: %w", err)
		}
		return s, nil
	}
}

func newCamera(cfg *config.Config) (capture.Camera, error) {
	switch cfg.Camera {
	case "screen":
		return &capture.ScreenCamera{Display: cfg.Display}, nil
	case "file":
		if cfg.CameraFile == "" {
			return nil, errors.New("NEUNA_CAMERA=file needs NEUNA_CAMERA_FILE")
		}
		return &capture.FileCamera{Path: cfg.CameraFile}, nil
	case "off", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown camera %q (valid: screen, file, off)", cfg.Camera)
	}
}

func newLocator(cfg *config.Config) geo.Locator {
	switch cfg.Location {
	case "static":
		return geo.Static{Lat: cfg.Latitude, Lon: cfg.Longitude}
	case "ip":
		return geo.NewIPLocator(cfg.IPLookupURL)
	default:
		return geo.Disabled{}
	}
}
