package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Camera holds webcam capture settings. Devices are tried in order until
// one opens, mirroring the classic "try camera index 0..2" behavior.
type Camera struct {
	Devices []string `json:"devices"`
	Width   int      `json:"width"`
	Height  int      `json:"height"`
}

// Vision holds the detection and matching parameters for a session.
type Vision struct {
	CascadeFile    string  `json:"cascade_file"`
	MatchThreshold float64 `json:"match_threshold"`
	SampleInterval int     `json:"sample_interval"`
	TargetWidth    int     `json:"target_width"`
	MinFaceSize    int     `json:"min_face_size"`
}

// Inference points at the HTTP service that computes face descriptors
// and emotion labels.
type Inference struct {
	URL        string `json:"url"`
	APIKey     string `json:"api_key"`
	TimeoutSec int    `json:"timeout_sec"`
}

// Redis configures the optional live snapshot publisher.
type Redis struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
	DB      int    `json:"db"`
}

// Web holds the listen addresses of the two HTTP apps.
type Web struct {
	RegistrarAddr string `json:"registrar_addr"`
	DashboardAddr string `json:"dashboard_addr"`
	SessionSecret string `json:"session_secret"`
}

type Config struct {
	DataDir   string    `json:"data_dir"`
	Camera    Camera    `json:"camera"`
	Vision    Vision    `json:"vision"`
	Inference Inference `json:"inference"`
	Redis     Redis     `json:"redis"`
	Web       Web       `json:"web"`
}

// Default returns the built-in configuration. Every value can be overridden
// by the JSON config file and then by CLASSWATCH_* environment variables.
func Default() Config {
	return Config{
		DataDir: "data",
		Camera: Camera{
			Devices: []string{"/dev/video0", "/dev/video1", "/dev/video2"},
			Width:   640,
			Height:  480,
		},
		Vision: Vision{
			CascadeFile:    "cascade/facefinder",
			MatchThreshold: 0.6,
			SampleInterval: 3,
			TargetWidth:    640,
			MinFaceSize:    30,
		},
		Inference: Inference{
			URL:        "http://localhost:8500",
			TimeoutSec: 30,
		},
		Redis: Redis{
			Enabled: false,
			Addr:    "localhost:6379",
		},
		Web: Web{
			RegistrarAddr: ":5000",
			DashboardAddr: ":5001",
			SessionSecret: "classwatch-dev-secret",
		},
	}
}

// Load builds the effective configuration: defaults, then the JSON file at
// path (or $CLASSWATCH_CONFIG when path is empty), then environment
// overrides. A missing file is not an error; a malformed one is.
func Load(path string) (Config, error) {
	// Best effort: values from a .env file become plain env vars.
	_ = godotenv.Load()

	cfg := Default()

	if path == "" {
		path = os.Getenv("CLASSWATCH_CONFIG")
	}
	if path != "" {
		if err := loadFromFile(&cfg, path); err != nil {
			if os.IsNotExist(err) {
				slog.Warn("Config file not found, using defaults", "path", path)
			} else {
				return cfg, fmt.Errorf("failed to load config %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func loadFromFile(cfg *Config, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return json.NewDecoder(file).Decode(cfg)
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CLASSWATCH_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("CLASSWATCH_CAMERA"); v != "" {
		cfg.Camera.Devices = append([]string{v}, cfg.Camera.Devices...)
	}
	if v := os.Getenv("CLASSWATCH_CASCADE"); v != "" {
		cfg.Vision.CascadeFile = v
	}
	if v := os.Getenv("CLASSWATCH_MATCH_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Vision.MatchThreshold = f
		} else {
			slog.Warn("Ignoring bad CLASSWATCH_MATCH_THRESHOLD", "value", v)
		}
	}
	if v := os.Getenv("CLASSWATCH_INFERENCE_URL"); v != "" {
		cfg.Inference.URL = v
	}
	if v := os.Getenv("CLASSWATCH_INFERENCE_KEY"); v != "" {
		cfg.Inference.APIKey = v
	}
	if v := os.Getenv("CLASSWATCH_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("CLASSWATCH_REGISTRAR_ADDR"); v != "" {
		cfg.Web.RegistrarAddr = v
	}
	if v := os.Getenv("CLASSWATCH_DASHBOARD_ADDR"); v != "" {
		cfg.Web.DashboardAddr = v
	}
	if v := os.Getenv("CLASSWATCH_SESSION_SECRET"); v != "" {
		cfg.Web.SessionSecret = v
	}
}

// StudentsCSV is the path of the roster file.
func (c Config) StudentsCSV() string {
	return filepath.Join(c.DataDir, "students.csv")
}

// ReportCSV is the path of the session report file.
func (c Config) ReportCSV() string {
	return filepath.Join(c.DataDir, "class_report.csv")
}

// PhotoDir is the directory holding registered student photos.
func (c Config) PhotoDir() string {
	return filepath.Join(c.DataDir, "students")
}

// CascadePath resolves the cascade file relative to the data dir unless an
// absolute path was configured.
func (c Config) CascadePath() string {
	if filepath.IsAbs(c.Vision.CascadeFile) {
		return c.Vision.CascadeFile
	}
	return filepath.Join(c.DataDir, c.Vision.CascadeFile)
}
