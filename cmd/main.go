package main

import (
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"quakerisk/db"
	"quakerisk/geo"
	qhttp "quakerisk/http"
	"quakerisk/logger"
	"quakerisk/ml"
	"quakerisk/monitoring"
)

type Config struct {
	Http struct {
		Port           int      `yaml:"port"`
		TimeoutSeconds int      `yaml:"timeout_seconds"`
		AllowedOrigins []string `yaml:"allowed_origins"`
		StaticDir      string   `yaml:"static_dir"`
		MaxBodyBytes   int64    `yaml:"max_body_bytes"`
	} `yaml:"http"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Log logger.Config `yaml:"log"`
	ML  struct {
		ModelsDir  string        `yaml:"models_dir"`
		HotReload  bool          `yaml:"hot_reload"`
		CacheSize  int           `yaml:"cache_size"`
		Thresholds ml.Thresholds `yaml:"thresholds"`
	} `yaml:"ml"`
	Geo struct {
		TablePath string `yaml:"table_path"`
	} `yaml:"geo"`
}

func main() {
	// Look for config in root even if run from cmd/
	configPath := "config.yaml"
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		configPath = filepath.Join("..", "config.yaml")
	}

	config, err := loadConfig(configPath)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.New(config.Log)
	defer log.Sync()

	if !filepath.IsAbs(config.Database.Path) && configPath == filepath.Join("..", "config.yaml") {
		config.Database.Path = filepath.Join("..", config.Database.Path)
	}
	if err := db.InitDB(config.Database.Path); err != nil {
		log.Fatal("initialize database", zap.Error(err))
	}
	defer db.Close()
	log.Info("database initialized", zap.String("path", config.Database.Path))

	metrics := monitoring.NewMetrics()
	qhttp.SetMetrics(metrics)

	hub := monitoring.NewHub(log, nil)
	go hub.Run()
	defer hub.Stop()
	qhttp.SetLiveFeed(hub)

	watcher := initializeServices(config, metrics, hub, log)
	if watcher != nil {
		defer watcher.Close()
	}

	serverCfg := qhttp.DefaultServerConfig()
	if config.Http.Port != 0 {
		serverCfg.Port = config.Http.Port
	}
	if config.Http.TimeoutSeconds != 0 {
		serverCfg.Timeout = time.Duration(config.Http.TimeoutSeconds) * time.Second
	}
	if len(config.Http.AllowedOrigins) != 0 {
		serverCfg.AllowedOrigins = config.Http.AllowedOrigins
	}
	if config.Http.StaticDir != "" {
		serverCfg.StaticDir = config.Http.StaticDir
	}
	if config.Http.MaxBodyBytes != 0 {
		serverCfg.MaxBodyBytes = config.Http.MaxBodyBytes
	}

	server := qhttp.NewServer(serverCfg, log)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	if err := server.Stop(); err != nil {
		log.Warn("server forced to shutdown", zap.Error(err))
	}

	log.Info("exiting")
}

func loadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// initializeServices loads the geo table and model bundle and wires them into
// the HTTP package. Returns the artifact watcher when hot reload is enabled.
func initializeServices(config *Config, metrics *monitoring.Metrics, hub *monitoring.Hub, log *zap.Logger) *ml.Watcher {
	if config.Geo.TablePath != "" {
		table, err := geo.Load(config.Geo.TablePath)
		if err != nil {
			log.Warn("geo table not loaded, using defaults", zap.Error(err))
		} else {
			qhttp.SetGeoTable(table)
		}
	}

	qhttp.InitPredictionCache(config.ML.CacheSize)

	thresholds := config.ML.Thresholds
	if thresholds.Medium == 0 && thresholds.High == 0 {
		thresholds = ml.DefaultThresholds()
	}

	modelsDir := config.ML.ModelsDir
	if modelsDir == "" {
		modelsDir = "./models"
	}

	loadModels := func() {
		bundle, err := ml.LoadBundle(modelsDir, thresholds, log)
		if err != nil {
			log.Error("load model bundle", zap.Error(err))
			return
		}
		qhttp.SetBundle(bundle)
		metrics.BundleReloads.Inc()
		hub.BroadcastReload(bundle.AvailableTargets())
	}

	bundle, err := ml.LoadBundle(modelsDir, thresholds, log)
	if err != nil {
		// The server still answers status and geo queries without models;
		// predictions report success=false until artifacts appear.
		log.Error("load model bundle", zap.Error(err), zap.String("dir", modelsDir))
	} else {
		qhttp.SetBundle(bundle)
	}

	if !config.ML.HotReload {
		return nil
	}
	watcher, err := ml.NewWatcher(modelsDir, loadModels, log)
	if err != nil {
		log.Warn("artifact watcher not started", zap.Error(err))
		return nil
	}
	return watcher
}
