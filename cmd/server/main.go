package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pajakflow/tax-docs-service/api"
	"github.com/pajakflow/tax-docs-service/internal/archive"
	"github.com/pajakflow/tax-docs-service/internal/auth"
	"github.com/pajakflow/tax-docs-service/internal/bank"
	"github.com/pajakflow/tax-docs-service/internal/bank/hybrid"
	"github.com/pajakflow/tax-docs-service/internal/db"
	"github.com/pajakflow/tax-docs-service/internal/mapper"
	"github.com/pajakflow/tax-docs-service/internal/models"
	"github.com/pajakflow/tax-docs-service/internal/ocr"
	"github.com/pajakflow/tax-docs-service/internal/parsers"
	"github.com/pajakflow/tax-docs-service/internal/pipeline"
	"github.com/pajakflow/tax-docs-service/internal/recon"
	"github.com/pajakflow/tax-docs-service/internal/security"
	"github.com/pajakflow/tax-docs-service/internal/vault"
	"github.com/pajakflow/tax-docs-service/pkg/logger"
)

func main() {
	cfg, err := loadConfig(configPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Format)
	log := logger.WithComponent("main")

	// Startup contract: working dirs, database, and at least one OCR engine
	// are hard requirements.
	for _, dir := range []string{cfg.Dirs.Uploads, cfg.Dirs.Results, cfg.Dirs.Exports} {
		if err := ensureWritable(dir); err != nil {
			log.WithError(err).Fatalf("directory %s is not writable", dir)
		}
	}
	if err := db.Init(); err != nil {
		log.WithError(err).Fatal("database is required")
	}
	defer db.Close()

	if err := archive.Init(); err != nil {
		log.WithError(err).Warn("artifact archive disabled")
	} else {
		log.Info("artifact archive enabled")
	}

	var engines []ocr.Engine
	if cfg.OCR.GeminiAPIKey != "" {
		engines = append(engines, ocr.NewGeminiEngine(cfg.OCR.GeminiAPIKey, cfg.OCR.GeminiModel))
	}
	if tesseract := ocr.NewTesseractEngine(cfg.OCR.Language); tesseract != nil {
		engines = append(engines, tesseract)
	}
	gateway, err := ocr.NewGateway(engines...)
	if err != nil {
		log.WithError(err).Fatal("no OCR engine available")
	}
	log.Infof("OCR engines: %v", gateway.Engines())

	store := db.NewStore(db.Pool)
	authSvc := auth.NewService(store)
	uploads, err := vault.New(cfg.Dirs.Uploads)
	if err != nil {
		log.WithError(err).Fatal("upload vault init failed")
	}
	validator := security.NewValidator(cfg.Uploads, nil)
	registry := parsers.NewRegistry()

	var smartMapper *mapper.Mapper
	if provider, perr := mapper.NewProvider(cfg.AI); perr != nil {
		log.WithError(perr).Warn("no AI provider; structured extraction disabled")
	} else {
		smartMapper = mapper.NewMapper(provider)
		log.Infof("AI provider: %s", provider.Name())
	}

	// With hybrid disabled, statements take the simplified path: raw-text
	// envelope plus a one-shot Smart Mapper pass, like any other document.
	var bankProcessor pipeline.BankProcessor
	if cfg.Bank.HybridEnabled {
		var chunkExtractor hybrid.ChunkExtractor
		if smartMapper != nil {
			chunkExtractor = smartMapper
		}
		bankProcessor = hybrid.NewProcessor(bank.NewDetector(), chunkExtractor, cfg.Bank)
	}

	bus := pipeline.NewBus()
	var pipelineMapper pipeline.SmartMapper
	if smartMapper != nil {
		pipelineMapper = smartMapper
	}
	orch := pipeline.NewOrchestrator(store, uploads, validator, gateway,
		registry, bankProcessor, pipelineMapper, bus, cfg)

	var hints recon.HintExtractor
	if smartMapper != nil {
		hints = smartMapper
	}
	engine := recon.NewEngine(store, hints, cfg.Recon.MinConfidence)

	handler := api.NewHandler(cfg, authSvc, orch, engine)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("shutdown incomplete")
	}
}

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config.yaml"
}

// ensureWritable creates the directory if needed and probes a write.
func ensureWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	probe := dir + "/.startup-probe"
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return err
	}
	return os.Remove(probe)
}

func loadConfig(path string) (*models.Config, error) {
	var cfg models.Config
	data, err := os.ReadFile(path)
	if err == nil {
		if uerr := yaml.Unmarshal(data, &cfg); uerr != nil {
			return nil, fmt.Errorf("parse %s: %w", path, uerr)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	// Environment overrides.
	if port := os.Getenv("PORT"); port != "" {
		fmt.Sscanf(port, "%d", &cfg.Port)
	}
	if host := os.Getenv("HOST"); host != "" {
		cfg.Host = host
	}
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		cfg.Environment = env
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.AI.OpenAI.APIKey = key
	}
	if url := os.Getenv("OPENAI_BASE_URL"); url != "" {
		cfg.AI.OpenAI.BaseURL = url
	}
	if model := os.Getenv("OPENAI_MODEL"); model != "" {
		cfg.AI.OpenAI.Model = model
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		cfg.AI.Gemini.APIKey = key
		cfg.OCR.GeminiAPIKey = key
	}
	if model := os.Getenv("GEMINI_MODEL"); model != "" {
		cfg.AI.Gemini.Model = model
	}
	if url := os.Getenv("OLLAMA_BASE_URL"); url != "" {
		cfg.AI.Ollama.BaseURL = url
	}
	if provider := os.Getenv("AI_PROVIDER"); provider != "" {
		cfg.AI.DefaultProvider = provider
	}

	cfg.Defaults()
	return &cfg, nil
}
