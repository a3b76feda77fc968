package models

// Config represents the service configuration loaded from config.yaml and
// overridden by environment variables.
type Config struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`

	Environment string   `yaml:"environment"` // "production" enables HSTS
	CORSOrigins []string `yaml:"cors_origins"`

	Dirs    DirConfig      `yaml:"dirs"`
	Uploads UploadConfig   `yaml:"uploads"`
	OCR     OCRConfig      `yaml:"ocr"`
	AI      AIConfig       `yaml:"ai"`
	Bank    BankConfig     `yaml:"bank"`
	Log     LogConfig      `yaml:"log"`
	Recon   ReconConfig    `yaml:"reconciliation"`
	Archive ArchiveConfig  `yaml:"archive"`
}

// DirConfig holds working directories; all must be writable at startup.
type DirConfig struct {
	Uploads string `yaml:"uploads"`
	Results string `yaml:"results"`
	Exports string `yaml:"exports"`
}

// UploadConfig bounds what a single upload may contain.
type UploadConfig struct {
	MaxFileSizeMB     int      `yaml:"max_file_size_mb"`
	MaxPdfPagesPerFile int     `yaml:"max_pdf_pages_per_file"`
	MaxFilesPerBatch  int      `yaml:"max_files_per_batch"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
	EnableVirusScan   bool     `yaml:"enable_virus_scan"`
}

// OCRConfig selects and tunes the OCR engines.
type OCRConfig struct {
	// Engine preference for the local fallback: "tesseract".
	Engine   string `yaml:"engine"`
	Language string `yaml:"language"`
	// Cloud engine credentials; presence gates the cloud path.
	GeminiAPIKey string `yaml:"gemini_api_key"`
	GeminiModel  string `yaml:"gemini_model"`
}

// AIConfig configures the Smart Mapper providers.
type AIConfig struct {
	OpenAI          OpenAIConfig `yaml:"openai"`
	Gemini          GeminiConfig `yaml:"gemini"`
	Ollama          OllamaConfig `yaml:"ollama"`
	DefaultProvider string       `yaml:"default_provider"`
	// UseSmartMapper toggles structured extraction for non-bank documents.
	UseSmartMapper bool `yaml:"use_smart_mapper"`
}

// OpenAIConfig for OpenAI or OpenAI-compatible endpoints.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url,omitempty"`
	Model   string `yaml:"model"`
}

// GeminiConfig for Google Gemini.
type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// OllamaConfig for a local Ollama instance (OpenAI-compatible API).
type OllamaConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// BankConfig tunes the rekening-koran pipeline.
type BankConfig struct {
	// HybridEnabled selects the rule-based + progressive-validator path.
	// When false the whole statement goes to the Smart Mapper in one shot.
	HybridEnabled bool `yaml:"hybrid_enabled"`

	ChunkSize           int     `yaml:"chunk_size"`
	BalanceTolerance    float64 `yaml:"balance_tolerance"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
}

// LogConfig for the logrus setup.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// ReconConfig holds reconciliation defaults.
type ReconConfig struct {
	MinConfidence float64 `yaml:"min_confidence"`
}

// ArchiveConfig enables the optional MinIO mirror of uploaded artifacts.
type ArchiveConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Bucket   string `yaml:"bucket"`
	UseSSL   bool   `yaml:"use_ssl"`
}

// Defaults fills unset fields with the documented default values.
func (c *Config) Defaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Dirs.Uploads == "" {
		c.Dirs.Uploads = "./data/uploads"
	}
	if c.Dirs.Results == "" {
		c.Dirs.Results = "./data/results"
	}
	if c.Dirs.Exports == "" {
		c.Dirs.Exports = "./data/exports"
	}
	if c.Uploads.MaxFileSizeMB == 0 {
		c.Uploads.MaxFileSizeMB = 10
	}
	if c.Uploads.MaxPdfPagesPerFile == 0 {
		c.Uploads.MaxPdfPagesPerFile = 30
	}
	if c.Uploads.MaxFilesPerBatch == 0 {
		c.Uploads.MaxFilesPerBatch = 50
	}
	if len(c.Uploads.AllowedExtensions) == 0 {
		c.Uploads.AllowedExtensions = []string{"pdf", "png", "jpg", "jpeg", "tiff", "bmp", "xlsx", "xls"}
	}
	if c.OCR.Language == "" {
		c.OCR.Language = "ind+eng"
	}
	if c.OCR.GeminiModel == "" {
		c.OCR.GeminiModel = "gemini-1.5-flash"
	}
	if c.Bank.ChunkSize == 0 {
		c.Bank.ChunkSize = 50
	}
	if c.Bank.BalanceTolerance == 0 {
		c.Bank.BalanceTolerance = 0.01
	}
	if c.Bank.ConfidenceThreshold == 0 {
		c.Bank.ConfidenceThreshold = 0.90
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Recon.MinConfidence == 0 {
		c.Recon.MinConfidence = 0.70
	}
}
