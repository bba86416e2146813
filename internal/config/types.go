package config

// AnnotationProvider identifies the summary annotation collaborator.
type AnnotationProvider string

const (
	AnnotationFile   AnnotationProvider = "file"
	AnnotationOpenAI AnnotationProvider = "openai"
	AnnotationOllama AnnotationProvider = "ollama"
)

// ErrorPattern maps a literal error-message substring to the function
// believed to log it.
type ErrorPattern struct {
	Pattern  string `yaml:"pattern" koanf:"pattern"`
	Function string `yaml:"function" koanf:"function"`
}

// Config is the top-level tracegraph configuration, corresponding to .tracegraph.yml.
type Config struct {
	DatabasePath   string           `yaml:"database_path" koanf:"database_path"`
	SourceDir      string           `yaml:"source_dir" koanf:"source_dir"`
	LogsDir        string           `yaml:"logs_dir" koanf:"logs_dir"`
	SourceInclude  []string         `yaml:"source_include" koanf:"source_include"`
	Exclude        []string         `yaml:"exclude" koanf:"exclude"`
	MaxConcurrency int              `yaml:"max_concurrency" koanf:"max_concurrency"`
	Analysis       AnalysisConfig   `yaml:"analysis" koanf:"analysis"`
	Logs           LogsConfig       `yaml:"logs" koanf:"logs"`
	Linker         LinkerConfig     `yaml:"linker" koanf:"linker"`
	Workflows      WorkflowConfig   `yaml:"workflows" koanf:"workflows"`
	Annotation     AnnotationConfig `yaml:"annotation" koanf:"annotation"`
	Server         ServerConfig     `yaml:"server" koanf:"server"`
}

// AnalysisConfig controls static source extraction.
type AnalysisConfig struct {
	SkipFunctions      []string `yaml:"skip_functions" koanf:"skip_functions"`
	SkipClasses        []string `yaml:"skip_classes" koanf:"skip_classes"`
	NoiseCalls         []string `yaml:"noise_calls" koanf:"noise_calls"`
	UtilityTargets     []string `yaml:"utility_targets" koanf:"utility_targets"`
	APIClientCalls     []string `yaml:"api_client_calls" koanf:"api_client_calls"`
	ServiceURLPatterns []string `yaml:"service_url_patterns" koanf:"service_url_patterns"`
	RouteDecorators    []string `yaml:"route_decorators" koanf:"route_decorators"`
}

// LogsConfig controls per-trace log ingestion.
type LogsConfig struct {
	ExcludedFiles []string `yaml:"excluded_files" koanf:"excluded_files"`
	TracePrefix   string   `yaml:"trace_prefix" koanf:"trace_prefix"`
}

// LinkerConfig controls code-to-log association.
type LinkerConfig struct {
	ErrorPatterns       []ErrorPattern `yaml:"error_patterns" koanf:"error_patterns"`
	ServiceContextLimit int            `yaml:"service_context_limit" koanf:"service_context_limit"`
}

// WorkflowConfig controls workflow discovery.
type WorkflowConfig struct {
	OrchestratorService string `yaml:"orchestrator_service" koanf:"orchestrator_service"`
	MaxDepth            int    `yaml:"max_depth" koanf:"max_depth"`
	SummarySteps        int    `yaml:"summary_steps" koanf:"summary_steps"`
	FieldsAccessedLimit int    `yaml:"fields_accessed_limit" koanf:"fields_accessed_limit"`
}

// AnnotationConfig selects the summary annotation collaborator.
type AnnotationConfig struct {
	Provider AnnotationProvider `yaml:"provider" koanf:"provider"`
	Model    string             `yaml:"model" koanf:"model"`
	File     string             `yaml:"file" koanf:"file"`
	// RequestsPerMinute caps language model requests; 0 disables the limit.
	RequestsPerMinute int `yaml:"requests_per_minute" koanf:"requests_per_minute"`
}

// ServerConfig holds settings for the RCA HTTP API.
type ServerConfig struct {
	Port     int  `yaml:"port" koanf:"port"`
	AllowAll bool `yaml:"allow_all" koanf:"allow_all"`
}
