package config

import "slices"

// DefaultExcludes are glob patterns excluded from source discovery by default.
var DefaultExcludes = []string{
	"**/__pycache__/**",
	"**/.venv/**",
	"**/venv/**",
	"**/node_modules/**",
	"**/tests/**",
	"**/test_*.py",
	"**/*_test.py",
}

// DefaultSkipFunctions are infrastructure functions that carry no business logic.
var DefaultSkipFunctions = []string{
	"JsonFormatter", "format", "get_trace_logger", "get_trace_id",
	"TraceFilter", "filter", "__init__", "__str__", "__repr__",
	"health_check", "root",
}

// DefaultSkipClasses are infrastructure classes; a class whose name or any
// base class name is listed here is not extracted.
var DefaultSkipClasses = []string{
	"JsonFormatter", "TraceFilter", "Formatter", "Filter", "BaseSettings",
}

// DefaultNoiseCalls are callees never recorded as CALLS edges: logging,
// builtins and collection primitives.
var DefaultNoiseCalls = []string{
	// logging
	"debug", "info", "warning", "warn", "error", "exception", "critical", "log",
	"getLogger", "get_trace_logger", "print",
	// builtins
	"len", "str", "int", "float", "bool", "dict", "list", "set", "tuple", "range",
	"isinstance", "issubclass", "hasattr", "getattr", "setattr", "type", "super",
	"enumerate", "zip", "map", "sorted", "reversed", "min", "max", "sum", "abs", "round",
	"any", "all", "open", "iter", "next", "repr", "format", "id", "hash",
	// collection and string primitives
	"append", "extend", "insert", "pop", "remove", "clear", "update", "copy",
	"get", "items", "keys", "values", "setdefault", "add", "discard",
	"join", "split", "strip", "lstrip", "rstrip", "replace", "lower", "upper",
	"startswith", "endswith", "encode", "decode",
	// stdlib and framework plumbing
	"now", "utcnow", "time", "sleep", "uuid4", "dumps", "loads", "json",
	"raise_for_status", "HTTPException", "Exception", "ValueError",
}

// DefaultUtilityTargets are target names dropped by the sanitizer as noise.
var DefaultUtilityTargets = []string{
	"print", "len", "str", "int", "float", "dict", "list", "set",
	"getLogger", "info", "debug", "warning", "error", "exception",
	"session", "query", "commit", "rollback", "add", "flush", "execute",
	"filter_by", "first", "all", "one", "scalar",
}

// DefaultAPIClientCalls are the HTTP client call patterns whose first
// argument is treated as a URL expression. Plain names match the callee
// name; dotted names match "owner.attr".
var DefaultAPIClientCalls = []string{
	"call_service",
	"requests.get", "requests.post", "requests.put", "requests.patch", "requests.delete",
	"httpx.get", "httpx.post", "httpx.put", "httpx.patch", "httpx.delete",
	"client.get", "client.post", "client.put", "client.patch", "client.delete",
	"session.get", "session.post", "session.put", "session.patch", "session.delete",
}

// DefaultServiceURLPatterns are glob patterns over module-level constant
// names that hold a service base URL.
var DefaultServiceURLPatterns = []string{
	"*_SERVICE_URL",
	"*_URL",
}

// DefaultRouteDecorators are decorator owners recognized as web-framework routers.
var DefaultRouteDecorators = []string{"app", "router", "api", "bp", "blueprint"}

// DefaultExcludedLogFiles are service-level log files that are not per-trace logs.
var DefaultExcludedLogFiles = []string{
	"orchestrator.log", "trade_service.log", "pricing_service.log", "risk_service.log",
	"service.log", "app.log",
}

// DefaultErrorPatterns maps known error messages to the function responsible.
var DefaultErrorPatterns = []ErrorPattern{
	{Pattern: "Unknown symbol", Function: "get_market_price"},
	{Pattern: "Invalid quantity", Function: "validate_quantity"},
	{Pattern: "Risk assessment failed", Function: "assess_risk"},
	{Pattern: "PnL integrity check failed", Function: "assess_risk"},
	{Pattern: "execution timed out", Function: "assess_risk"},
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DatabasePath:   ".tracegraph/tracegraph.db",
		SourceDir:      "src",
		LogsDir:        "logs",
		SourceInclude:  []string{"**/*.py"},
		Exclude:        slices.Clone(DefaultExcludes),
		MaxConcurrency: 4,
		Analysis: AnalysisConfig{
			SkipFunctions:      slices.Clone(DefaultSkipFunctions),
			SkipClasses:        slices.Clone(DefaultSkipClasses),
			NoiseCalls:         slices.Clone(DefaultNoiseCalls),
			UtilityTargets:     slices.Clone(DefaultUtilityTargets),
			APIClientCalls:     slices.Clone(DefaultAPIClientCalls),
			ServiceURLPatterns: slices.Clone(DefaultServiceURLPatterns),
			RouteDecorators:    slices.Clone(DefaultRouteDecorators),
		},
		Logs: LogsConfig{
			ExcludedFiles: slices.Clone(DefaultExcludedLogFiles),
			TracePrefix:   "trace_",
		},
		Linker: LinkerConfig{
			ErrorPatterns:       slices.Clone(DefaultErrorPatterns),
			ServiceContextLimit: 10,
		},
		Workflows: WorkflowConfig{
			OrchestratorService: "orchestrator",
			MaxDepth:            10,
			SummarySteps:        5,
			FieldsAccessedLimit: 10,
		},
		Annotation: AnnotationConfig{
			Provider: AnnotationFile,
			Model:    "gpt-4o-mini",
			File:     "code_nodes_enhanced.json",
		},
		Server: ServerConfig{
			Port: 8080,
		},
	}
}
