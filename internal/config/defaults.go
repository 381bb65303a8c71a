package config

const (
	defaultDataDir             = "~/.local/share/sceneflow/data"
	defaultLogDir              = "~/.local/share/sceneflow/logs"
	defaultMediaDir            = "~/.local/share/sceneflow/media"
	defaultSocketPath          = "~/.local/share/sceneflow/sceneflowd.sock"
	defaultMaxConcurrentJobs   = 4
	defaultMaxRetries          = 3
	defaultAcceptanceThreshold = 0.9
	defaultRetryBackoffSeconds = 3
	defaultPollInterval        = 5
	defaultErrorRetryInterval  = 10
	defaultProviderBaseURL     = "https://generativelanguage.googleapis.com/v1beta"
	defaultProviderModel       = "veo-3.0-generate"
	defaultProviderTimeout     = 120
	defaultBucket              = "sceneflow-media"
	defaultPublicBaseURL       = "http://127.0.0.1:8787/media"
	defaultEventBuffer         = 1024
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:    defaultDataDir,
			LogDir:     defaultLogDir,
			MediaDir:   defaultMediaDir,
			SocketPath: defaultSocketPath,
		},
		Workflow: Workflow{
			MaxConcurrentJobs:   defaultMaxConcurrentJobs,
			MaxRetries:          defaultMaxRetries,
			AcceptanceThreshold: defaultAcceptanceThreshold,
			RetryBackoffSeconds: defaultRetryBackoffSeconds,
			PollInterval:        defaultPollInterval,
			ErrorRetryInterval:  defaultErrorRetryInterval,
		},
		Provider: Provider{
			BaseURL:        defaultProviderBaseURL,
			Model:          defaultProviderModel,
			TimeoutSeconds: defaultProviderTimeout,
		},
		ObjectStore: ObjectStore{
			Bucket:        defaultBucket,
			PublicBaseURL: defaultPublicBaseURL,
		},
		Events: Events{
			BufferCapacity: defaultEventBuffer,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
