package config

const (
	defaultNATSSubject = "clarity.search.completed"
	defaultProviderURL = "https://agent-api.browser.cash"
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: Server{
			Addr:                   ":8080",
			GRPCAddr:               ":9090",
			CORSOrigin:             "*",
			ReadTimeoutSeconds:     15,
			WriteTimeoutSeconds:    60,
			ShutdownTimeoutSeconds: 10,
			LogLevel:               "info",
		},
		Provider: Provider{
			BaseURL:           defaultProviderURL,
			Agent:             "gemini",
			Mode:              "text",
			StepLimit:         10,
			TimeoutSeconds:    30,
			RequestsPerSecond: 5,
			Burst:             5,
			BreakerFailures:   5,
			BreakerCooldown:   30,
		},
		Extractor: Extractor{
			Kind:           "llm",
			Model:          "google/gemini-2.5-flash",
			Title:          "Clarity",
			TimeoutSeconds: 60,
			Attempts:       2,
			MaxInputChars:  8000,
			OllamaURL:      "http://localhost:11434",
			OllamaModel:    "llama3.1",
		},
		Store: Store{
			DataDir: "data",
		},
		Session: Session{
			TTLMinutes:             60,
			CleanupIntervalSeconds: 60,
			Workers:                8,
		},
		NATS: NATS{
			Subject: defaultNATSSubject,
			Name:    "clarity-api",
		},
		Telemetry: Telemetry{
			ServiceName:    "clarity-api",
			MetricsEnabled: true,
		},
	}
}
