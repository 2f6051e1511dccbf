package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	llmgateway "github.com/relay-labs/llm-gateway"
	"github.com/relay-labs/llm-gateway/internal/logging"
	"github.com/relay-labs/llm-gateway/internal/tracing"
	"github.com/relay-labs/llm-gateway/internal/version"
	"github.com/relay-labs/llm-gateway/providers"
)

func main() {
	// Load and validate config if GATEWAY_CONFIG is set.
	var cfg llmgateway.Config
	if cfgPath := os.Getenv("GATEWAY_CONFIG"); cfgPath != "" {
		loaded, err := llmgateway.LoadConfig(cfgPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		if err := llmgateway.ValidateConfig(*loaded); err != nil {
			log.Fatalf("Invalid config: %v", err)
		}
		cfg = *loaded
		log.Printf("Config loaded: %d provider(s), %d guard(s)", len(cfg.Providers), len(cfg.Guards))
	}

	shutdownTracing := tracing.Setup(context.Background())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(ctx)
	}()

	gw, err := llmgateway.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create gateway: %v", err)
	}
	defer func() { _ = gw.Close() }()

	registerProviders(gw, cfg)
	if len(gw.List()) == 0 {
		log.Fatal("No providers configured. Set at least one provider API key (e.g., OPENAI_API_KEY, ANTHROPIC_API_KEY) or list providers in the config file")
	}

	r := newRouter(gw, cfg.Server.CORSOrigins)

	addr := cfg.Server.Addr
	if addr == "" {
		addr = ":8080"
	}
	if p := os.Getenv("PORT"); p != "" {
		addr = ":" + p
	}
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		log.Println("Shutting down gracefully…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}()

	log.Printf("RelayGateway %s listening on %s (%d provider(s))", version.Short(), addr, len(gw.List()))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		stop()
		log.Fatalf("Server error: %v", err) //nolint:gocritic
	}
	log.Println("Server stopped.")
}

// registerProviders wires the configured providers, falling back to the
// conventional environment variables when no config entry exists.
func registerProviders(gw *llmgateway.Gateway, cfg llmgateway.Config) {
	configured := make(map[string]bool)
	for _, pc := range cfg.Providers {
		key := pc.APIKey
		if key == "" {
			key = os.Getenv(strings.ToUpper(pc.Name) + "_API_KEY")
		}
		p, err := buildProvider(pc.Name, key, pc.BaseURL)
		if err != nil {
			log.Fatalf("%s provider: %v", pc.Name, err)
		}
		gw.RegisterProvider(p)
		configured[pc.Name] = true
		log.Printf("Provider registered: %s", pc.Name)
	}

	// Env-var auto-registration for providers not in the config.
	for _, name := range []string{"openai", "anthropic"} {
		if configured[name] {
			continue
		}
		key := os.Getenv(strings.ToUpper(name) + "_API_KEY")
		if key == "" {
			continue
		}
		p, err := buildProvider(name, key, "")
		if err != nil {
			log.Fatalf("%s provider: %v", name, err)
		}
		gw.RegisterProvider(p)
		log.Printf("Provider registered: %s", name)
	}
}

func buildProvider(name, apiKey, baseURL string) (providers.Provider, error) {
	switch name {
	case "anthropic":
		return providers.NewAnthropic(apiKey, baseURL)
	default:
		return providers.NewOpenAI(apiKey, baseURL)
	}
}

// newRouter builds the HTTP router.
func newRouter(gw *llmgateway.Gateway, corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware)
	r.Use(corsMiddleware(corsOrigins...))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/v1/models", modelsHandler(gw))
	r.Post("/v1/chat/completions", completionsHandler(gw))
	r.Post("/v1/embeddings", embeddingsHandler(gw))

	return r
}

// corsMiddleware sets permissive CORS headers for the configured origins.
func corsMiddleware(origins ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.TrimSpace(o)] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowed["*"] || allowed[origin]) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
