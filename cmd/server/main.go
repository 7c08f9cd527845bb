package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"google.golang.org/api/option"

	"github.com/nikeshsapkota32/save-more/config"
	"github.com/nikeshsapkota32/save-more/internal/claim"
	"github.com/nikeshsapkota32/save-more/internal/lifecycle"
	"github.com/nikeshsapkota32/save-more/internal/notify"
	"github.com/nikeshsapkota32/save-more/internal/store"
	"github.com/nikeshsapkota32/save-more/internal/token"
	"github.com/nikeshsapkota32/save-more/internal/web/handlers"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("save-more-server %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", buildDate)
		os.Exit(0)
	}

	cfg := config.Load()
	ctx := context.Background()

	if cfg.Token.SigningKey == "" {
		log.Println("WARNING: TOKEN_SIGNING_KEY is empty — generating an ephemeral key (set TOKEN_SIGNING_KEY in production)")
		key, err := token.GenerateSigningKey()
		if err != nil {
			log.Fatalf("Failed to generate signing key: %v", err)
		}
		cfg.Token.SigningKey = key
	}

	// Record store: Firestore when a project is configured, in-memory
	// otherwise (development and tests).
	var st store.Store
	if cfg.Firebase.ProjectID != "" {
		if cfg.Firebase.UseEmulator {
			os.Setenv("FIRESTORE_EMULATOR_HOST", cfg.Firebase.EmulatorFirestoreHost)
			os.Setenv("FIREBASE_AUTH_EMULATOR_HOST", cfg.Firebase.EmulatorAuthHost)
		}
		fs, err := store.NewFirestore(ctx, cfg.Firebase.ProjectID, cfg.Firebase.FirestoreDatabase, cfg.Firebase.CredentialsPath)
		if err != nil {
			log.Fatalf("Failed to initialize Firestore: %v", err)
		}
		defer fs.Close()
		st = fs
	} else {
		log.Println("WARNING: FIREBASE_PROJECT_ID is empty — using in-memory store")
		st = store.NewMemory()
	}

	tokens := token.New(st, cfg.Token.SigningKey, cfg.Token.Issuer)
	engine := lifecycle.NewEngine(st, tokens)
	coordinator := claim.New(engine, tokens, cfg.Claim.IssueAttempts,
		time.Duration(cfg.Claim.IssueBackoffMS)*time.Millisecond)

	// Notification fan-out: Kafka when brokers are configured, process
	// log otherwise.
	var delivery notify.Delivery = notify.LogDelivery{}
	if len(cfg.Notify.KafkaBrokers) > 0 {
		kd := notify.NewKafkaDelivery(cfg.Notify.KafkaBrokers, cfg.Notify.KafkaTopic)
		defer kd.Close()
		delivery = kd
	}
	hub := notify.NewHub(delivery)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	feed, err := st.SubscribeAvailable(runCtx)
	if err != nil {
		log.Fatalf("Failed to open change feed: %v", err)
	}
	go hub.Run(runCtx, feed)

	// Expiry sweep: time-driven available -> expired transitions.
	go func() {
		ticker := time.NewTicker(time.Duration(cfg.Notify.SweepIntervalSec) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if n, err := engine.ExpireOverdue(runCtx); err != nil {
					log.Printf("Expiry sweep failed: %v", err)
				} else if n > 0 {
					log.Printf("Expired %d overdue listing(s)", n)
				}
			}
		}
	}()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check.
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	h := handlers.New(engine, coordinator, tokens, hub)

	// All API routes require an authenticated caller.
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(ctx, cfg))
		h.Routes(r)
	})

	addr := fmt.Sprintf(":%s", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Println("Shutting down server...")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("save-more server starting on %s (env: %s)", addr, cfg.Server.Env)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server stopped")
}

// authMiddleware selects Firebase ID-token verification when a project
// is configured, header-trusting dev auth otherwise.
func authMiddleware(ctx context.Context, cfg *config.Config) func(http.Handler) http.Handler {
	if cfg.Firebase.ProjectID == "" {
		log.Println("WARNING: dev auth enabled — callers identified by X-User-ID header")
		return handlers.DevAuthMiddleware
	}

	var opts []option.ClientOption
	if cfg.Firebase.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.Firebase.CredentialsPath))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.Firebase.ProjectID}, opts...)
	if err != nil {
		log.Fatalf("Failed to initialize Firebase app: %v", err)
	}
	authClient, err := app.Auth(ctx)
	if err != nil {
		log.Fatalf("Failed to initialize Firebase auth: %v", err)
	}
	return handlers.AuthMiddleware(authClient)
}
