package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"alcptprep"

	"github.com/gorilla/sessions"
	"github.com/joho/godotenv"
)

func main() {
	// .env is optional; real deployments use the environment directly.
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	alcptprep.SetVerbose(os.Getenv("VERBOSE") == "1")

	openaiKey := os.Getenv("OPENAI_API_KEY")
	if openaiKey == "" {
		log.Fatal("OPENAI_API_KEY environment variable is required")
	}
	geminiKey := os.Getenv("GEMINI_API_KEY")
	if geminiKey == "" {
		log.Fatal("GEMINI_API_KEY environment variable is required")
	}

	driver, dsn := "sqlite3", "./alcpt.db"
	if url := os.Getenv("DATABASE_URL"); url != "" {
		driver, dsn = "postgres", url
	}

	store, err := alcptprep.OpenStore(driver, dsn)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	audioDir := os.Getenv("AUDIO_STORAGE")
	if audioDir == "" {
		audioDir = "audio_storage"
	}
	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = "data"
	}

	speech, err := alcptprep.NewSpeechGenerator(openaiKey, audioDir)
	if err != nil {
		log.Fatalf("Failed to set up speech generator: %v", err)
	}

	ctx := context.Background()
	explainer, err := alcptprep.NewExplainer(ctx, geminiKey)
	if err != nil {
		log.Fatalf("Failed to set up explainer: %v", err)
	}

	cache := alcptprep.NewArtifactCache(store, speech, explainer)

	processor := alcptprep.NewProcessor(store, cache, alcptprep.ProcessorConfig{
		TickInterval: 5 * time.Second,
	})
	processor.Start()
	defer processor.Stop()

	secret := os.Getenv("SESSION_SECRET")
	if secret == "" {
		secret = "alcpt-dev-secret"
		log.Printf("SESSION_SECRET not set, using development default")
	}

	server := &Server{
		store:     store,
		cache:     cache,
		processor: processor,
		answers:   alcptprep.NewAnswerService(store, cache),
		formatter: explainer,
		sessions:  sessions.NewCookieStore([]byte(secret)),
		audioDir:  audioDir,
		dataDir:   dataDir,
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8180"
	}

	log.Printf("Starting server on port %s", port)
	log.Fatal(http.ListenAndServe(":"+port, server.routes()))
}
