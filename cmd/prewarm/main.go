package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"alcptprep"

	"github.com/joho/godotenv"
)

// prewarm generates all missing artifacts for one test from the command
// line, synchronously, so a fresh test can be fully prepared before it is
// ever served.
func main() {
	testNumber := flag.String("test", "", "test number to prewarm (required)")
	audioOnly := flag.Bool("audio", false, "generate audio only")
	explanationsOnly := flag.Bool("explanations", false, "generate explanations only")
	estimate := flag.Bool("estimate", false, "print the cost estimate and exit without generating")
	verbose := flag.Bool("verbose", false, "enable verbose logging")
	flag.Parse()

	if *testNumber == "" {
		flag.Usage()
		os.Exit(1)
	}

	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}
	alcptprep.SetVerbose(*verbose)

	driver, dsn := "sqlite3", "./alcpt.db"
	if url := os.Getenv("DATABASE_URL"); url != "" {
		driver, dsn = "postgres", url
	}

	store, err := alcptprep.OpenStore(driver, dsn)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	ctx := context.Background()

	test, err := store.GetTestByNumber(ctx, *testNumber)
	if err != nil {
		log.Fatalf("Failed to find test %s: %v", *testNumber, err)
	}
	questions, err := store.GetQuestionsByTestID(ctx, test.ID)
	if err != nil {
		log.Fatalf("Failed to load questions: %v", err)
	}
	fmt.Printf("Test %s (%s): %d questions\n", test.TestNumber, test.Name, len(questions))

	if *estimate {
		printEstimate(alcptprep.EstimateCosts(questions))
		return
	}

	openaiKey := os.Getenv("OPENAI_API_KEY")
	if openaiKey == "" {
		log.Fatal("OPENAI_API_KEY environment variable is required")
	}
	geminiKey := os.Getenv("GEMINI_API_KEY")
	if geminiKey == "" {
		log.Fatal("GEMINI_API_KEY environment variable is required")
	}

	audioDir := os.Getenv("AUDIO_STORAGE")
	if audioDir == "" {
		audioDir = "audio_storage"
	}

	speech, err := alcptprep.NewSpeechGenerator(openaiKey, audioDir)
	if err != nil {
		log.Fatalf("Failed to set up speech generator: %v", err)
	}
	explainer, err := alcptprep.NewExplainer(ctx, geminiKey)
	if err != nil {
		log.Fatalf("Failed to set up explainer: %v", err)
	}

	genLogger, err := alcptprep.NewGenerationLogger("prewarm_test_" + test.TestNumber)
	if err != nil {
		log.Fatalf("Failed to create generation logger: %v", err)
	}
	defer genLogger.Close()
	explainer.SetLogger(genLogger)

	cache := alcptprep.NewArtifactCache(store, speech, explainer)
	optimizer := alcptprep.NewBatchOptimizer(cache)

	if !*audioOnly {
		fmt.Println("Generating Arabic explanations...")
		printResult("explanations", optimizer.BatchGenerateExplanations(ctx, questions))
	}
	if !*explanationsOnly {
		fmt.Println("Generating audio...")
		printResult("audio", optimizer.BatchGenerateAudio(ctx, questions))
	}
}

func printResult(kind string, result *alcptprep.BatchResult) {
	fmt.Printf("  %s: %d processed, %d failed, %d skipped\n", kind, result.Processed, result.Failed, result.Skipped)
	for _, e := range result.Errors {
		fmt.Printf("    error: %s\n", e)
	}
}

func printEstimate(est *alcptprep.CostEstimate) {
	fmt.Printf("Explanations needed: %d\n", est.ExplanationsNeeded)
	fmt.Printf("Audio files needed:  %d\n", est.AudioNeeded)
	fmt.Printf("Estimated Gemini cost: $%.3f\n", est.EstimatedGeminiCost)
	fmt.Printf("Estimated OpenAI cost: $%.3f\n", est.EstimatedOpenAICost)
	fmt.Printf("Total estimated cost:  $%.3f\n", est.TotalEstimatedCost)
	fmt.Printf("Savings vs. full regeneration: %d%% ($%.3f vs $%.3f)\n",
		est.Savings.PercentageSaved, est.Savings.WithCaching, est.Savings.WithoutCaching)
}
