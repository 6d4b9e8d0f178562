package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ducminhle1904/adaptive-dip-bot/internal/config"
	"github.com/ducminhle1904/adaptive-dip-bot/internal/logger"
	"github.com/ducminhle1904/adaptive-dip-bot/pkg/reporting"
)

func main() {
	var (
		configFile = flag.String("config", "adaptive", "Configuration file (name under configs/ or a path)")
		envFile    = flag.String("env", ".env", "Environment file path")
		demo       = flag.Bool("demo", false, "Paper trading against a simulated market, no quote sources or funds needed")
		reportDir  = flag.String("report", "", "Write an Excel, CSV and JSON report of the saved state to this directory and exit")
		status     = flag.Bool("status", false, "Print the saved state as tables and exit")
	)
	flag.Parse()

	if err := loadEnvFile(*envFile); err != nil {
		log.Printf("Warning: %v, using process environment only", err)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	offline := *status || *reportDir != ""
	botLog, err := logger.NewLogger("adaptive-bot", logger.Options{
		Dir:     cfg.Log.Dir,
		Level:   cfg.Log.Level,
		Console: cfg.Log.Console && !offline,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer botLog.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, botLog, options{demo: *demo, offline: offline})
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.close()

	if offline {
		if err := inspect(ctx, a, *status, *reportDir); err != nil {
			log.Fatalf("Failed to read saved state: %v", err)
		}
		return
	}

	printBanner(cfg, *demo, botLog.GetLogPath())
	if err := a.run(ctx); err != nil {
		log.Printf("Engine stopped with error: %v", err)
		return
	}
	fmt.Println("✅ Bot stopped successfully")
}

// inspect restores the saved state without starting any loop
func inspect(ctx context.Context, a *app, printStatus bool, reportDir string) error {
	if err := a.engine.Restore(ctx); err != nil {
		return err
	}
	r := reporting.Collect(a.engine, time.Now())

	if printStatus {
		reporting.NewConsoleReporter(os.Stdout).PrintReport(r)
	}
	if reportDir == "" {
		return nil
	}

	xlsx := reporting.DefaultReportPath(reportDir, r.GeneratedAt)
	if err := reporting.NewExcelReporter().WriteWorkbook(r, xlsx); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	base := strings.TrimSuffix(xlsx, ".xlsx")
	if err := reporting.WriteTradesCSV(r, base+"_trades.csv"); err != nil {
		return fmt.Errorf("write trades csv: %w", err)
	}
	if err := reporting.WriteJSON(r, base+".json"); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	fmt.Printf("📄 Report written to %s\n", xlsx)
	return nil
}

func printBanner(cfg *config.Config, demo bool, logPath string) {
	mode := cfg.Execution.Mode
	if demo {
		mode = "demo (simulated market, paper fills)"
	}
	fmt.Println("🚀 Adaptive Dip Bot starting...")
	fmt.Printf("🔧 Execution: %s\n", mode)
	fmt.Printf("📊 Assets: %d, strategies: %d, triggers: %d configured\n",
		len(cfg.Assets), len(cfg.Strategies), len(cfg.Triggers))
	fmt.Printf("💾 Snapshots: %s\n", cfg.Persistence.Backend)
	if cfg.Monitoring.Enabled {
		fmt.Printf("🌐 API: %s\n", cfg.Monitoring.ListenAddr)
	}
	if logPath != "" {
		fmt.Printf("📝 Log: %s\n", logPath)
	}
	fmt.Println(strings.Repeat("=", 51))
}

func loadEnvFile(envFile string) error {
	if _, err := os.Stat(envFile); err != nil {
		return fmt.Errorf("env file %s not found", envFile)
	}
	return godotenv.Load(envFile)
}
