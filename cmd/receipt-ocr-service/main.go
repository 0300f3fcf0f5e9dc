package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"

	"github.com/finsight/receipt-ocr-service/internal/config"
	"github.com/finsight/receipt-ocr-service/internal/ocr"
	"github.com/finsight/receipt-ocr-service/internal/ocr/tesseract"
	"github.com/finsight/receipt-ocr-service/internal/worker"
)

func main() {
	// A temporary logger for the bootstrap process
	log, err := logger.New(os.TempDir(), "receipt-ocr-bootstrap.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create bootstrap logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load("", log)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize the final logger based on the loaded configuration
	log, err = logger.New(cfg.Service.LogDir, "receipt-ocr-service.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create final logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	recognitionService := ocr.NewService(
		tesseract.Factory(cfg.OCR.Languages...),
		cfg.OCRConfig(),
		log,
	)
	defer recognitionService.Close()

	natsWorker, err := worker.New(
		cfg.NATS.URL,
		cfg.NATS.StreamName,
		cfg.NATS.ScannedSubject,
		cfg.NATS.ConsumerName,
		cfg.NATS.RecognizedSubject,
		cfg.NATS.DeadLetterSubject,
		cfg.NATS.ReceiptBucket,
		cfg.NATS.ResultBucket,
		recognitionService,
		log,
	)
	if err != nil {
		log.Fatalf("Failed to initialize NATS worker: %v", err)
	}
	defer natsWorker.Close()

	go func() {
		log.Infof("Starting NATS worker...")

		runErr := natsWorker.Run(ctx)
		if runErr != nil {
			log.Errorf("NATS worker stopped with error: %v", runErr)
			cancel()
		}
	}()

	<-sigChan
	log.Infof("Shutdown signal received, gracefully shutting down...")
	cancel()
	time.Sleep(2 * time.Second)
	log.Infof("Shutdown complete.")
}
