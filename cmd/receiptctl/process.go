package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/emissionary/backend/config"
	"github.com/emissionary/backend/internal/app"
	"github.com/emissionary/backend/internal/domain"
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Process a receipt image or text file",
	Long: `Run the full pipeline on a receipt image (OCR first) or on a text file
that already holds recognized receipt text (starts at the quality gate).`,
	Example: `  # Process a photo through the OCR service
  receiptctl process --image receipt.jpg

  # Override the detected MIME type
  receiptctl process --image scan.bin --mime image/png

  # Skip OCR and process text directly
  receiptctl process --text receipt.txt`,
	RunE: runProcess,
}

func init() {
	processCmd.Flags().String("image", "", "Path to a receipt image")
	processCmd.Flags().String("mime", "", "Image MIME type (detected when omitted)")
	processCmd.Flags().String("text", "", "Path to a file with receipt text")
	processCmd.MarkFlagsMutuallyExclusive("image", "text")
	processCmd.MarkFlagsOneRequired("image", "text")
}

func runProcess(cmd *cobra.Command, args []string) error {
	imagePath, _ := cmd.Flags().GetString("image")
	mimeType, _ := cmd.Flags().GetString("mime")
	textPath, _ := cmd.Flags().GetString("text")

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	pipeline, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var result *domain.ProcessingResult
	if textPath != "" {
		text, err := os.ReadFile(textPath)
		if err != nil {
			return fmt.Errorf("reading text file: %w", err)
		}
		result, err = pipeline.Service.ProcessText(ctx, string(text))
		if err := printResult(cmd, result); err != nil {
			return err
		}
		return resultError(err)
	}

	image, err := os.ReadFile(imagePath)
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(image)
	}

	result, err = pipeline.Service.ProcessReceipt(ctx, &domain.ReceiptRequest{Image: image, MIMEType: mimeType})
	if err := printResult(cmd, result); err != nil {
		return err
	}
	return resultError(err)
}

func printResult(cmd *cobra.Command, result *domain.ProcessingResult) error {
	if result == nil {
		return nil
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// resultError keeps the exit status non-zero for failed results
func resultError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, domain.ErrCancelled) {
		return errors.New("interrupted")
	}
	return err
}
