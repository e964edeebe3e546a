// Package main provides a batch submission client for the OCR service. It
// sends every file on the command line concurrently, the way interactive
// front ends do, and prints replies in completion order.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/wudi/ocrserve/rpc"
)

func main() {
	var (
		server  string
		batchID int32
		timeout time.Duration
		saveDir string
	)

	rootCmd := &cobra.Command{
		Use:           "ocrsubmit [files...]",
		Short:         "Submit images to an ocrserve instance",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, args []string) error {
			return run(server, batchID, timeout, saveDir, args)
		},
	}

	rootCmd.Flags().StringVarP(&server, "server", "s", "http://127.0.0.1:50051", "Base URL of the ocrserve instance")
	rootCmd.Flags().Int32VarP(&batchID, "batch", "b", 1, "Batch identifier stamped on every image")
	rootCmd.Flags().DurationVarP(&timeout, "timeout", "t", 2*time.Minute, "Per-image timeout, 0 to wait forever")
	rootCmd.Flags().StringVarP(&saveDir, "save-dir", "d", "", "Directory to save processed images into")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ocrsubmit: %v\n", err)
		os.Exit(1)
	}
}

type outcome struct {
	file string
	resp *rpc.OCRResponse
	err  error
}

func run(server string, batchID int32, timeout time.Duration, saveDir string, files []string) error {
	if saveDir != "" {
		if err := os.MkdirAll(saveDir, 0o755); err != nil {
			return fmt.Errorf("create save dir: %w", err)
		}
	}

	client := rpc.NewClient(&http.Client{}, server)

	results := make(chan outcome, len(files))
	var wg sync.WaitGroup
	for i, file := range files {
		wg.Add(1)
		go func(imageID int32, file string) {
			defer wg.Done()
			resp, err := submit(client, file, batchID, imageID, timeout)
			results <- outcome{file: file, resp: resp, err: err}
		}(int32(i), file)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	done, failed := 0, 0
	for res := range results {
		done++
		if res.err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "[%d/%d] %s: %v\n", done, len(files), res.file, res.err)
			continue
		}
		fmt.Printf("[%d/%d] %s (image %d, %.2f ms)\n%s\n\n",
			done, len(files), res.file, res.resp.ImageID, res.resp.ProcessingTimeMS, res.resp.ExtractedText)
		if saveDir != "" && len(res.resp.ProcessedImage) > 0 {
			if err := saveProcessed(saveDir, res.file, res.resp.ProcessedImage); err != nil {
				fmt.Fprintf(os.Stderr, "save processed %s: %v\n", res.file, err)
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d images failed", failed, len(files))
	}
	return nil
}

func submit(client *rpc.Client, path string, batchID, imageID int32, timeout time.Duration) (*rpc.OCRResponse, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	return client.ProcessImage(ctx, &rpc.ImageRequest{
		Filename:  filepath.Base(path),
		ImageData: data,
		BatchID:   batchID,
		ImageID:   imageID,
	})
}

func saveProcessed(dir, file string, data []byte) error {
	base := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	return os.WriteFile(filepath.Join(dir, base+".processed.png"), data, 0o644)
}
