package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/receipt-reconciler/constants"
	"github.com/joseph-ayodele/receipt-reconciler/internal/common"
	"github.com/joseph-ayodele/receipt-reconciler/internal/pipeline"
)

func init() {
	rootCmd.AddCommand(scanCmd)
}

var scanCmd = &cobra.Command{
	Use:   "scan <dir>",
	Short: "Extract receipts from every image in a directory",
	Long: `Send each image in dir to the extraction model and save the result.
Every image consumes one unit of quota. The run stops as soon as the quota
or the provider credit is exhausted; images already saved are kept.`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func runScan(cmd *cobra.Command, args []string) error {
	p, err := plan()
	if err != nil {
		return err
	}
	images, err := loadImages(args[0])
	if err != nil {
		return err
	}
	if len(images) == 0 {
		return fmt.Errorf("no images found in %s", args[0])
	}

	a, logger, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()
	if a.Processor == nil {
		return errors.New("scanning requires OPENAI_API_KEY")
	}

	logger.Info("starting scan", "dir", args[0], "images", len(images), "user_id", userID)
	res, err := a.Processor.RescanBatch(cmd.Context(), userID, p, images)
	flagged := 0
	for _, r := range res.Saved {
		if r.Status == constants.StatusUnderReview {
			flagged++
		}
	}
	fmt.Printf("Scan complete!\n")
	fmt.Printf("- Images: %d\n", len(images))
	fmt.Printf("- Saved: %d (%d flagged as possible duplicates)\n", res.Completed, flagged)
	fmt.Printf("- Failures: %d\n", len(res.Failures))
	for _, f := range res.Failures {
		fmt.Printf("    %s: %v\n", f.Name, f.Err)
	}
	if errors.Is(err, common.ErrQuotaExceeded) {
		fmt.Printf("- Stopped early: %v\n", err)
	}
	return err
}

func loadImages(dir string) ([]pipeline.Image, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	var images []pipeline.Image
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		mime, ok := constants.ImageMimeTypes[constants.NormalizeExt(filepath.Ext(e.Name()))]
		if !ok {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		images = append(images, pipeline.Image{Name: e.Name(), Data: data, MimeType: mime})
	}
	return images, nil
}
