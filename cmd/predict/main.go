package main

import (
	"context"
	"encoding/json"
	"fire-detection-backend/internal/core/utils"
	"fire-detection-backend/pkg/api"
	"fire-detection-backend/pkg/client"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
)

var imageExtensions = []string{".png", ".jpg", ".jpeg", ".gif"}

type fileResult struct {
	File                  string          `json:"file"`
	Id                    uint            `json:"id,omitempty"`
	Detections            []api.Detection `json:"detections,omitempty"`
	ClassifierProbability *float64        `json:"classifierProbability,omitempty"`
	Error                 string          `json:"error,omitempty"`
}

func collectImages(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("error reading %s: %w", arg, err)
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}

		err = filepath.WalkDir(arg, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && slices.Contains(imageExtensions, strings.ToLower(filepath.Ext(path))) {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("error walking %s: %w", arg, err)
		}
	}
	return paths, nil
}

func main() {
	serverURL := flag.String("server", "http://localhost:5000", "base url of the prediction api")
	modelType := flag.String("model", "yolo", "model to run: yolo or cnn")
	concurrency := flag.Int("concurrency", 4, "number of concurrent uploads")
	timeout := flag.Duration("timeout", 2*time.Minute, "per request timeout")
	flag.Parse()

	if flag.NArg() == 0 {
		log.Fatalf("usage: predict [flags] <image or directory>...")
	}

	paths, err := collectImages(flag.Args())
	if err != nil {
		log.Fatal(err)
	}
	if len(paths) == 0 {
		log.Fatalf("no images found")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := client.New(*serverURL, *timeout)
	if err := c.Health(ctx); err != nil {
		log.Fatalf("server at %s is not available: %v", *serverURL, err)
	}

	queue := make(chan string, len(paths))
	for _, path := range paths {
		queue <- path
	}
	close(queue)

	completed := make(chan utils.CompletedTask[string, api.PredictResponse], len(paths))

	worker := func(ctx context.Context, path string) (api.PredictResponse, error) {
		return c.Predict(ctx, path, *modelType, false)
	}

	utils.RunInPool(ctx, worker, queue, completed, *concurrency)

	bar := progressbar.NewOptions(len(paths),
		progressbar.OptionSetDescription("⏳ predicting"),
		progressbar.OptionSetWidth(30),
		progressbar.OptionClearOnFinish(),
	)

	results := make([]fileResult, 0, len(paths))
	failed := 0
	for task := range completed {
		res := fileResult{File: task.Input}
		if task.Error != nil {
			res.Error = task.Error.Error()
			failed++
		} else {
			res.Id = task.Result.Id
			res.Detections = task.Result.Detections
			if *modelType == "cnn" {
				p := task.Result.ClassifierProbability
				res.ClassifierProbability = &p
			}
		}
		results = append(results, res)
		_ = bar.Add(1)
	}

	slices.SortFunc(results, func(a, b fileResult) int { return strings.Compare(a.File, b.File) })

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		log.Fatalf("error writing results: %v", err)
	}

	log.Printf("processed %d images, %d failed", len(paths), failed)
	if failed > 0 {
		stop()
		os.Exit(1)
	}
}
