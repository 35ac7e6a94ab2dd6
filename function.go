// Package etl is the Cloud Functions entry point. The function is triggered
// by a Pub/Sub topic and runs one full collection.
package etl

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/cloudevents/sdk-go/v2/event"

	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/app"
	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/config"
	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/logger"
	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/trigger"
)

var (
	once    sync.Once
	shared  *app.App
	initErr error
)

func init() {
	functions.CloudEvent("CollectPubSub", collectPubSub)
	functions.HTTP("Collect", collectHTTP)
}

// instance builds the app on first use. Secrets are resolved once per
// function instance and reused across invocations.
func instance() (*app.App, error) {
	once.Do(func() {
		cfg, err := config.Load()
		if err != nil {
			initErr = err
			return
		}
		logger.SetLevel(logger.ParseLevel(cfg.LogLevel))
		shared, initErr = app.New(context.Background(), cfg, app.Deps{})
	})
	return shared, initErr
}

func collectPubSub(ctx context.Context, e event.Event) error {
	a, err := instance()
	if err != nil {
		return fmt.Errorf("init collector: %w", err)
	}
	res, err := trigger.HandlePubSub(ctx, a, e.Data())
	if err != nil {
		return err
	}
	if a.ExceedsFailureThreshold(res) {
		return fmt.Errorf("run %s failure ratio %.2f exceeds threshold", res.RunID, res.FailureRate())
	}
	return nil
}

func collectHTTP(w http.ResponseWriter, r *http.Request) {
	a, err := instance()
	if err != nil {
		logger.Errorf("init collector: %v", err)
		http.Error(w, "collector unavailable", http.StatusInternalServerError)
		return
	}
	res, err := a.RunOnce(r.Context())
	if err != nil {
		logger.Errorf("run failed: %v", err)
		http.Error(w, "run failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(res)
}
