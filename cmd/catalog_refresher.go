package main

import (
	"context"
	"log"
	"time"

	"esimstore/internal/services"
)

const (
	catalogRefreshInterval = 6 * time.Hour
	catalogRefreshTimeout  = 2 * time.Minute
)

// startCatalogRefresher keeps the in-memory package catalog warm. The first
// refresh runs immediately so the bot has plans to sell on startup.
func startCatalogRefresher(ctx context.Context, catalog *services.CatalogService, infoLog, errorLog *log.Logger) {
	if catalog == nil {
		return
	}

	go func() {
		ticker := time.NewTicker(catalogRefreshInterval)
		defer ticker.Stop()

		runOnce := func() {
			runCtx, cancel := context.WithTimeout(ctx, catalogRefreshTimeout)
			err := catalog.Refresh(runCtx)
			cancel()
			if err != nil {
				if errorLog != nil {
					errorLog.Printf("catalog refresher: %v", err)
				}
			} else if infoLog != nil {
				infoLog.Printf("catalog refresher: %d countries available", len(catalog.Countries()))
			}
		}

		runOnce()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runOnce()
			}
		}
	}()
}
