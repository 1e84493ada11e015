// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/bsdz/calcengine/calcengine"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

var (
	servePort    int
	serveDebug   bool
	serveConfig  string
	serveSnapDir string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the calcengine diagnostic HTTP API",
	Run:   runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "port to listen on")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "enable gin debug mode and request logging")
	serveCmd.Flags().StringVar(&serveConfig, "config", "", "path to calcengine.yaml (optional)")
	serveCmd.Flags().StringVar(&serveSnapDir, "snapshot-dir", "", "Badger snapshot directory (optional)")
}

func runServe(cmd *cobra.Command, args []string) {
	if serveDebug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	shutdownTelemetry, err := setupTelemetry(serveDebug)
	if err != nil {
		slog.Error("setting up telemetry", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			slog.Warn("shutting down telemetry", slog.Any("err", err))
		}
	}()

	var cfg *calcengine.EngineConfig
	if serveConfig != "" {
		loaded, err := calcengine.LoadConfig(serveConfig)
		if err != nil {
			slog.Error("loading config", slog.Any("err", err))
			os.Exit(1)
		}
		cfg = loaded
	} else {
		cfg = &calcengine.EngineConfig{}
	}

	engine := calcengine.New(calcengine.WithLogger(slog.Default()))

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("calcengine"))
	if serveDebug {
		router.Use(gin.Logger())
	}

	debug := router.Group("/debug")
	debug.Use(rateLimitMiddleware(20, 5))
	registerDebugRoutes(debug, engine)
	registerMetricsRoute(debug)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		slog.Info("shutting down calcengine server")
		os.Exit(0)
	}()

	instanceID := uuid.NewString()
	banner := fmt.Sprintf("calcengine diagnostic server starting (instance=%s, typed_keying_default=%v)", instanceID, cfg.TypedKeyingDefault)
	if isatty.IsTerminal(os.Stdout.Fd()) {
		fmt.Println(banner)
	} else {
		slog.Info(banner)
	}

	addr := fmt.Sprintf(":%d", servePort)
	slog.Info("starting calcengine server", slog.String("address", addr))
	if err := router.Run(addr); err != nil {
		slog.Error("server exited", slog.Any("err", err))
		os.Exit(1)
	}
}

// registerDebugRoutes wires the read-only cache-introspection endpoints,
// in the shape of services/trace/routes.go's /debug/* group.
func registerDebugRoutes(g *gin.RouterGroup, e *calcengine.CalcEngine) {
	g.GET("/cache", func(c *gin.Context) {
		snapshot := e.Cache().Snapshot()
		out := make(map[string]any, len(snapshot))
		for id, rec := range snapshot {
			out[string(id)] = gin.H{
				"requires": rec.RequiresSlice(),
			}
		}
		c.JSON(http.StatusOK, gin.H{"nodes": out, "count": len(out)})
	})

	g.GET("/id_map", func(c *gin.Context) {
		c.JSON(http.StatusOK, e.Cache().IDMap())
	})

	g.GET("/required_by/:id", func(c *gin.Context) {
		id := calcengine.ShortID(c.Param("id"))
		required := e.Cache().RequiredBy(id)
		ids := make([]string, 0, len(required))
		for rid := range required {
			ids = append(ids, string(rid))
		}
		c.JSON(http.StatusOK, gin.H{"id": id, "required_by": ids})
	})
}
