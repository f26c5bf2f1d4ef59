// Command feedsim runs the standalone backend simulator for local
// development of the console.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/mecanolabs/jarvis-console/internal/feedsim"
)

func main() {
	port := 8000
	if v := os.Getenv("SIM_PORT"); v != "" {
		fmt.Sscanf(v, "%d", &port)
	}

	sim := feedsim.NewServer()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	sim.RegisterRoutes(e)

	go func() {
		addr := fmt.Sprintf(":%d", port)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start simulator: %v", err)
		}
	}()

	log.Printf("Feed simulator started on port %d", port)
	log.Printf("Feed:   ws://localhost:%d/ws/events", port)
	log.Printf("Launch: POST http://localhost:%d/api/tasks/launch", port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down simulator...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown gracefully: %v", err)
	}
}
