package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/okrylov/countersign/internal/db"
	"github.com/okrylov/countersign/internal/handlers"
	"github.com/okrylov/countersign/internal/logging"
	"github.com/okrylov/countersign/internal/notify"
	"github.com/okrylov/countersign/internal/tasks"
)

func main() {
	logging.InitLogger()

	if err := godotenv.Load(); err != nil {
		logging.Logger.Warnf("No .env file loaded: %v", err)
	}

	validateEnv()
	dbConn := initDB()
	defer dbConn.Close()

	dispatcher, hub := initNotifications()
	defer dispatcher.Close()

	service := tasks.NewService(db.NewTaskRepository(dbConn), dispatcher, pageSize())
	handler := &handlers.Handler{
		Service:     service,
		Hub:         hub,
		RateLimiter: handlers.NewRateLimiter(5, time.Second),
	}

	server := &http.Server{
		Addr:    ":" + os.Getenv("SERVER_PORT"),
		Handler: handler.Router(),
	}
	startServer(server)
}

func validateEnv() {
	requiredEnvVars := []string{"SERVER_PORT"}
	if taskDBDriver() == "postgres" {
		requiredEnvVars = append(requiredEnvVars,
			"POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_DB",
			"POSTGRES_HOST", "POSTGRES_PORT",
		)
	}
	for _, env := range requiredEnvVars {
		if os.Getenv(env) == "" {
			logging.Logger.Fatalf("Environment variable %s must be set", env)
		}
	}
}

// TASK_DB_DRIVER selects postgres (default) or sqlite3 for local runs.
func taskDBDriver() string {
	driver := os.Getenv("TASK_DB_DRIVER")
	if driver == "" {
		return "postgres"
	}
	return driver
}

func initDB() *sql.DB {
	driver := taskDBDriver()

	var dsn string
	switch driver {
	case "postgres":
		dsn = fmt.Sprintf(
			"host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
			os.Getenv("POSTGRES_HOST"), os.Getenv("POSTGRES_USER"),
			os.Getenv("POSTGRES_PASSWORD"), os.Getenv("POSTGRES_DB"),
			os.Getenv("POSTGRES_PORT"))
	case "sqlite3":
		dsn = os.Getenv("TASK_DB_PATH")
		if dsn == "" {
			dsn = "tasks.db"
		}
	default:
		logging.Logger.Fatalf("Unsupported TASK_DB_DRIVER %q", driver)
	}

	dbConn, err := db.Connect(driver, dsn)
	if err != nil {
		logging.Logger.Fatalf("Failed to connect to database: %v", err)
	}
	if err := db.EnsureSchema(dbConn); err != nil {
		logging.Logger.Fatalf("Failed to ensure schema: %v", err)
	}
	return dbConn
}

func initNotifications() (*notify.Dispatcher, *notify.WSHub) {
	hub := notify.NewWSHub()
	sinks := []notify.Sink{hub}
	if url := os.Getenv("NOTIFY_WEBHOOK_URL"); url != "" {
		sinks = append(sinks, notify.NewWebhookSink(url))
	}
	return notify.NewDispatcher(sinks...), hub
}

func pageSize() int {
	size, err := strconv.Atoi(os.Getenv("PAGE_SIZE"))
	if err != nil || size <= 0 {
		return tasks.DefaultPageSize
	}
	return size
}

func startServer(server *http.Server) {
	logging.Logger.Infof("Starting countersign server on %s", server.Addr)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Logger.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Logger.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logging.Logger.Fatalf("Server shutdown failed: %v", err)
	}
	logging.Logger.Info("Server stopped")
}
