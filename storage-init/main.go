package main

import (
	"context"
	"os"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"todo-api/storage"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")

	dbPath := os.Getenv("TODOS_DB_PATH")
	if dbPath == "" {
		dbPath = "./todos.db"
	}

	db, err := storage.Open(dbPath)
	if err != nil {
		log.Fatalf("open datastore: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := storage.Init(ctx, db); err != nil {
		log.Fatalf("create tables: %v", err)
	}

	log.WithField("path", dbPath).Info("storage init complete")
}
