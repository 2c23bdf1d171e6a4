// Command crud_server serves the in-memory CRUD API used to try crudfire
// locally, e.g. crudfire --target http://localhost:3000.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/crudfire/internal/target"
)

func main() {
	port := flag.Int("port", 3000, "Listening port")
	path := flag.String("path", "/usuarios", "Collection path")
	latency := flag.Duration("latency", 0, "Delay added to every response")
	failureRate := flag.Float64("failure-rate", 0, "Fraction of requests answered with 500")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Seed for failure injection")
	verbose := flag.Bool("verbose", false, "Log every request")
	flag.Parse()

	if *port <= 0 {
		log.Fatalf("port must be > 0")
	}

	logger := zap.NewNop()
	if *verbose {
		var err error
		if logger, err = zap.NewDevelopment(); err != nil {
			log.Fatal(err)
		}
		defer func() { _ = logger.Sync() }()
	}

	srv := target.New(*path,
		target.WithLogger(logger),
		target.WithLatency(*latency),
		target.WithFailureRate(*failureRate, *seed),
	)

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("crud server listening on %s%s", addr, *path)
	server := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Fatal(server.ListenAndServe())
}
