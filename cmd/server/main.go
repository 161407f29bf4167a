package main

import (
	"log"

	"github.com/mostrop2p/mostro-push/internal/transport/http"
)

func main() {
	if err := http.Run(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
