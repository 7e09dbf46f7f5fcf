package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"time"
)

func main() {
	apiURL := os.Getenv("API_URL")
	if apiURL == "" {
		apiURL = "http://api:8080/titles"
	}

	ratePerSec := 1
	if v := os.Getenv("RATE_PER_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			ratePerSec = n
		}
	}

	concurrency := 1
	if v := os.Getenv("CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			concurrency = n
		}
	}

	for i := 0; i < concurrency; i++ {
		go submitLoop(apiURL, ratePerSec/concurrency)
	}

	select {} // block forever
}

func submitLoop(apiURL string, rps int) {
	interval := time.Second
	if rps > 0 {
		interval = time.Second / time.Duration(rps)
	}
	if interval < time.Millisecond {
		interval = time.Millisecond // prevent very tight loop that overwhelms API inside container
	}
	ticker := time.NewTicker(interval)
	for {
		<-ticker.C
		body, _ := json.Marshal(randomSubmission())
		resp, err := http.Post(apiURL, "application/json", bytes.NewReader(body))
		if err != nil {
			log.Printf("failed to submit job: %v", err)
			continue
		}
		log.Printf("submitted request, status: %d", resp.StatusCode)
		resp.Body.Close()
	}
}

// randomSubmission mostly produces valid requests, with occasional invalid
// ones to exercise the validation path.
func randomSubmission() map[string]any {
	switch rand.Intn(10) {
	case 0:
		return map[string]any{"email": "not-an-email", "channel": randomChannel()}
	case 1:
		return map[string]any{"email": randomEmail(), "channel": ""}
	case 2:
		return map[string]any{"channel": randomChannel()}
	default:
		return map[string]any{"email": randomEmail(), "channel": randomChannel()}
	}
}

func randomEmail() string {
	return fmt.Sprintf("user%d@example.com", rand.Intn(1000))
}

func randomChannel() string {
	channels := []string{"tech", "gaming", "cooking", "travel", "music"}
	return channels[rand.Intn(len(channels))]
}
