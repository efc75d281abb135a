package main

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/subosito/gotenv"

	httpadapter "github.com/waqar741/EchoAI/adapters/http"
	"github.com/waqar741/EchoAI/domain"
	"github.com/waqar741/EchoAI/utils/config"
)

// Manual smoke test against a running relay: obtains a bearer token when
// JWT_SECRET is configured, then streams one reply.
//
//	go run ./test "tell me a joke"
func main() {
	_ = gotenv.Load()
	cfg := config.LoadClient()
	apiKey := os.Getenv("API_KEY")
	if cfg.RelayAPIKey != "" {
		apiKey = cfg.RelayAPIKey
	}

	prompt := "Say hello in five words."
	if len(os.Args) > 1 {
		prompt = strings.Join(os.Args[1:], " ")
	}

	fmt.Println("Starting streaming test against", cfg.RelayURL)

	token, err := getToken(cfg.RelayURL, apiKey)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to get token:", err)
		os.Exit(1)
	}
	if token != "" {
		fmt.Printf("Bearer token obtained: %s...\n", token[:min(20, len(token))])
	}

	if err := stream(cfg.RelayURL, apiKey, token, prompt); err != nil {
		fmt.Fprintln(os.Stderr, "Streaming failed:", err)
		os.Exit(1)
	}
	fmt.Println("Streaming test completed successfully")
}

// getToken returns "" when the relay does not issue tokens.
func getToken(baseURL, apiKey string) (string, error) {
	req, err := http.NewRequest(http.MethodPost, baseURL+"/api/auth/token", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(httpadapter.HeaderAPIKey, apiKey)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return "", nil
	default:
		return "", fmt.Errorf("auth failed with status %d: %s", resp.StatusCode, body)
	}

	var tr httpadapter.TokenResponse
	if err := sonic.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("malformed token response: %w", err)
	}
	return tr.Token, nil
}

func stream(baseURL, apiKey, token, prompt string) error {
	body, err := sonic.Marshal(domain.ChatRequest{
		Messages: []domain.ChatMessage{{Role: domain.UserRole, Content: prompt}},
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/api/chat/stream", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	} else {
		req.Header.Set(httpadapter.HeaderAPIKey, apiKey)
	}

	client := &http.Client{Timeout: 2 * time.Minute}
	startTime := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	fmt.Printf("Response Status: %d\n", resp.StatusCode)
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, b)
	}

	var firstByte time.Duration
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if firstByte == 0 && line != "" {
			firstByte = time.Since(startTime)
		}
		fmt.Println(line)
		if line == "data: [DONE]" {
			fmt.Printf("First event after %v, done after %v\n", firstByte, time.Since(startTime))
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return fmt.Errorf("stream ended without [DONE]")
}
