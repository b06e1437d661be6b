// Command inbound posts sample client messages to a running routerd.
//
//	go run ./demo/inbound [count]
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/refset/desk-routing/internal/logging"
	"github.com/refset/desk-routing/internal/routing"
)

var sampleMessages = []routing.InboundMessage{
	{
		FromEmail: "ops.cl0001@example-client.com",
		Subject:   "Cash balance",
		Body:      "Can you confirm our available cash balance for today?",
	},
	{
		FromEmail: "ops.cl0002@example-client.com",
		Subject:   "Trade status",
		Body:      "What is the status of trade TRD000003? We have not seen a confirmation.",
	},
	{
		FromEmail: "ops.cl0003@example-client.com",
		Subject:   "Fee dispute",
		Body:      "We were charged a custody fee we do not recognise. Please review and refund.",
	},
	{
		FromEmail: "ops.cl0001@example-client.com",
		Subject:   "Position summary",
		Body:      "Please send over our current holdings and positions.",
	},
	{
		FromEmail: "ops.cl0002@example-client.com",
		Subject:   "URGENT: settlement failed",
		Body:      "The settlement for yesterday failed and our counterparty is chasing. Please escalate.",
	},
	{
		FromEmail: "ops.cl0003@example-client.com",
		Subject:   "Close account",
		Body:      "We would like to close our secondary account at the end of the month.",
	},
	{
		FromEmail: "ops.cl0001@example-client.com",
		Subject:   "Sanctions screening",
		Body:      "Our compliance team is asking about a sanctions screening hit on a recent payment.",
	},
}

func main() {
	logger, err := logging.New(os.Getenv("LOG_LEVEL"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	baseURL := os.Getenv("ROUTER_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8088"
	}

	count := 5
	if len(os.Args) > 1 {
		n, err := strconv.Atoi(os.Args[1])
		if err != nil || n <= 0 {
			logger.Fatal("count must be a positive integer", zap.String("arg", os.Args[1]))
		}
		count = n
	}

	client := &http.Client{Timeout: 15 * time.Second}
	logger.Info("sending sample messages", zap.Int("count", count), zap.String("url", baseURL))

	sent := 0
	for i := 0; i < count; i++ {
		msg := sampleMessages[rand.Intn(len(sampleMessages))]
		msg.MessageID = fmt.Sprintf("demo-%d-%03d", time.Now().Unix(), i+1)

		res, err := post(client, baseURL+"/inbound", msg)
		if err != nil {
			logger.Warn("inbound failed", zap.String("message_id", msg.MessageID), zap.Error(err))
			continue
		}
		sent++
		logger.Info("routed",
			zap.String("message_id", msg.MessageID),
			zap.String("ticket_ref", res.TicketRef),
			zap.String("intent", res.IntentCode),
			zap.String("status", string(res.Status)),
			zap.String("owner", res.OwnerAgentCode))

		time.Sleep(500 * time.Millisecond)
	}

	logger.Info("done", zap.Int("sent", sent))
}

func post(client *http.Client, url string, msg routing.InboundMessage) (*routing.Result, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var res routing.Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if !res.OK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, res.Error)
	}
	return &res, nil
}
