package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"IntentChain/sdk/go/intentchain"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/agents/register", func(w http.ResponseWriter, r *http.Request) {
		var req intentchain.RegisterAgentRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		writeEnvelope(w, http.StatusCreated, intentchain.Agent{
			ID:               "agent-demo",
			TrustchainID:     req.TrustChainID,
			PublicKeyAddress: req.AgentPublicKey,
			Label:            req.AgentLabel,
			CreatedAt:        time.Now().Unix(),
		})
	})
	mux.HandleFunc("/api/intents", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusCreated, intentchain.Intent{
			ID:           "int_demo",
			UserID:       "tc-demo",
			TrustChainID: "tc-demo",
			Status:       "pending",
			CreatedAt:    time.Now().Unix(),
			ExpiresAt:    time.Now().Add(24 * time.Hour).Unix(),
		})
	})
	mux.HandleFunc("/api/intents/int_demo", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, intentchain.Intent{
			ID:     "int_demo",
			Status: "pending",
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	key, err := crypto.GenerateKey()
	if err != nil {
		panic(err)
	}

	client, err := intentchain.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}
	client.SetSigningKey(key)

	ctx := context.Background()

	agent, err := client.RegisterAgent(ctx, intentchain.RegisterAgentRequest{
		TrustChainID:   "tc-demo",
		AgentPublicKey: crypto.PubkeyToAddress(key.PublicKey).Hex(),
		AgentLabel:     "demo-agent",
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("registered agent: %s (%s)\n", agent.ID, agent.PublicKeyAddress)

	intent, err := client.CreateIntent(ctx, intentchain.CreateIntentRequest{
		Details: intentchain.IntentDetails{
			Token:     "USDC",
			Amount:    "25.00",
			Recipient: "0x742d35cc6634c0532925a3b844bc9e7595f0beb1",
			ChainID:   8453,
		},
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("created intent: %s status=%s\n", intent.ID, intent.Status)

	fetched, err := client.GetIntent(ctx, intent.ID)
	if err != nil {
		panic(err)
	}
	fmt.Printf("fetched intent: %s status=%s\n", fetched.ID, fetched.Status)
}

func writeEnvelope(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
}
