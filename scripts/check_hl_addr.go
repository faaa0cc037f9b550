// Operator tool: verify that HYPERLIQUID_PRIVATE_KEY derives the wallet
// you think it does, and probe both Hyperliquid networks for that
// account's state. Run with: go run scripts/check_hl_addr.go
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"perpcore/internal/config"
)

const (
	testnetInfoURL = "https://api.hyperliquid-testnet.xyz/info"
	mainnetInfoURL = "https://api.hyperliquid.xyz/info"
)

func clearinghouseState(url, addr string) (map[string]any, error) {
	body, _ := json.Marshal(map[string]string{"type": "clearinghouseState", "user": addr})
	req, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"raw": string(raw), "status": resp.Status}, nil
	}
	out["http_status"] = resp.Status
	return out, nil
}

func probe(label, url, addr string) {
	fmt.Printf("--- %s ---\n", label)
	state, err := clearinghouseState(url, addr)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Printf("status: %v\n", state["http_status"])
	if positions, ok := state["assetPositions"]; ok {
		fmt.Printf("asset positions: %v\n", positions)
	}
	if margin, ok := state["marginSummary"]; ok {
		fmt.Printf("margin summary: %v\n", margin)
	}
}

func main() {
	// Loads .env and etc/exchange.yaml so the env matches what the
	// service itself would see.
	_ = config.MustLoadExchange()

	pk := os.Getenv("HYPERLIQUID_PRIVATE_KEY")
	if pk == "" {
		fmt.Println("HYPERLIQUID_PRIVATE_KEY is not set")
		os.Exit(1)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(pk), "0x"))
	if err != nil {
		fmt.Printf("decode private key: %v\n", err)
		os.Exit(1)
	}
	signer := strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex())
	wallet := strings.ToLower(strings.TrimSpace(os.Getenv("HYPERLIQUID_WALLET_ADDRESS")))

	fmt.Printf("signing address (from private key): %s\n", signer)
	account := signer
	if wallet != "" && wallet != signer {
		account = wallet
		fmt.Printf("account address (HYPERLIQUID_WALLET_ADDRESS): %s\n", wallet)
		fmt.Println()
		fmt.Println("API-wallet setup: the signing address must be registered as an")
		fmt.Println("API wallet under the account (app settings -> API) or every")
		fmt.Println("exchange action will be rejected with a signature error.")
	}
	fmt.Println()

	fmt.Printf("checking account state for %s\n\n", account)
	probe("testnet", testnetInfoURL, account)
	fmt.Println()
	probe("mainnet", mainnetInfoURL, account)
}
