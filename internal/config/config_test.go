package config

import (
	"encoding/json"
	"testing"

	"github.com/gagliardetto/solana-go"
)

func TestParseByteArrayKeypair(t *testing.T) {
	wallet := solana.NewWallet()
	raw, err := json.Marshal([]byte(wallet.PrivateKey))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	key, err := parseByteArrayKeypair(string(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !key.PublicKey().Equals(wallet.PublicKey()) {
		t.Errorf("pubkey = %s, want %s", key.PublicKey(), wallet.PublicKey())
	}

	if _, err := parseByteArrayKeypair("[1,2,3]"); err == nil {
		t.Error("short key accepted")
	}
	if _, err := parseByteArrayKeypair("not json"); err == nil {
		t.Error("garbage accepted")
	}
}

func TestDeriveWebsocketURL(t *testing.T) {
	cases := map[string]string{
		"https://api.mainnet-beta.solana.com": "wss://api.mainnet-beta.solana.com",
		"http://127.0.0.1:8899":               "ws://127.0.0.1:8899",
		"wss://already.websocket":             "wss://already.websocket",
	}
	for in, want := range cases {
		if got := deriveWebsocketURL(in); got != want {
			t.Errorf("deriveWebsocketURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParsePubkeyList(t *testing.T) {
	a := solana.NewWallet().PublicKey()
	b := solana.NewWallet().PublicKey()

	keys, err := parsePubkeyList(a.String() + ", " + b.String() + "," + a.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("keys = %d, want 2 (deduped)", len(keys))
	}

	if _, err := parsePubkeyList("not-a-key"); err == nil {
		t.Error("invalid pubkey accepted")
	}
}

func TestValueForKeyAcceptsShortNames(t *testing.T) {
	t.Setenv("RPC_URL", "https://node.example.com")
	t.Setenv("GRPC", "wss://stream.example.com")
	t.Setenv("X_TOKEN", "tok-123")
	t.Setenv("READ_ONLY", "true")
	t.Setenv("RETRY_UNTIL_CONFIRMED", "false")
	t.Setenv("PCT_CANCEL_THRESHOLD", "0.1")
	t.Setenv("SIGNER", "[1,2]")

	cases := map[string]string{
		"SOLANA_RPC_URL":               "https://node.example.com",
		"SOLANA_WS_URL":                "wss://stream.example.com",
		"SOLANA_X_TOKEN":               "tok-123",
		"MIRROR_READ_ONLY":             "true",
		"MIRROR_RETRY_UNTIL_CONFIRMED": "false",
		"MIRROR_PCT_CANCEL_THRESHOLD":  "0.1",
		"WALLET":                       "[1,2]",
	}
	for key, want := range cases {
		if got := valueForKey(key); got != want {
			t.Errorf("valueForKey(%q) = %q, want %q", key, got, want)
		}
	}
}

func TestValueForKeyPrefersPrimaryName(t *testing.T) {
	t.Setenv("SOLANA_WS_URL", "wss://primary.example.com")
	t.Setenv("WS_URL", "wss://alias.example.com")
	t.Setenv("GRPC", "wss://grpc-alias.example.com")

	if got := valueForKey("SOLANA_WS_URL"); got != "wss://primary.example.com" {
		t.Errorf("valueForKey = %q, want the primary name to win", got)
	}
}

func TestNormalizeKeySegment(t *testing.T) {
	cases := map[string]string{
		"solana":     "SOLANA",
		"rpc-url":    "RPC_URL",
		"  x token ": "X_TOKEN",
	}
	for in, want := range cases {
		if got := normalizeKeySegment(in); got != want {
			t.Errorf("normalizeKeySegment(%q) = %q, want %q", in, got, want)
		}
	}
}
