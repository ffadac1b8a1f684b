package hiveengine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hivepredict/hivepredict/internal/domain"
)

func rpcServer(t *testing.T, handler func(method string, params json.RawMessage) (string, string)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		result, rpcErr := handler(req.Method, req.Params)
		w.Header().Set("Content-Type", "application/json")
		if rpcErr != "" {
			w.Write([]byte(`{"id":1,"error":{"code":-32003,"message":` + rpcErr + `}}`))
			return
		}
		w.Write([]byte(`{"id":1,"result":` + result + `}`))
	}))
}

func TestGetTransactionDecodesCustomJSON(t *testing.T) {
	srv := rpcServer(t, func(method string, _ json.RawMessage) (string, string) {
		if method != "condenser_api.get_transaction" {
			t.Errorf("unexpected method %q", method)
		}
		return `{
			"transaction_id": "abc123",
			"block_num": 99,
			"operations": [
				["vote", {"voter": "x"}],
				["custom_json", {
					"required_auths": ["alice"],
					"required_posting_auths": [],
					"id": "ssc-mainnet-hive",
					"json": "{\"contractName\":\"tokens\"}"
				}]
			]
		}`, ""
	})
	defer srv.Close()

	tx, err := NewClient(srv.URL, srv.URL).GetTransaction(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if tx.ID != "abc123" || tx.BlockNum != 99 {
		t.Errorf("tx = %+v", tx)
	}
	if len(tx.Operations) != 2 {
		t.Fatalf("expected 2 operations, got %d", len(tx.Operations))
	}
	cj := tx.Operations[1]
	if cj.Type != "custom_json" || cj.ID != "ssc-mainnet-hive" {
		t.Errorf("custom_json op = %+v", cj)
	}
	if len(cj.RequiredAuths) != 1 || cj.RequiredAuths[0] != "alice" {
		t.Errorf("required auths = %v", cj.RequiredAuths)
	}
	if cj.JSON != `{"contractName":"tokens"}` {
		t.Errorf("payload = %q", cj.JSON)
	}
}

func TestGetTransactionUnknownMapsToNotFound(t *testing.T) {
	srv := rpcServer(t, func(string, json.RawMessage) (string, string) {
		return "", `"Assert Exception:false: Unknown Transaction abc123"`
	})
	defer srv.Close()

	_, err := NewClient(srv.URL, srv.URL).GetTransaction(context.Background(), "abc123")
	if !errors.Is(err, domain.ErrTxNotFound) {
		t.Errorf("err = %v, want ErrTxNotFound", err)
	}
}

func TestGetTransactionNullResultMapsToNotFound(t *testing.T) {
	srv := rpcServer(t, func(string, json.RawMessage) (string, string) {
		return "null", ""
	})
	defer srv.Close()

	_, err := NewClient(srv.URL, srv.URL).GetTransaction(context.Background(), "abc123")
	if !errors.Is(err, domain.ErrTxNotFound) {
		t.Errorf("err = %v, want ErrTxNotFound", err)
	}
}

func TestGetTransactionRPCErrorIsTransport(t *testing.T) {
	srv := rpcServer(t, func(string, json.RawMessage) (string, string) {
		return "", `"Internal error"`
	})
	defer srv.Close()

	_, err := NewClient(srv.URL, srv.URL).GetTransaction(context.Background(), "abc123")
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, domain.ErrTxNotFound) {
		t.Error("generic RPC failure must not look like not-found")
	}
}

func TestGetTokenBalance(t *testing.T) {
	srv := rpcServer(t, func(method string, params json.RawMessage) (string, string) {
		if method != "findOne" {
			t.Errorf("unexpected method %q", method)
		}
		return `{"account":"alice","symbol":"BETS","balance":"12.500","stake":"0"}`, ""
	})
	defer srv.Close()

	bal, err := NewClient(srv.URL, srv.URL).GetTokenBalance(context.Background(), "alice", "BETS")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bal.Balance != "12.500" || bal.Account != "alice" {
		t.Errorf("balance = %+v", bal)
	}
}

func TestGetTokenBalanceMissingRowIsZero(t *testing.T) {
	srv := rpcServer(t, func(string, json.RawMessage) (string, string) {
		return "null", ""
	})
	defer srv.Close()

	bal, err := NewClient(srv.URL, srv.URL).GetTokenBalance(context.Background(), "bob", "BETS")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bal.Balance != "0" {
		t.Errorf("balance = %+v, want zero balance", bal)
	}
}
