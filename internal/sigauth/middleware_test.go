package sigauth

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	log "github.com/sirupsen/logrus"
)

func init() {
	log.SetOutput(io.Discard)
}

func fixedVerifier(now time.Time) *Verifier {
	return &Verifier{
		MaxSkew: time.Minute,
		Now: func() time.Time {
			return now
		},
	}
}

func TestMiddleware_AllowsValidSignature(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	body := `{"work":"ipfs://poc"}`
	now := time.Unix(1_700_000_000, 0)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/bounties/3/submit", strings.NewReader(body))
	if err := SignRequest(req, key, now); err != nil {
		t.Fatalf("sign: %v", err)
	}
	rec := httptest.NewRecorder()

	var (
		got     common.Address
		gotBody string
	)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = Caller(r.Context())
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	})

	fixedVerifier(now).Middleware(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if want := crypto.PubkeyToAddress(key.PublicKey); got != want {
		t.Fatalf("caller %s, want %s", got.Hex(), want.Hex())
	}
	if gotBody != body {
		t.Fatalf("body not restored: %q", gotBody)
	}
}

func TestMiddleware_Rejects(t *testing.T) {
	key, _ := crypto.GenerateKey()
	other, _ := crypto.GenerateKey()
	now := time.Unix(1_700_000_000, 0)
	path := "/api/v1/bounties/0/approve"

	cases := map[string]struct {
		prepare func(r *http.Request)
		want    error
	}{
		"no caller": {
			prepare: func(r *http.Request) {
				_ = SignRequest(r, key, now)
				r.Header.Del(HeaderCaller)
			},
			want: ErrMissingCaller,
		},
		"no signature": {
			prepare: func(r *http.Request) {
				_ = SignRequest(r, key, now)
				r.Header.Del(HeaderSignature)
			},
			want: ErrMissingSignature,
		},
		"stale": {
			prepare: func(r *http.Request) { _ = SignRequest(r, key, now.Add(-2*time.Minute)) },
			want:    ErrStaleTimestamp,
		},
		"garbage signature": {
			prepare: func(r *http.Request) {
				_ = SignRequest(r, key, now)
				r.Header.Set(HeaderSignature, "0xdeadbeef")
			},
			want: ErrInvalidSignature,
		},
		"impersonation": {
			prepare: func(r *http.Request) {
				_ = SignRequest(r, other, now)
				r.Header.Set(HeaderCaller, crypto.PubkeyToAddress(key.PublicKey).Hex())
			},
			want: ErrCallerMismatch,
		},
		"swapped idempotency key": {
			prepare: func(r *http.Request) {
				r.Header.Set(HeaderIdempotencyKey, "k1")
				_ = SignRequest(r, key, now)
				r.Header.Set(HeaderIdempotencyKey, "k2")
			},
			want: ErrCallerMismatch,
		},
		"added idempotency key": {
			prepare: func(r *http.Request) {
				_ = SignRequest(r, key, now)
				r.Header.Set(HeaderIdempotencyKey, "k2")
			},
			want: ErrCallerMismatch,
		},
		"tampered timestamp": {
			prepare: func(r *http.Request) {
				_ = SignRequest(r, key, now)
				r.Header.Set(HeaderTimestamp, strconv.FormatInt(now.Unix()+1, 10))
			},
			want: ErrCallerMismatch,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`))
			tc.prepare(req)
			_, err := fixedVerifier(now).verify(req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}

			req = httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`))
			tc.prepare(req)
			rec := httptest.NewRecorder()
			fixedVerifier(now).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called")
			})).ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestMiddleware_CapsBodyBeforeVerifying(t *testing.T) {
	key, _ := crypto.GenerateKey()
	now := time.Unix(1_700_000_000, 0)
	body := `{"work":"` + strings.Repeat("a", 256) + `"}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/bounties/3/submit", strings.NewReader(body))
	if err := SignRequest(req, key, now); err != nil {
		t.Fatalf("sign: %v", err)
	}
	v := fixedVerifier(now)
	v.MaxBody = 64
	rec := httptest.NewRecorder()
	v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})).ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/bounties/3/submit", strings.NewReader(body))
	if err := SignRequest(req, key, now); err != nil {
		t.Fatalf("sign: %v", err)
	}
	v.MaxBody = int64(len(body))
	rec = httptest.NewRecorder()
	v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 at the limit, got %d", rec.Code)
	}
}

func TestMiddleware_InsecureTrustsHeader(t *testing.T) {
	caller := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/fees/withdraw", nil)
	req.Header.Set(HeaderCaller, caller.Hex())

	got, err := (&Verifier{Insecure: true}).verify(req)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got != caller {
		t.Fatalf("caller %s, want %s", got.Hex(), caller.Hex())
	}
}

func TestRecoverAcceptsBothRecoveryForms(t *testing.T) {
	key, _ := crypto.GenerateKey()
	body := []byte(`{"reward":"1"}`)
	sig, err := Sign(key, "100", http.MethodPost, "/api/v1/bounties", "k1", body)
	if err != nil {
		t.Fatal(err)
	}
	addr, err := Recover("100", http.MethodPost, "/api/v1/bounties", "k1", body, sig)
	if err != nil || addr != crypto.PubkeyToAddress(key.PublicKey) {
		t.Fatalf("recover: %v %s", err, addr.Hex())
	}

	raw := hexutil.MustDecode(sig)
	raw[64] -= 27
	lowered := hexutil.Encode(raw)
	addr, err = Recover("100", http.MethodPost, "/api/v1/bounties", "k1", body, lowered)
	if err != nil || addr != crypto.PubkeyToAddress(key.PublicKey) {
		t.Fatalf("recover lowered: %v %s", err, addr.Hex())
	}
}
