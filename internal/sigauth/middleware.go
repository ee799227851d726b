// Package sigauth authenticates write requests by an Ethereum personal-sign
// signature over the request, recovering the caller's address.
package sigauth

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	log "github.com/sirupsen/logrus"
)

const (
	HeaderCaller    = "X-Caller-Address"
	HeaderTimestamp = "X-Request-Timestamp"
	HeaderSignature = "X-Request-Signature"
	// HeaderIdempotencyKey is signed along with the request, so a captured
	// request cannot be resent under a fresh key.
	HeaderIdempotencyKey = "X-Idempotency-Key"
)

var (
	ErrMissingCaller    = errors.New("missing caller address")
	ErrMissingSignature = errors.New("missing request signature")
	ErrMissingTimestamp = errors.New("missing request timestamp")
	ErrStaleTimestamp   = errors.New("stale request timestamp")
	ErrInvalidSignature = errors.New("invalid request signature")
	ErrCallerMismatch   = errors.New("signature does not match caller")
	ErrBodyTooLarge     = errors.New("request body too large")
)

type ctxKey struct{}

// WithCaller stores the authenticated caller in ctx.
func WithCaller(ctx context.Context, caller common.Address) context.Context {
	return context.WithValue(ctx, ctxKey{}, caller)
}

func Caller(ctx context.Context) (common.Address, bool) {
	c, ok := ctx.Value(ctxKey{}).(common.Address)
	return c, ok
}

type Verifier struct {
	MaxSkew time.Duration
	// MaxBody caps the bytes read to check a signature. Zero means no cap.
	MaxBody int64
	Now     func() time.Time
	// Insecure trusts the caller header without a signature. Local dev only.
	Insecure bool
}

func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if v.MaxBody > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, v.MaxBody)
		}
		caller, err := v.verify(r)
		if err != nil {
			log.WithFields(log.Fields{"path": r.URL.Path, "error": err}).Warn("[AUTH] Rejected request")
			code := http.StatusUnauthorized
			if errors.Is(err, ErrBodyTooLarge) {
				code = http.StatusRequestEntityTooLarge
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(code)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

func (v *Verifier) verify(r *http.Request) (common.Address, error) {
	callerHeader := r.Header.Get(HeaderCaller)
	if !common.IsHexAddress(callerHeader) {
		return common.Address{}, ErrMissingCaller
	}
	caller := common.HexToAddress(callerHeader)
	if v.Insecure {
		return caller, nil
	}

	sig := r.Header.Get(HeaderSignature)
	if sig == "" {
		return common.Address{}, ErrMissingSignature
	}
	tsHeader := r.Header.Get(HeaderTimestamp)
	if tsHeader == "" {
		return common.Address{}, ErrMissingTimestamp
	}
	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return common.Address{}, ErrMissingTimestamp
	}

	now := time.Now()
	if v.Now != nil {
		now = v.Now()
	}
	reqTime := time.Unix(ts, 0)
	if now.Sub(reqTime) > v.MaxSkew || reqTime.Sub(now) > v.MaxSkew {
		return common.Address{}, ErrStaleTimestamp
	}

	body, err := readBody(r)
	if err != nil {
		return common.Address{}, err
	}
	signer, err := Recover(tsHeader, r.Method, r.URL.Path, r.Header.Get(HeaderIdempotencyKey), body, sig)
	if err != nil {
		return common.Address{}, err
	}
	if signer != caller {
		return common.Address{}, ErrCallerMismatch
	}
	return caller, nil
}

// Message is the text a caller signs for a request. idemKey is the raw
// X-Idempotency-Key header, empty when the request carries none.
func Message(timestamp, method, path, idemKey string, body []byte) []byte {
	return []byte(fmt.Sprintf("bountyboard\n%s\n%s\n%s\n%s\n%s",
		timestamp, method, path, idemKey, crypto.Keccak256Hash(body).Hex()))
}

// Sign produces a 65 byte personal-sign signature with v in {27, 28}.
func Sign(key *ecdsa.PrivateKey, timestamp, method, path, idemKey string, body []byte) (string, error) {
	sig, err := crypto.Sign(accounts.TextHash(Message(timestamp, method, path, idemKey, body)), key)
	if err != nil {
		return "", err
	}
	sig[64] += 27
	return hexutil.Encode(sig), nil
}

func Recover(timestamp, method, path, idemKey string, body []byte, sigHex string) (common.Address, error) {
	sig, err := hexutil.Decode(sigHex)
	if err != nil || len(sig) != crypto.SignatureLength {
		return common.Address{}, ErrInvalidSignature
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return common.Address{}, ErrInvalidSignature
	}
	pub, err := crypto.SigToPub(accounts.TextHash(Message(timestamp, method, path, idemKey, body)), sig)
	if err != nil {
		return common.Address{}, ErrInvalidSignature
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// SignRequest sets the auth headers on req for the key's address. Set the
// idempotency key header before calling it.
func SignRequest(req *http.Request, key *ecdsa.PrivateKey, now time.Time) error {
	body, err := readBody(req)
	if err != nil {
		return err
	}
	ts := strconv.FormatInt(now.Unix(), 10)
	sig, err := Sign(key, ts, req.Method, req.URL.Path, req.Header.Get(HeaderIdempotencyKey), body)
	if err != nil {
		return err
	}
	req.Header.Set(HeaderCaller, crypto.PubkeyToAddress(key.PublicKey).Hex())
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, sig)
	return nil
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return []byte{}, nil
	}
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return nil, fmt.Errorf("%w: limit %d bytes", ErrBodyTooLarge, tooLarge.Limit)
	}
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}
