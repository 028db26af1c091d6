package kalshi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// Source identifica quién origina la llamada; cada fuente tiene su propio
// token bucket para que el QPS agregado quede bajo el techo publicado del venue.
type Source string

const (
	SourceScanner  Source = "scanner"
	SourceExecutor Source = "executor"
	// SourcePortfolio cubre el polling de balance: con bucket propio nunca
	// le roba tokens a las órdenes del executor.
	SourcePortfolio Source = "portfolio"
)

const (
	// Buckets al 60% de los límites documentados del trade API.
	scannerRatePerSec   = 6
	executorRatePerSec  = 4
	portfolioRatePerSec = 2

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
	retryJitter   = 0.25 // ±25%

	// Cuánto puede bloquear una llamada esperando token antes de fallar
	// con rate-limit-exceeded.
	rateWaitDeadline = 5 * time.Second
)

// Client es el HTTP client firmado del exchange, con rate limiting por fuente
// y retries dirigidos por clase de error.
type Client struct {
	http     *http.Client
	base     string
	signer   *Signer
	limiters map[Source]*rate.Limiter
}

// NewClient crea un Client contra el base URL dado. signer puede ser nil
// para endpoints públicos (tests, dry-run de solo lectura).
func NewClient(base string, signer *Signer, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		http:   &http.Client{Timeout: timeout},
		base:   base,
		signer: signer,
		limiters: map[Source]*rate.Limiter{
			SourceScanner:   rate.NewLimiter(scannerRatePerSec, 10),
			SourceExecutor:  rate.NewLimiter(executorRatePerSec, 4),
			SourcePortfolio: rate.NewLimiter(portfolioRatePerSec, 2),
		},
	}
}

// get hace un GET firmado con rate limiting y retries.
func (c *Client) get(ctx context.Context, src Source, op, path string, query url.Values, out any) error {
	return c.do(ctx, src, op, http.MethodGet, path, query, nil, out)
}

// post hace un POST JSON firmado con rate limiting y retries.
func (c *Client) post(ctx context.Context, src Source, op, path string, body, out any) error {
	return c.do(ctx, src, op, http.MethodPost, path, nil, body, out)
}

// do ejecuta el request aplicando la política de §retry completa:
//   - network / server: hasta 3 intentos con backoff exponencial y jitter
//   - rate-limit (429): espera al refill del bucket y un único retry
//   - auth / client-invalid: sin retry
func (c *Client) do(ctx context.Context, src Source, op, method, path string, query url.Values, body, out any) error {
	limiter := c.limiters[src]
	if limiter == nil {
		limiter = c.limiters[SourceScanner]
	}

	var bodyBytes []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return &APIError{Class: ClassClient, Op: op, Err: fmt.Errorf("marshal body: %w", err)}
		}
		bodyBytes = b
	}

	rateRetried := false
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.waitToken(ctx, limiter); err != nil {
			return &APIError{Class: ClassRateLimit, Op: op, Msg: "rate-limit-exceeded: bucket wait deadline", Err: err}
		}

		resp, err := c.send(ctx, method, path, query, bodyBytes)
		if err != nil {
			if ctx.Err() != nil {
				return &APIError{Class: ClassNetwork, Op: op, Err: ctx.Err()}
			}
			if attempt == maxRetries {
				return &APIError{Class: ClassNetwork, Op: op, Err: fmt.Errorf("after %d retries: %w", maxRetries, err)}
			}
			c.sleep(ctx, attempt)
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			if attempt == maxRetries {
				return &APIError{Class: ClassNetwork, Op: op, Err: readErr}
			}
			c.sleep(ctx, attempt)
			continue
		}

		switch class := classify(resp.StatusCode); class {
		case ClassRateLimit:
			if rateRetried {
				return &APIError{Class: ClassRateLimit, Op: op, Status: resp.StatusCode, Msg: string(respBody)}
			}
			rateRetried = true
			slog.Warn("kalshi: rate limited by venue, waiting for refill", "op", op, "source", src)
			if err := limiter.Wait(ctx); err != nil {
				return &APIError{Class: ClassRateLimit, Op: op, Err: err}
			}
			attempt-- // el retry de rate-limit no consume intentos de backoff
			continue

		case ClassServer:
			if attempt == maxRetries {
				return &APIError{Class: ClassServer, Op: op, Status: resp.StatusCode, Msg: string(respBody)}
			}
			c.sleep(ctx, attempt)
			continue

		case ClassAuth:
			return &APIError{Class: ClassAuth, Op: op, Status: resp.StatusCode, Msg: string(respBody)}

		case ClassClient:
			return &APIError{Class: ClassClient, Op: op, Status: resp.StatusCode, Msg: string(respBody)}
		}

		if out != nil {
			if err := json.Unmarshal(respBody, out); err != nil {
				return &APIError{Class: ClassServer, Op: op, Status: resp.StatusCode,
					Err: fmt.Errorf("decode response: %w", err)}
			}
		}
		return nil
	}
	return &APIError{Class: ClassNetwork, Op: op, Msg: fmt.Sprintf("exhausted %d retries", maxRetries)}
}

// send arma, firma y envía un único intento.
func (c *Client) send(ctx context.Context, method, path string, query url.Values, body []byte) (*http.Response, error) {
	fullURL := c.base + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.signer != nil {
		if err := c.signer.Apply(req, time.Now()); err != nil {
			return nil, err
		}
	}
	return c.http.Do(req)
}

// waitToken espera un token del bucket con deadline; al excederlo la llamada
// falla en vez de bloquear el ciclo.
func (c *Client) waitToken(ctx context.Context, limiter *rate.Limiter) error {
	waitCtx, cancel := context.WithTimeout(ctx, rateWaitDeadline)
	defer cancel()
	return limiter.Wait(waitCtx)
}

// sleep espera con backoff exponencial y jitter ±25%, respetando el contexto.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	jitter := 1 + retryJitter*(2*rand.Float64()-1)
	wait = time.Duration(float64(wait) * jitter)
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
