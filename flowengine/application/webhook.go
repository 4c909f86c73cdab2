package application

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/flowengine/domain"
	pkgError "github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/error"
	"github.com/sirupsen/logrus"
)

// webhookBackoffs es el presupuesto de reintento de un nodo webhook_out:
// 3 intentos con backoff exponencial y jitter ±20%, igual que el Cloud API.
var webhookBackoffs = []time.Duration{500 * time.Millisecond, 1500 * time.Millisecond, 4500 * time.Millisecond}

// WebhookCaller ejecuta el HTTP saliente de los nodos webhook_out. El cuerpo
// es una plantilla: la sustitución de tokens ya ocurrió cuando llega aquí.
type WebhookCaller struct {
	httpClient *http.Client
}

func NewWebhookCaller(timeout time.Duration) *WebhookCaller {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &WebhookCaller{httpClient: &http.Client{Timeout: timeout}}
}

// Call ejecuta la llamada con reintentos sobre clases transitorias y devuelve
// el cuerpo de la respuesta parseado como objeto JSON plano. Respuestas no-JSON
// se devuelven bajo la clave "_raw".
func (w *WebhookCaller) Call(ctx context.Context, d *domain.WebhookOutData, body string) (map[string]interface{}, error) {
	var lastErr error
	for attempt := 0; attempt <= len(webhookBackoffs); attempt++ {
		res, err := w.do(ctx, d, body)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if !pkgError.IsRetryable(err) || attempt == len(webhookBackoffs) {
			break
		}
		wait := webhookBackoffs[attempt]
		if ra := pkgError.RetryAfterOf(err); ra > 0 {
			wait = time.Duration(ra) * time.Second
		} else {
			// jitter ±20%
			wait += time.Duration(rand.Int63n(int64(wait)*2/5)) - wait/5
		}
		logrus.Warnf("[FLOW] Webhook attempt %d to %s failed, retrying in %s", attempt+1, d.URL, wait)

		select {
		case <-ctx.Done():
			return nil, pkgError.ShutdownError("webhook cancelled during backoff")
		case <-time.After(wait):
		}
	}
	return nil, lastErr
}

func (w *WebhookCaller) do(ctx context.Context, d *domain.WebhookOutData, body string) (map[string]interface{}, error) {
	method := strings.ToUpper(d.Method)
	if method == "" {
		method = http.MethodPost
	}

	var reader io.Reader
	if method != http.MethodGet && body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, d.URL, reader)
	if err != nil {
		return nil, pkgError.InternalError(err.Error())
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range d.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, pkgError.NetworkError(err.Error())
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, pkgError.RateLimitedError{Service: "webhook", RetryAfterSeconds: 0}
	case resp.StatusCode >= 500:
		return nil, pkgError.UpstreamError{Service: "webhook", Status: resp.StatusCode, Body: truncateBody(raw)}
	case resp.StatusCode >= 400:
		return nil, pkgError.ValidationError(fmt.Sprintf("webhook %s returned %d: %s", d.URL, resp.StatusCode, truncateBody(raw)))
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return map[string]interface{}{"_raw": string(raw)}, nil
	}
	return parsed, nil
}

func truncateBody(b []byte) string {
	const max = 512
	if len(b) > max {
		b = b[:max]
	}
	return string(b)
}
