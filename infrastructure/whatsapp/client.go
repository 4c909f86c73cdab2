package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	pkgError "github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/error"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Credentials son las credenciales por canal que el cliente necesita para un
// envío. El repositorio de canales las entrega ya descifradas.
type Credentials struct {
	PhoneNumberID string
	AccessToken   string
}

// ClientConfig ajusta el transporte hacia graph.facebook.com.
type ClientConfig struct {
	APIVersion    string
	BaseURL       string
	Timeout       time.Duration
	HTTPSProxy    string
	RatePerSecond float64
	RateBurst     int
}

// Client habla con el Cloud API. Un solo cliente sirve a todos los canales;
// el rate limiting es por phone_number_id porque Meta limita por número.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter
}

// SendResult es el acuse de un envío aceptado por el proveedor.
type SendResult struct {
	ProviderMessageID string
}

// Reintentos para clases transitorias: 3 intentos con backoff exponencial y
// jitter ±20%.
var retryBackoffs = []time.Duration{500 * time.Millisecond, 1500 * time.Millisecond, 4500 * time.Millisecond}

func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://graph.facebook.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 20
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 20
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.HTTPSProxy != "" {
		if proxyURL, err := url.Parse(cfg.HTTPSProxy); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		} else {
			logrus.Warnf("[CLOUDAPI] Ignoring malformed HTTPS_PROXY_URL")
		}
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout, Transport: transport},
		limiters:   make(map[string]*rate.Limiter),
	}
}

func (c *Client) limiterFor(phoneNumberID string) *rate.Limiter {
	c.limitersMu.Lock()
	defer c.limitersMu.Unlock()
	l, ok := c.limiters[phoneNumberID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(c.cfg.RatePerSecond), c.cfg.RateBurst)
		c.limiters[phoneNumberID] = l
	}
	return l
}

// SendText envía un mensaje de texto con preview deshabilitado.
func (c *Client) SendText(ctx context.Context, creds Credentials, toPhone, body string) (SendResult, error) {
	return c.send(ctx, creds, TextPayload(toPhone, body))
}

// SendInteractive envía botones (≤3) o una lista si hay más opciones.
func (c *Client) SendInteractive(ctx context.Context, creds Credentials, toPhone, body string, options []OutboundOption) (SendResult, error) {
	return c.send(ctx, creds, InteractivePayload(toPhone, body, options))
}

// SendMedia envía media por link público HTTPS o por media id del proveedor.
func (c *Client) SendMedia(ctx context.Context, creds Credentials, toPhone, mediaType, urlOrID, caption, filename string) (SendResult, error) {
	return c.send(ctx, creds, MediaPayload(toPhone, mediaType, urlOrID, caption, filename))
}

// SendTemplate envía una plantilla de reenganche.
func (c *Client) SendTemplate(ctx context.Context, creds Credentials, toPhone, name, language string, bodyParams []string) (SendResult, error) {
	return c.send(ctx, creds, TemplatePayload(toPhone, name, language, bodyParams))
}

// CheckPhoneNumber consulta los metadatos del número para validar que el
// phone_number_id y el token del canal siguen vigentes.
func (c *Client) CheckPhoneNumber(ctx context.Context, creds Credentials) (map[string]interface{}, error) {
	endpoint := fmt.Sprintf("%s/%s/%s", c.cfg.BaseURL, c.cfg.APIVersion, creds.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, pkgError.InternalError(err.Error())
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgError.NetworkError(err.Error())
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return nil, mapProviderError(resp.StatusCode, body, resp.Header)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, pkgError.UpstreamError{Service: "cloudapi", Status: resp.StatusCode, Body: "unparseable metadata body"}
	}
	return meta, nil
}

// DownloadMedia resuelve la URL temporal de un media id y descarga el binario.
func (c *Client) DownloadMedia(ctx context.Context, creds Credentials, mediaID string, maxBytes int64) ([]byte, string, error) {
	endpoint := fmt.Sprintf("%s/%s/%s", c.cfg.BaseURL, c.cfg.APIVersion, mediaID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, "", pkgError.InternalError(err.Error())
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", pkgError.NetworkError(err.Error())
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return nil, "", mapProviderError(resp.StatusCode, body, resp.Header)
	}

	var meta struct {
		URL      string `json:"url"`
		MimeType string `json:"mime_type"`
	}
	if err := json.Unmarshal(body, &meta); err != nil || meta.URL == "" {
		return nil, "", pkgError.UpstreamError{Service: "cloudapi", Status: resp.StatusCode, Body: "media lookup without url"}
	}

	dlReq, err := http.NewRequestWithContext(ctx, http.MethodGet, meta.URL, nil)
	if err != nil {
		return nil, "", pkgError.InternalError(err.Error())
	}
	dlReq.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	dlResp, err := c.httpClient.Do(dlReq)
	if err != nil {
		return nil, "", pkgError.NetworkError(err.Error())
	}
	defer dlResp.Body.Close()
	if dlResp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(dlResp.Body, 4096))
		return nil, "", mapProviderError(dlResp.StatusCode, b, dlResp.Header)
	}
	data, err := io.ReadAll(io.LimitReader(dlResp.Body, maxBytes))
	if err != nil {
		return nil, "", pkgError.NetworkError(err.Error())
	}
	return data, meta.MimeType, nil
}

// send ejecuta el POST /messages con rate limiting por canal y reintentos
// sobre clases transitorias. Un 429 con Retry-After suspende por ese lapso.
func (c *Client) send(ctx context.Context, creds Credentials, payload map[string]interface{}) (SendResult, error) {
	if err := c.limiterFor(creds.PhoneNumberID).Wait(ctx); err != nil {
		return SendResult{}, pkgError.ShutdownError("send cancelled: " + err.Error())
	}

	var lastErr error
	for attempt := 0; attempt <= len(retryBackoffs); attempt++ {
		res, err := c.doSend(ctx, creds, payload)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if !pkgError.IsRetryable(err) || attempt == len(retryBackoffs) {
			break
		}

		wait := retryBackoffs[attempt]
		if ra := pkgError.RetryAfterOf(err); ra > 0 {
			wait = time.Duration(ra) * time.Second
		} else {
			// jitter ±20%
			wait += time.Duration(rand.Int63n(int64(wait)*2/5)) - wait/5
		}
		logrus.Warnf("[CLOUDAPI] Send attempt %d failed for channel %s, retrying in %s", attempt+1, creds.PhoneNumberID, wait)

		select {
		case <-ctx.Done():
			return SendResult{}, pkgError.ShutdownError("send cancelled during backoff")
		case <-time.After(wait):
		}
	}
	return SendResult{}, lastErr
}

func (c *Client) doSend(ctx context.Context, creds Credentials, payload map[string]interface{}) (SendResult, error) {
	endpoint := fmt.Sprintf("%s/%s/%s/messages", c.cfg.BaseURL, c.cfg.APIVersion, creds.PhoneNumberID)
	body, err := json.Marshal(payload)
	if err != nil {
		return SendResult{}, pkgError.InternalError(err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return SendResult{}, pkgError.InternalError(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return SendResult{}, pkgError.NetworkError(err.Error())
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return SendResult{}, mapProviderError(resp.StatusCode, respBody, resp.Header)
	}

	var parsed struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil || len(parsed.Messages) == 0 {
		return SendResult{}, pkgError.UpstreamError{Service: "cloudapi", Status: resp.StatusCode, Body: "accepted send without message id"}
	}
	return SendResult{ProviderMessageID: parsed.Messages[0].ID}, nil
}

// mapProviderError traduce las respuestas no-2xx del Cloud API a la taxonomía
// de errores. Nunca incluye tokens en el detalle.
func mapProviderError(status int, body []byte, headers http.Header) error {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	_ = json.Unmarshal(body, &parsed)

	switch {
	case status == http.StatusUnauthorized || parsed.Error.Code == 190:
		return pkgError.AuthError("invalid_token: " + parsed.Error.Message)
	case status == http.StatusNotFound, parsed.Error.Code == 100 && status == http.StatusBadRequest:
		return pkgError.NotFoundError("invalid_phone_id: " + parsed.Error.Message)
	case status == http.StatusTooManyRequests:
		return pkgError.RateLimitedError{Service: "cloudapi", RetryAfterSeconds: parseRetryAfter(headers)}
	default:
		detail := parsed.Error.Message
		if detail == "" {
			detail = string(body)
			if len(detail) > 512 {
				detail = detail[:512]
			}
		}
		return pkgError.UpstreamError{Service: "cloudapi", Status: status, Body: detail}
	}
}

func parseRetryAfter(headers http.Header) int {
	if v := headers.Get("Retry-After"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 0
}
