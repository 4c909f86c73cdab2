// Package bitrix es el adaptador REST del CRM estilo Bitrix:
// {base}/rest/{auth}/{method}.json. El núcleo lo consume solo a través de la
// interfaz Adapter; el catálogo exacto de campos del CRM queda fuera del
// alcance de la plataforma.
package bitrix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	pkgError "github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/error"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/utils"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	httpTimeout     = 15 * time.Second
	contactCacheTTL = 5 * time.Minute
)

// Contact es la vista mínima de un contacto del CRM que usan la sustitución
// de tokens {{entity:FIELD}} y las reglas de condición crm_field.
type Contact struct {
	ID     string            `json:"id"`
	Name   string            `json:"name"`
	Phone  string            `json:"phone"`
	Fields map[string]string `json:"fields"`
}

// Lead son los datos que el agente captura con save_lead_info. Todos los
// campos salvo el teléfono son opcionales.
type Lead struct {
	Phone        string `json:"phone"`
	Name         string `json:"name,omitempty"`
	Location     string `json:"location,omitempty"`
	BusinessType string `json:"business_type,omitempty"`
	Interest     string `json:"interest,omitempty"`
	Notes        string `json:"notes,omitempty"`
}

// Adapter es el contrato que consume el núcleo. Las escrituras son
// best-effort: un CRM caído no debe tumbar una conversación.
type Adapter interface {
	FindContactByPhone(ctx context.Context, phone string) (*Contact, error)
	UpdateContact(ctx context.Context, contactID string, fields map[string]string) error
	SaveLead(ctx context.Context, lead Lead) error
}

type cachedContact struct {
	contact   *Contact
	expiresAt time.Time
}

// Client implementa Adapter contra el endpoint REST del CRM.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client

	cacheMu sync.RWMutex
	cache   map[string]cachedContact
	group   singleflight.Group
}

func NewClient(baseURL, authToken string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		authToken:  strings.TrimSpace(authToken),
		httpClient: &http.Client{Timeout: httpTimeout},
		cache:      make(map[string]cachedContact),
	}
}

// Configured indica si el adaptador tiene credenciales. Sin configurar, las
// búsquedas devuelven nil y las escrituras se descartan con un log.
func (c *Client) Configured() bool {
	return c.baseURL != "" && c.authToken != ""
}

// FindContactByPhone busca el contacto por teléfono normalizado. Cache TTL de
// 5 minutos y singleflight para no duplicar búsquedas concurrentes del mismo
// número.
func (c *Client) FindContactByPhone(ctx context.Context, phone string) (*Contact, error) {
	if !c.Configured() {
		return nil, nil
	}
	phone = utils.NormalizePhone(phone)

	c.cacheMu.RLock()
	if entry, ok := c.cache[phone]; ok && time.Now().Before(entry.expiresAt) {
		c.cacheMu.RUnlock()
		return entry.contact, nil
	}
	c.cacheMu.RUnlock()

	v, err, _ := c.group.Do(phone, func() (interface{}, error) {
		contact, err := c.findContact(ctx, phone)
		if err != nil {
			return nil, err
		}
		c.cacheMu.Lock()
		c.cache[phone] = cachedContact{contact: contact, expiresAt: time.Now().Add(contactCacheTTL)}
		c.cacheMu.Unlock()
		return contact, nil
	})
	if err != nil {
		return nil, err
	}
	contact, _ := v.(*Contact)
	return contact, nil
}

func (c *Client) findContact(ctx context.Context, phone string) (*Contact, error) {
	var resp struct {
		Result []map[string]interface{} `json:"result"`
	}
	payload := map[string]interface{}{
		"filter": map[string]interface{}{"PHONE": phone},
		"select": []string{"*"},
	}
	if err := c.call(ctx, "crm.contact.list", payload, &resp); err != nil {
		return nil, err
	}
	if len(resp.Result) == 0 {
		return nil, nil
	}

	raw := resp.Result[0]
	contact := &Contact{Phone: phone, Fields: make(map[string]string, len(raw))}
	for k, v := range raw {
		contact.Fields[k] = fmt.Sprint(v)
	}
	if id, ok := raw["ID"]; ok {
		contact.ID = fmt.Sprint(id)
	}
	name := strings.TrimSpace(fmt.Sprint(raw["NAME"]))
	last := strings.TrimSpace(fmt.Sprint(raw["LAST_NAME"]))
	contact.Name = strings.TrimSpace(name + " " + last)
	return contact, nil
}

// UpdateContact escribe campos sobre un contacto existente e invalida la
// entrada de cache de su teléfono.
func (c *Client) UpdateContact(ctx context.Context, contactID string, fields map[string]string) error {
	if !c.Configured() {
		logrus.Debug("[CRM] UpdateContact skipped, adapter not configured")
		return nil
	}
	payload := map[string]interface{}{
		"id":     contactID,
		"fields": fields,
	}
	var resp struct {
		Result bool `json:"result"`
	}
	if err := c.call(ctx, "crm.contact.update", payload, &resp); err != nil {
		return err
	}

	c.cacheMu.Lock()
	for phone, entry := range c.cache {
		if entry.contact != nil && entry.contact.ID == contactID {
			delete(c.cache, phone)
		}
	}
	c.cacheMu.Unlock()
	return nil
}

// SaveLead registra un lead capturado por el agente.
func (c *Client) SaveLead(ctx context.Context, lead Lead) error {
	if !c.Configured() {
		logrus.Debug("[CRM] SaveLead skipped, adapter not configured")
		return nil
	}
	fields := map[string]interface{}{
		"TITLE":         "Lead WhatsApp " + utils.NormalizePhone(lead.Phone),
		"PHONE":         []map[string]string{{"VALUE": utils.NormalizePhone(lead.Phone), "VALUE_TYPE": "WORK"}},
		"NAME":          lead.Name,
		"COMMENTS":      lead.Notes,
		"SOURCE_ID":     "WHATSAPP",
		"ADDRESS_CITY":  lead.Location,
		"UF_BUSINESS":   lead.BusinessType,
		"UF_INTEREST":   lead.Interest,
	}
	payload := map[string]interface{}{"fields": fields}
	var resp struct {
		Result int64 `json:"result"`
	}
	return c.call(ctx, "crm.lead.add", payload, &resp)
}

// call ejecuta {base}/rest/{auth}/{method}.json. El token de auth viaja en la
// ruta, nunca en logs.
func (c *Client) call(ctx context.Context, method string, payload interface{}, out interface{}) error {
	endpoint := fmt.Sprintf("%s/rest/%s/%s.json", c.baseURL, c.authToken, method)
	body, err := json.Marshal(payload)
	if err != nil {
		return pkgError.InternalError(err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return pkgError.InternalError(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgError.NetworkError(err.Error())
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return pkgError.AuthError("crm token rejected for " + method)
	case resp.StatusCode == http.StatusTooManyRequests:
		return pkgError.RateLimitedError{Service: "crm"}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		detail := string(respBody)
		if len(detail) > 512 {
			detail = detail[:512]
		}
		return pkgError.UpstreamError{Service: "crm", Status: resp.StatusCode, Body: detail}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return pkgError.UpstreamError{Service: "crm", Status: resp.StatusCode, Body: "unparseable response for " + method}
		}
	}
	return nil
}
