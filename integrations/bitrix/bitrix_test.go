package bitrix

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindContactByPhoneUsesCache(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/rest/tok-crm/crm.contact.list.json", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"result": []map[string]interface{}{
				{"ID": 42, "NAME": "Maria", "LAST_NAME": "Lopez", "UF_CITY": "Lima"},
			},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok-crm")

	first, err := client.FindContactByPhone(context.Background(), "51 999 000 001")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "42", first.ID)
	assert.Equal(t, "Maria Lopez", first.Name)
	assert.Equal(t, "Lima", first.Fields["UF_CITY"])

	// Segunda búsqueda del mismo número: cache, sin segunda llamada HTTP
	second, err := client.FindContactByPhone(context.Background(), "+51999000001")
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFindContactNotFoundIsNilNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"result": []map[string]interface{}{}})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok-crm")
	contact, err := client.FindContactByPhone(context.Background(), "+51999999999")
	require.NoError(t, err)
	assert.Nil(t, contact)
}

func TestSaveLead(t *testing.T) {
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.URL.Path
		var payload map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		fields := payload["fields"].(map[string]interface{})
		assert.Equal(t, "WHATSAPP", fields["SOURCE_ID"])
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"result": 7})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok-crm")
	err := client.SaveLead(context.Background(), Lead{Phone: "+51999000001", Name: "Maria", Interest: "mayorista"})
	require.NoError(t, err)
	assert.Equal(t, "/rest/tok-crm/crm.lead.add.json", gotMethod)
}

func TestUnconfiguredAdapterIsNoop(t *testing.T) {
	client := NewClient("", "")
	contact, err := client.FindContactByPhone(context.Background(), "+51999000001")
	require.NoError(t, err)
	assert.Nil(t, contact)
	assert.NoError(t, client.SaveLead(context.Background(), Lead{Phone: "+51999000001"}))
}
