package application

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/crm/domain"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/infrastructure/whatsapp"
	pkgError "github.com/CYM-Peru/Bot-AI-V1-sub006/pkg/error"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCloud registra los envíos y acusa con wamids secuenciales.
type fakeCloud struct {
	mu    sync.Mutex
	sent  []string
	calls int
	fail  error
}

func (c *fakeCloud) ack(body string) (whatsapp.SendResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return whatsapp.SendResult{}, c.fail
	}
	c.calls++
	c.sent = append(c.sent, body)
	return whatsapp.SendResult{ProviderMessageID: fmt.Sprintf("wamid.%d", c.calls)}, nil
}

func (c *fakeCloud) SendText(_ context.Context, _ whatsapp.Credentials, _, body string) (whatsapp.SendResult, error) {
	return c.ack(body)
}

func (c *fakeCloud) SendInteractive(_ context.Context, _ whatsapp.Credentials, _, body string, _ []whatsapp.OutboundOption) (whatsapp.SendResult, error) {
	return c.ack(body)
}

func (c *fakeCloud) SendMedia(_ context.Context, _ whatsapp.Credentials, _, _, urlOrID, _, _ string) (whatsapp.SendResult, error) {
	return c.ack(urlOrID)
}

func (c *fakeCloud) SendTemplate(_ context.Context, _ whatsapp.Credentials, _, name, _ string, _ []string) (whatsapp.SendResult, error) {
	return c.ack(name)
}

func seedChannel(t *testing.T, f *fixture) domain.ChannelConnection {
	t.Helper()
	ch := &domain.ChannelConnection{
		Alias:                 "Principal",
		ProviderPhoneNumberID: "1055501",
		DisplayNumber:         "+51999888777",
		AccessToken:           "token-secreto",
		VerifyToken:           "verify-secreto",
		IsActive:              true,
	}
	require.NoError(t, f.channels.Create(context.Background(), ch))
	return *ch
}

func TestSendTextConfirmsProviderAck(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ch := seedChannel(t, f)
	conv := f.seedConversation(t, ch.ID, "+51999000001")

	cloud := &fakeCloud{}
	sender := NewOutboundSender(f.store, f.channels, cloud)

	msg, err := sender.SendText(ctx, &conv, "hola!", "advisor-1")
	require.NoError(t, err)
	assert.Equal(t, "wamid.1", msg.ProviderMessageID)
	assert.Equal(t, domain.StatusSent, msg.Status)

	got, err := f.convs.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, got.Status)
	assert.Equal(t, "wamid.1", got.ProviderMessageID)
	assert.Equal(t, "advisor-1", got.SentBy)
}

func TestSendFailureMarksFailedWithSystemEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ch := seedChannel(t, f)
	conv := f.seedConversation(t, ch.ID, "+51999000001")

	cloud := &fakeCloud{fail: pkgError.UpstreamError{Service: "cloudapi", Status: 500, Body: "boom"}}
	sender := NewOutboundSender(f.store, f.channels, cloud)

	msg, err := sender.SendText(ctx, &conv, "hola!", "advisor-1")
	require.Error(t, err)

	got, err := f.convs.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)

	msgs, err := f.convs.ListMessages(ctx, conv.ID, 10, nil)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	last := msgs[len(msgs)-1]
	assert.Equal(t, domain.MessageEvent, last.Type)
	assert.Equal(t, "send_failed", last.EventType)
	assert.Contains(t, last.Text, "No se pudo entregar")
}

func TestSendTextPreservesAuthorshipOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ch := seedChannel(t, f)
	conv := f.seedConversation(t, ch.ID, "+51999000001")

	cloud := &fakeCloud{}
	sender := NewOutboundSender(f.store, f.channels, cloud)

	for i := 0; i < 3; i++ {
		_, err := sender.SendText(ctx, &conv, fmt.Sprintf("mensaje %d", i), "bot")
		require.NoError(t, err)
	}

	msgs, err := f.convs.ListMessages(ctx, conv.ID, 10, nil)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for i, m := range msgs {
		assert.Equal(t, fmt.Sprintf("mensaje %d", i), m.Text)
		assert.Equal(t, fmt.Sprintf("wamid.%d", i+1), m.ProviderMessageID)
	}
}
