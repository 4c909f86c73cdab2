package application

import (
	"context"
	"strconv"
	"time"

	"github.com/CYM-Peru/Bot-AI-V1-sub006/flowengine/domain"
	"github.com/CYM-Peru/Bot-AI-V1-sub006/infrastructure/valkey"
	"github.com/sirupsen/logrus"
)

// wakeInterval es el paso del scheduler de delays. El timer durable es el
// wake_at persistido en la sesión; el ZSET en Valkey solo acota la latencia.
const wakeInterval = 5 * time.Second

// WakeScheduler reanuda sesiones suspendidas por nodos delay (y timeouts de
// webhook_in). Implementa WakeSink sobre un ZSET de Valkey; sin Valkey la
// consulta durable ListWakeDue cubre sola el trabajo.
type WakeScheduler struct {
	engine   *Engine
	sessions domain.ISessionRepository
	vk       *valkey.Client

	Interval time.Duration
}

func NewWakeScheduler(engine *Engine, sessions domain.ISessionRepository, vk *valkey.Client) *WakeScheduler {
	return &WakeScheduler{engine: engine, sessions: sessions, vk: vk, Interval: wakeInterval}
}

func (w *WakeScheduler) zsetKey() string {
	return w.vk.Key("flow", "wakes")
}

// Schedule registra el despertar en el ZSET. Best-effort: el wake_at de la
// sesión ya quedó persistido antes de llegar aquí.
func (w *WakeScheduler) Schedule(sessionKey string, at time.Time) {
	if w.vk == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	cmd := w.vk.Inner().B().Zadd().Key(w.zsetKey()).ScoreMember().
		ScoreMember(float64(at.Unix()), sessionKey).Build()
	if err := w.vk.Inner().Do(ctx, cmd).Error(); err != nil {
		logrus.WithError(err).Debug("[SCHEDULER] Wake zadd failed")
	}
}

func (w *WakeScheduler) Cancel(sessionKey string) {
	if w.vk == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	cmd := w.vk.Inner().B().Zrem().Key(w.zsetKey()).Member(sessionKey).Build()
	if err := w.vk.Inner().Do(ctx, cmd).Error(); err != nil {
		logrus.WithError(err).Debug("[SCHEDULER] Wake zrem failed")
	}
}

func (w *WakeScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()
	logrus.Infof("[SCHEDULER] Flow wake scheduler started (%s)", w.Interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Sweep(ctx); err != nil {
				logrus.WithError(err).Error("[SCHEDULER] Wake sweep failed")
			}
		}
	}
}

// Sweep reanuda toda sesión con wake_at vencido. Primero drena el ZSET (baja
// latencia), luego la consulta durable como red de seguridad tras reinicios o
// caídas de Valkey.
func (w *WakeScheduler) Sweep(ctx context.Context) error {
	now := time.Now().UTC()
	resumed := map[string]bool{}

	for _, keyStr := range w.dueFromValkey(ctx, now) {
		key, err := domain.ParseSessionKey(keyStr)
		if err != nil {
			w.Cancel(keyStr)
			continue
		}
		w.resume(ctx, key)
		w.Cancel(keyStr)
		resumed[keyStr] = true
	}

	due, err := w.sessions.ListWakeDue(ctx, now)
	if err != nil {
		return err
	}
	for _, s := range due {
		if resumed[s.Key.String()] {
			continue
		}
		w.resume(ctx, s.Key)
	}
	return nil
}

func (w *WakeScheduler) resume(ctx context.Context, key domain.SessionKey) {
	if err := w.engine.ResumeWake(ctx, key); err != nil {
		logrus.WithError(err).Errorf("[SCHEDULER] Failed to resume session %s", key)
	}
}

func (w *WakeScheduler) dueFromValkey(ctx context.Context, now time.Time) []string {
	if w.vk == nil {
		return nil
	}
	cmd := w.vk.Inner().B().Zrangebyscore().Key(w.zsetKey()).
		Min("-inf").Max(strconv.FormatInt(now.Unix(), 10)).Build()
	members, err := w.vk.Inner().Do(ctx, cmd).AsStrSlice()
	if err != nil {
		if !valkey.IsNil(err) {
			logrus.WithError(err).Debug("[SCHEDULER] Wake zrangebyscore failed")
		}
		return nil
	}
	return members
}
