package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Aidin1998/pincex_matching/internal/trading/model"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingWriter struct {
	msgs   []kafka.Message
	err    error
	closed int
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed++
	return nil
}

func sampleFill() model.Fill {
	return model.Fill{
		Seq:        7,
		MakerID:    1,
		TakerID:    2,
		MakerOwner: "alice",
		TakerOwner: "bob",
		TakerSide:  model.Buy,
		Price:      10050,
		Quantity:   3,
	}
}

func TestNewFillEvent(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	ev := NewFillEvent("BTC-USD", decimal.New(1, -2), sampleFill(), now)

	_, err := uuid.Parse(ev.EventID)
	require.NoError(t, err)
	assert.Equal(t, "BTC-USD", ev.Symbol)
	assert.Equal(t, "100.5", ev.Price)
	assert.Equal(t, int64(10050), ev.PriceTicks)
	assert.Equal(t, "BUY", ev.TakerSide)
	assert.Equal(t, uint64(1), ev.MakerOrderID)
	assert.Equal(t, uint64(2), ev.TakerOrderID)
	assert.Equal(t, now, ev.PublishedAt)
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &recordingWriter{}
	cfg := DefaultKafkaConfig()
	cfg.Symbol = "BTC-USD"
	p := newKafkaPublisher(cfg, w, zap.NewNop())

	second := sampleFill()
	second.Seq = 8
	second.TakerID = 9
	require.NoError(t, p.Publish(context.Background(), []model.Fill{sampleFill(), second}))
	require.Len(t, w.msgs, 2)

	assert.Equal(t, "2", string(w.msgs[0].Key))
	assert.Equal(t, "9", string(w.msgs[1].Key))

	var ev FillEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &ev))
	assert.Equal(t, uint64(7), ev.Seq)
	assert.Equal(t, "100.5", ev.Price)

	headers := map[string]string{}
	for _, h := range w.msgs[1].Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "matchd", headers["source"])
	assert.Equal(t, "8", headers["seq"])
	assert.NotEmpty(t, headers["event_id"])
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	w := &recordingWriter{err: errors.New("broker down")}
	p := newKafkaPublisher(DefaultKafkaConfig(), w, zap.NewNop())
	err := p.Publish(context.Background(), []model.Fill{sampleFill()})
	require.Error(t, err)
	assert.ErrorIs(t, err, w.err)
}

func TestKafkaPublisher_Close(t *testing.T) {
	w := &recordingWriter{}
	p := newKafkaPublisher(DefaultKafkaConfig(), w, zap.NewNop())
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.Equal(t, 1, w.closed)
	assert.ErrorIs(t, p.Publish(context.Background(), []model.Fill{sampleFill()}), ErrClosed)
	assert.NoError(t, p.Publish(context.Background(), nil))
}

func TestNewKafkaPublisher_RequiresBrokers(t *testing.T) {
	_, err := NewKafkaPublisher(KafkaConfig{Topic: "fills"}, zap.NewNop())
	assert.Error(t, err)

	p, err := NewKafkaPublisher(KafkaConfig{Brokers: []string{"127.0.0.1:9092"}, Topic: "fills"}, zap.NewNop())
	require.NoError(t, err)
	assert.NoError(t, p.Close())
}
