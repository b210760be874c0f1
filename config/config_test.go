package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "DH", cfg.Business.OrderIDPrefix)
	assert.Equal(t, "NK", cfg.Business.ImportIDPrefix)
	assert.Equal(t, 4, cfg.Business.IDPadWidth)
	assert.Equal(t, 24*time.Hour, cfg.Business.ImportReversalWindow)
	assert.Equal(t, time.UTC, cfg.Business.ReportLocation)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("IMPORT_REVERSAL_WINDOW", "12h")
	t.Setenv("ID_PAD_WIDTH", "6")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("LOCK_TIMEOUT", "not-a-duration")

	cfg := Load()

	assert.Equal(t, 12*time.Hour, cfg.Business.ImportReversalWindow)
	assert.Equal(t, 6, cfg.Business.IDPadWidth)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 5*time.Second, cfg.Database.LockTimeout)
}
