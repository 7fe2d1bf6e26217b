package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconciliationAmounts(t *testing.T) {
	cash, deposit, base, err := ReconciliationConfig{CashTolerance: " 500 ", BaseBalance: "200000.50"}.Amounts()
	require.NoError(t, err)
	assert.True(t, cash.Equal(decimal.NewFromInt(500)))
	assert.True(t, deposit.IsZero())
	assert.True(t, base.Equal(decimal.RequireFromString("200000.5")))

	_, _, _, err = ReconciliationConfig{DepositTolerance: "mil"}.Amounts()
	assert.ErrorContains(t, err, "deposit_tolerance")

	_, _, _, err = ReconciliationConfig{CashTolerance: "-1"}.Amounts()
	assert.ErrorContains(t, err, "must not be negative")
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "oms", Password: "x", DBName: "oms", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=oms password=x dbname=oms sslmode=disable TimeZone=America/Bogota", d.DSN())
}

func TestSiigoEnabled(t *testing.T) {
	assert.False(t, SiigoConfig{Username: "u"}.Enabled())
	assert.True(t, SiigoConfig{Username: "u", AccessKey: "k"}.Enabled())
}

const sampleConfig = `
server:
  port: 9090
database:
  host: 127.0.0.1
  user: oms
  dbname: oms
siigo:
  poll_interval: 2m
whatsapp:
  templates:
    en_reparto: pedido_en_camino
reconciliation:
  cash_tolerance: "100"
packaging:
  enforce_lock: true
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("DB_PASSWORD", "from-env")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "from-env", cfg.Database.Password)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 2*time.Minute, cfg.Siigo.PollInterval)
	assert.Equal(t, 30*time.Minute, cfg.Siigo.MaxBackoff)
	assert.Equal(t, "pedido_en_camino", cfg.WhatsApp.Templates["en_reparto"])
	assert.Equal(t, "100", cfg.Reconciliation.CashTolerance)
	assert.True(t, cfg.Packaging.EnforceLock)
	assert.Equal(t, 10*time.Minute, cfg.Packaging.LockTTL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "oms.order-events", cfg.Kafka.Topic)
}

func TestLoad_RejectsBadTolerance(t *testing.T) {
	_, err := Load(writeConfig(t, "reconciliation:\n  deposit_tolerance: abc\n"))
	assert.Error(t, err)
}
