package pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func TestDefaultPoolConfig(t *testing.T) {
	cfg := DefaultPoolConfig()
	assert.Equal(t, 25, cfg.MaxOpenConns)
	assert.Equal(t, 5, cfg.MaxIdleConns)
	assert.Equal(t, 5*time.Minute, cfg.ConnMaxLifetime)
	assert.Equal(t, 10*time.Minute, cfg.ConnMaxIdleTime)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"zero open", Config{MaxOpenConns: 0, MaxIdleConns: 5}, "MaxOpenConns must be greater than 0"},
		{"negative open", Config{MaxOpenConns: -1, MaxIdleConns: 5}, "MaxOpenConns must be greater than 0"},
		{"negative idle", Config{MaxOpenConns: 10, MaxIdleConns: -1}, "MaxIdleConns must be non-negative"},
		{"idle above open", Config{MaxOpenConns: 5, MaxIdleConns: 10}, "MaxIdleConns (10) cannot be greater than MaxOpenConns (5)"},
		{"idle equals open", Config{MaxOpenConns: 10, MaxIdleConns: 10}, ""},
		{"zero idle", Config{MaxOpenConns: 10, MaxIdleConns: 0}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestSetupConnectionPoolAppliesLimits(t *testing.T) {
	db := openDB(t)

	err := SetupConnectionPool(db, Config{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 10 * time.Minute,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.Equal(t, 10, sqlDB.Stats().MaxOpenConnections)
}

func TestSetupConnectionPoolRejectsBadConfig(t *testing.T) {
	db := openDB(t)

	err := SetupConnectionPool(db, Config{MaxOpenConns: 0})
	assert.ErrorContains(t, err, "MaxOpenConns")
}
