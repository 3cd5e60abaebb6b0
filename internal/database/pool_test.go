package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// =============================================================================
// 🧪 PoolManager 测试
// =============================================================================

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *gorm.DB) {
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		Conn: mockDB,
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{DisableAutomaticPing: true})
	require.NoError(t, err)

	return mockDB, mock, gormDB
}

func testPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
	}
}

func TestNewPoolManager(t *testing.T) {
	mockDB, _, gormDB := setupTestDB(t)
	defer mockDB.Close()

	config := testPoolConfig()
	manager, err := NewPoolManager(gormDB, config, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, gormDB, manager.DB())
	assert.Equal(t, config, manager.config)
	assert.Equal(t, 10, manager.GetStats().MaxOpenConnections)
}

func TestNewPoolManager_NilDB(t *testing.T) {
	_, err := NewPoolManager(nil, testPoolConfig(), zap.NewNop())
	assert.Error(t, err)
}

func TestNewPoolManager_InvalidConfig(t *testing.T) {
	mockDB, _, gormDB := setupTestDB(t)
	defer mockDB.Close()

	_, err := NewPoolManager(gormDB, PoolConfig{MaxOpenConns: 2, MaxIdleConns: 5}, zap.NewNop())
	assert.Error(t, err)
}

func TestPoolManager_Ping(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	manager, err := NewPoolManager(gormDB, testPoolConfig(), zap.NewNop())
	require.NoError(t, err)

	mock.ExpectPing()
	assert.NoError(t, manager.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	assert.Error(t, manager.Ping(context.Background()))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_Close(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)

	manager, err := NewPoolManager(gormDB, testPoolConfig(), zap.NewNop())
	require.NoError(t, err)

	mock.ExpectClose()
	require.NoError(t, manager.Close())
	assert.NoError(t, manager.Close(), "重复关闭无副作用")
	assert.Error(t, manager.Ping(context.Background()))

	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Error(t, mockDB.Ping(), "底层连接已关闭")
}

func TestPoolManager_HealthCheckLogsFailure(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	core, logs := observer.New(zap.ErrorLevel)
	config := testPoolConfig()
	config.HealthCheckInterval = 10 * time.Millisecond

	mock.ExpectPing().WillReturnError(sql.ErrConnDone)

	manager, err := NewPoolManager(gormDB, config, zap.New(core))
	require.NoError(t, err)
	defer manager.Close()

	assert.Eventually(t, func() bool {
		return logs.FilterMessage("database health check failed").Len() > 0
	}, time.Second, 5*time.Millisecond)
}

func TestPoolConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  PoolConfig
		wantErr bool
	}{
		{name: "valid config", config: testPoolConfig()},
		{name: "invalid max open conns", config: PoolConfig{MaxOpenConns: 0, MaxIdleConns: 5}, wantErr: true},
		{name: "invalid max idle conns", config: PoolConfig{MaxOpenConns: 10, MaxIdleConns: 0}, wantErr: true},
		{name: "idle > open", config: PoolConfig{MaxOpenConns: 5, MaxIdleConns: 10}, wantErr: true},
		{name: "defaults", config: DefaultPoolConfig()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDialector(t *testing.T) {
	for _, driver := range []string{"postgres", "mysql"} {
		d, err := Dialector(driver, "dsn")
		require.NoError(t, err)
		assert.Equal(t, driver, d.Name())
	}

	_, err := Dialector("", "x")
	assert.Error(t, err)
	_, err = Dialector("oracle", "x")
	assert.Error(t, err)
}

func TestOpen_SQLiteCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cache.db")

	manager, err := Open("sqlite", path, PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1}, zap.NewNop())
	require.NoError(t, err)
	defer manager.Close()

	assert.NoError(t, manager.Ping(context.Background()))
	assert.DirExists(t, filepath.Dir(path))
}
