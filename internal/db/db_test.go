package db

import (
	"fmt"
	"testing"

	"roomchat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryDSN(t *testing.T) string {
	return fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", t.Name())
}

func TestConnect_UnknownDriver(t *testing.T) {
	_, err := Connect("mysql", "whatever")
	assert.Error(t, err)
}

func TestMigrate_SQLite(t *testing.T) {
	gdb, err := Connect("sqlite", memoryDSN(t))
	require.NoError(t, err)
	require.NoError(t, Migrate(gdb))

	for _, m := range []any{&models.User{}, &models.Room{}, &models.Membership{}, &models.Message{}, &models.File{}} {
		assert.True(t, gdb.Migrator().HasTable(m), "missing table for %T", m)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	gdb, err := Connect("sqlite", memoryDSN(t))
	require.NoError(t, err)
	require.NoError(t, Migrate(gdb))

	require.NoError(t, gdb.Create(&models.User{Handle: "jan", PasswordHash: "x", DisplayName: "jan"}).Error)
	err = gdb.Create(&models.User{Handle: "jan", PasswordHash: "y", DisplayName: "jan"}).Error
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))
	assert.False(t, IsUniqueViolation(fmt.Errorf("other")))
}
