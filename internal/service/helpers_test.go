package service

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"roomchat/internal/auth"
	"roomchat/internal/db"
	"roomchat/internal/models"
	"roomchat/internal/storage"
	"roomchat/internal/ws"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type testEnv struct {
	db     *gorm.DB
	tokens *auth.Tokens
	guard  *AccessGuard
	users  *UserService
	rooms  *RoomService
	msgs   *MessageService
	files  *FileService
	disk   *storage.Disk
	hub    *ws.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gdb, err := db.Connect("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", name))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	tokens, err := auth.NewTokens("service-test-secret", auth.DefaultSessionTTL)
	require.NoError(t, err)
	disk, err := storage.NewDisk(filepath.Join(t.TempDir(), "uploads"))
	require.NoError(t, err)

	hub := ws.NewHub()
	guard := NewAccessGuard(gdb)
	msgs := NewMessageService(gdb, guard, hub, DefaultMessageWindow)
	return &testEnv{
		db:     gdb,
		tokens: tokens,
		guard:  guard,
		users:  NewUserService(gdb, tokens),
		rooms:  NewRoomService(gdb),
		msgs:   msgs,
		files:  NewFileService(gdb, guard, disk, msgs, DefaultMaxUploadBytes),
		disk:   disk,
		hub:    hub,
	}
}

// mustUser 直接写库创建用户，绕过 bcrypt 以加快测试。
func (e *testEnv) mustUser(t *testing.T, handle string) models.User {
	t.Helper()
	u := models.User{Handle: handle, PasswordHash: "x", DisplayName: strings.ToUpper(handle)}
	require.NoError(t, e.db.Create(&u).Error)
	return u
}

func (e *testEnv) mustRoom(t *testing.T, owner uint, name string, public bool) RoomDTO {
	t.Helper()
	r, err := e.rooms.Create(context.Background(), owner, CreateRoomInput{Name: name, IsPublic: &public})
	require.NoError(t, err)
	return *r
}

func (e *testEnv) membershipCount(t *testing.T, userID, roomID uint) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&models.Membership{}).Where("user_id = ? AND room_id = ?", userID, roomID).Count(&n).Error)
	return n
}

func requireKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, KindOf(err), "error %v", err)
}
