package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"roomchat/internal/auth"
	"roomchat/internal/config"
	"roomchat/internal/db"
	clog "roomchat/internal/log"
	"roomchat/internal/models"
	"roomchat/internal/sanitize"
	"roomchat/internal/service"
	"roomchat/internal/storage"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"gorm.io/gorm"
)

type seedUser struct {
	handle      string
	email       string
	displayName string
}

type seedRoom struct {
	name        string
	description string
	public      bool
	members     []string
	messages    []seedMessage
}

type seedMessage struct {
	author string
	text   string
}

var demoUsers = []seedUser{
	{handle: "jan", email: "jan@example.com", displayName: "Jan Kowalski"},
	{handle: "anna", email: "anna@example.com", displayName: "Anna Nowak"},
	{handle: "piotr", displayName: "Piotr Wiśniewski"},
}

// 第一个成员是房间创建者。
var demoRooms = []seedRoom{
	{
		name: "General", description: "Public room for everyone", public: true,
		members: []string{"jan", "anna", "piotr"},
		messages: []seedMessage{
			{"jan", "Hi everyone! How are you doing?"},
			{"anna", "Hi! Great, thanks! 😊"},
			{"piotr", "Hello all! Nice to meet you."},
		},
	},
	{
		name: "Projects", description: "Project discussions", public: true,
		members: []string{"jan", "anna"},
		messages: []seedMessage{
			{"jan", "How is the project going?"},
			{"anna", "Everything is on schedule! 👍"},
		},
	},
	{
		name: "Private room", description: "Invite-only room", public: false,
		members: []string{"jan", "piotr"},
	},
}

// logOutput 是日志输出目标，测试中替换。
var logOutput io.Writer = os.Stdout

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		reset    bool
		password string
	)
	flagSet := pflag.NewFlagSet("seed", pflag.ContinueOnError)
	flagSet.BoolVar(&reset, "reset", false, "delete all existing rows and uploaded files before seeding")
	flagSet.StringVar(&password, "password", "test123", "password for every demo user")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if extra := flagSet.Args(); len(extra) > 0 {
		return fmt.Errorf("unexpected argument: %s", extra[0])
	}

	cfg := config.Load()
	clog.InitWriter(cfg.Env, logOutput)

	gdb, err := db.Connect(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	if err := db.Migrate(gdb); err != nil {
		return fmt.Errorf("db migrate: %w", err)
	}

	disk, err := storage.NewDisk(cfg.UploadDir)
	if err != nil {
		return fmt.Errorf("upload dir: %w", err)
	}

	if err := seed(context.Background(), gdb, disk, password, reset); err != nil {
		return err
	}
	handles := make([]string, 0, len(demoUsers))
	for _, u := range demoUsers {
		handles = append(handles, u.handle)
	}
	// 密码由调用方通过 --password 指定，不写入日志。
	log.Info().Strs("handles", handles).Msg("demo users ready")
	return nil
}

// seed 写入演示数据；数据库非空且未指定 reset 时拒绝执行。
func seed(ctx context.Context, gdb *gorm.DB, disk *storage.Disk, password string, reset bool) error {
	if reset {
		if err := wipe(gdb.WithContext(ctx), disk); err != nil {
			return fmt.Errorf("reset: %w", err)
		}
		log.Info().Msg("existing data removed")
	} else {
		var n int64
		if err := gdb.WithContext(ctx).Model(&models.User{}).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return errors.New("database already has users; rerun with --reset")
		}
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	ids := make(map[string]uint, len(demoUsers))
	for _, su := range demoUsers {
		u := models.User{Handle: su.handle, PasswordHash: hash, DisplayName: sanitize.Escape(su.displayName)}
		if su.email != "" {
			email := su.email
			u.Email = &email
		}
		if err := gdb.WithContext(ctx).Create(&u).Error; err != nil {
			return fmt.Errorf("create user %s: %w", su.handle, err)
		}
		ids[su.handle] = u.ID
	}
	log.Info().Int("count", len(demoUsers)).Msg("users created")

	guard := service.NewAccessGuard(gdb)
	rooms := service.NewRoomService(gdb)
	msgs := service.NewMessageService(gdb, guard, nil, service.DefaultMessageWindow)
	for _, sr := range demoRooms {
		desc, public := sr.description, sr.public
		room, err := rooms.Create(ctx, ids[sr.members[0]], service.CreateRoomInput{
			Name:        sr.name,
			Description: &desc,
			IsPublic:    &public,
		})
		if err != nil {
			return fmt.Errorf("create room %s: %w", sr.name, err)
		}
		for _, m := range sr.members[1:] {
			if err := guard.Enroll(ctx, ids[m], room.ID); err != nil {
				return fmt.Errorf("enroll %s: %w", m, err)
			}
		}
		for _, m := range sr.messages {
			if _, err := msgs.Append(ctx, room.ID, ids[m.author], m.text); err != nil {
				return fmt.Errorf("message in %s: %w", sr.name, err)
			}
		}
		log.Info().Str("room", sr.name).Bool("public", sr.public).Int("members", len(sr.members)).Msg("room seeded")
	}
	return nil
}

// wipe 按外键依赖顺序清空所有表，再删除附件记录指向的上传文件。
func wipe(tx *gorm.DB, disk *storage.Disk) error {
	var paths []string
	if err := tx.Model(&models.File{}).Pluck("path", &paths).Error; err != nil {
		return err
	}
	all := tx.Session(&gorm.Session{AllowGlobalUpdate: true})
	for _, m := range []any{&models.File{}, &models.Message{}, &models.Membership{}, &models.Room{}, &models.User{}} {
		if err := all.Delete(m).Error; err != nil {
			return err
		}
	}
	removed := 0
	for _, p := range paths {
		if err := disk.Remove(strings.TrimPrefix(p, storage.URLPrefix)); err != nil {
			log.Warn().Err(err).Str("path", p).Msg("remove upload")
			continue
		}
		removed++
	}
	log.Info().Int("files", removed).Msg("uploads removed")
	return nil
}
