package db

import (
	"fmt"
	"strings"
	"testing"

	"meuwsic/model"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestCollationDDL(t *testing.T) {
	stmts := collationDDL("mysql")
	if len(stmts) != 2 {
		t.Fatalf("mysql statements = %d, want 2", len(stmts))
	}
	for i, col := range []string{"`artists` MODIFY `name`", "`albums` MODIFY `title`"} {
		if !strings.Contains(stmts[i], col) || !strings.Contains(stmts[i], "COLLATE utf8mb4_bin") {
			t.Errorf("stmt[%d] = %q", i, stmts[i])
		}
	}
	if stmts := collationDDL("sqlite"); stmts != nil {
		t.Errorf("sqlite statements = %v", stmts)
	}
}

func TestAutoMigrateKeepsCaseVariantArtists(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { Close(gdb) })

	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	for _, name := range []string{"Adele", "adele"} {
		if err := gdb.Create(&model.Artist{Name: name, Slug: "adele"}).Error; err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}
	var n int64
	gdb.Model(&model.Artist{}).Count(&n)
	if n != 2 {
		t.Errorf("artists = %d, want 2", n)
	}
}
