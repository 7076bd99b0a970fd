package repository

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate 唯一键冲突
	ErrDuplicate = errors.New("duplicate record")
)

// mysqlDuplicateEntry MySQL ER_DUP_ENTRY
const mysqlDuplicateEntry = 1062

// translateError 把驱动层错误映射成仓库层的哨兵错误，原始错误保留在链上
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %w", ErrDuplicate, err)
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
		return fmt.Errorf("%w: %w", ErrDuplicate, err)
	}
	return err
}
