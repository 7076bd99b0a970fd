package ingest

import (
	"context"
	"errors"
	"net"

	"meuwsic/repository"

	"github.com/go-sql-driver/mysql"
	"github.com/minio/minio-go/v7"
)

// Category 上传失败分类，字符串值对外稳定
type Category string

const (
	CategoryAudioValidation Category = "audio_validation"
	CategoryDatabase        Category = "database"
	CategoryStorage         Category = "cloudflare_r2"
	CategoryNetwork         Category = "network"
	CategoryTimeout         Category = "timeout"
	CategoryFileSize        Category = "file_size"
	CategoryFileFormat      Category = "file_format"
	CategoryUnknown         Category = "unknown"
)

// Error 带分类的上传错误
type Error struct {
	Category Category
	Op       string
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op
	}
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError 构造分类错误
func NewError(category Category, op string, err error) *Error {
	return &Error{Category: category, Op: op, Err: err}
}

// Classify 按错误类型判定分类，不看错误文本
func Classify(err error) Category {
	if err == nil {
		return ""
	}
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Category
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CategoryTimeout
		}
		return CategoryNetwork
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) ||
		errors.Is(err, repository.ErrDuplicate) ||
		errors.Is(err, repository.ErrNotFound) {
		return CategoryDatabase
	}
	var s3Err minio.ErrorResponse
	if errors.As(err, &s3Err) {
		return CategoryStorage
	}
	return CategoryUnknown
}

// stepError 把某一步的失败包装成分类错误，Classify 认不出的错误归入该步骤的分类
func stepError(fallback Category, op string, err error) *Error {
	var ie *Error
	if errors.As(err, &ie) {
		return ie
	}
	category := Classify(err)
	if category == CategoryUnknown {
		category = fallback
	}
	return NewError(category, op, err)
}
