package server

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var errRangeNotSatisfiable = errors.New("range not satisfiable")

// byteRange 闭区间 [Start, End]
type byteRange struct {
	Start int64
	End   int64
}

func (r byteRange) Length() int64 {
	return r.End - r.Start + 1
}

func (r byteRange) ContentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, size)
}

// parseRange 解析单段 Range 头。返回 nil 表示忽略 Range 返回整个文件：
// 头为空、格式不对或多段请求都按整段处理
func parseRange(header string, size int64) (*byteRange, error) {
	if header == "" {
		return nil, nil
	}
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return nil, nil
	}
	spec := strings.TrimSpace(header[len(prefix):])
	if spec == "" || strings.Contains(spec, ",") {
		return nil, nil
	}

	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok {
		return nil, nil
	}
	startStr, endStr = strings.TrimSpace(startStr), strings.TrimSpace(endStr)

	if startStr == "" {
		// bytes=-N，最后 N 个字节
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n < 0 {
			return nil, nil
		}
		if n == 0 || size == 0 {
			return nil, errRangeNotSatisfiable
		}
		if n > size {
			n = size
		}
		return &byteRange{Start: size - n, End: size - 1}, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return nil, nil
	}
	if start >= size {
		return nil, errRangeNotSatisfiable
	}
	end := size - 1
	if endStr != "" {
		e, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || e < start {
			return nil, nil
		}
		if e < end {
			end = e
		}
	}
	return &byteRange{Start: start, End: end}, nil
}
