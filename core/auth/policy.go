package auth

import "strings"

// AdminPolicy 管理员白名单，邮箱比较忽略大小写与首尾空白
type AdminPolicy struct {
	allow map[string]struct{}
}

func NewAdminPolicy(emails []string) *AdminPolicy {
	p := &AdminPolicy{allow: make(map[string]struct{}, len(emails))}
	for _, e := range emails {
		if e = normalizeEmail(e); e != "" {
			p.allow[e] = struct{}{}
		}
	}
	return p
}

// IsAllowed 判断身份是否为管理员。空白名单拒绝所有人
func (p *AdminPolicy) IsAllowed(email string) bool {
	if p == nil {
		return false
	}
	_, ok := p.allow[normalizeEmail(email)]
	return ok
}

// Size 白名单条目数
func (p *AdminPolicy) Size() int {
	return len(p.allow)
}

func normalizeEmail(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}
