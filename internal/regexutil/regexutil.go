// Package regexutil 提供带并发安全缓存的正则表达式编译工具
package regexutil

import (
	"fmt"
	"regexp"
	"sync"
)

// MaxPatternLength regexFilter 允许的最大长度，超出时浏览器同样会拒绝
const MaxPatternLength = 2048

// Cache 正则表达式编译器缓存
// 内部使用 sync.Map 优化读多写少的并发场景
type Cache struct {
	cache sync.Map
}

// New 创建一个新的正则缓存实例
func New() *Cache {
	return &Cache{}
}

// Get 获取编译后的正则表达式对象
// 如果缓存中已存在则直接返回，否则进行编译并存入缓存
func (c *Cache) Get(p string) (*regexp.Regexp, error) {
	if val, ok := c.cache.Load(p); ok {
		return val.(*regexp.Regexp), nil
	}

	compiled, err := regexp.Compile(p)
	if err != nil {
		return nil, err
	}

	c.cache.Store(p, compiled)
	return compiled, nil
}

// GetFold 获取规则匹配用的正则，caseSensitive 为 false 时忽略大小写
func (c *Cache) GetFold(p string, caseSensitive bool) (*regexp.Regexp, error) {
	if caseSensitive {
		return c.Get(p)
	}
	return c.Get("(?i)" + p)
}

// Validate 校验 regexFilter 是否为可用的 RE2 表达式
func (c *Cache) Validate(p string) error {
	if len(p) > MaxPatternLength {
		return fmt.Errorf("正则长度 %d 超过上限 %d", len(p), MaxPatternLength)
	}
	_, err := c.Get(p)
	return err
}

var shared = New()

// Shared 返回进程级共享缓存
func Shared() *Cache { return shared }
