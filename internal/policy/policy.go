// Package policy 定义缓存淘汰策略（disabled / random / LRU），并负责从配置值或
// 旧版策略文件中解析出进程启动时使用的策略。
package policy

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Policy 选择缓存引擎的工作模式，启动时确定，运行期间只读。
type Policy uint8

const (
	// Disabled 关闭缓存，所有读写直接落到后端文件。
	Disabled Policy = iota
	// Random 在缓存已满时随机选择一个已绑定槽位淘汰。
	Random
	// LRU 在缓存已满时淘汰最久未使用的槽位。
	LRU
)

// ErrUnknownPolicy 表示策略值不在 0/1/2 范围内或名称无法识别。
var ErrUnknownPolicy = errors.New("unknown cache policy")

// String 返回策略的规范名称，供日志与诊断接口使用。
func (p Policy) String() string {
	switch p {
	case Disabled:
		return "disabled"
	case Random:
		return "random"
	case LRU:
		return "lru"
	default:
		return fmt.Sprintf("policy(%d)", uint8(p))
	}
}

// Valid 判断 p 是否为已知策略。
func (p Policy) Valid() bool {
	return p <= LRU
}

// Caching 表示引擎是否需要查询槽位登记表；disabled 时直接透传。
func (p Policy) Caching() bool {
	return p == Random || p == LRU
}

// MarshalText 让策略在 JSON/TOML 中以名称呈现。
func (p Policy) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPolicy, uint8(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText 接受 Parse 能识别的所有写法。
func (p *Policy) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Parse 接受数字（0/1/2）或名称（disabled|none|off、random、lru），大小写不敏感。
func Parse(raw string) (Policy, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	switch normalized {
	case "disabled", "none", "off":
		return Disabled, nil
	case "random":
		return Random, nil
	case "lru":
		return LRU, nil
	}
	n, err := strconv.ParseUint(normalized, 10, 8)
	if err != nil {
		return Disabled, fmt.Errorf("%w: %q", ErrUnknownPolicy, raw)
	}
	return FromUint(n)
}

// FromUint 将数值形式的配置转换为 Policy。
func FromUint(n uint64) (Policy, error) {
	p := Policy(n)
	if n > uint64(LRU) {
		return Disabled, fmt.Errorf("%w: %d", ErrUnknownPolicy, n)
	}
	return p, nil
}

// LoadFile 读取旧版策略文件：第一行是说明行会被跳过，第二行开头的无符号整数即策略值。
// 第二行无法解析为整数时视为 Disabled；文件不可读或数值越界时返回错误。
func LoadFile(path string) (Policy, error) {
	f, err := os.Open(path)
	if err != nil {
		return Disabled, fmt.Errorf("open policy file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return Disabled, fmt.Errorf("read policy file: %w", err)
		}
		return Disabled, nil
	}
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return Disabled, fmt.Errorf("read policy file: %w", err)
		}
		return Disabled, nil
	}

	n, ok := leadingUint(scanner.Text())
	if !ok {
		return Disabled, nil
	}
	return FromUint(n)
}

// leadingUint 提取行首（忽略前导空白）的十进制无符号整数。
func leadingUint(line string) (uint64, bool) {
	line = strings.TrimLeft(line, " \t")
	end := 0
	for end < len(line) && line[end] >= '0' && line[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.ParseUint(line[:end], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
