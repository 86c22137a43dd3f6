package internal

import (
	"crypto/rand"
	"math/big"
	"strings"
	"time"
)

// CodeAlphabet 房間碼字元集
//
// 去掉手寫或口述時容易混淆的字元：0/O、1/I。
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	DefaultCodeLength         = 4
	DefaultFallbackCodeLength = 6
	DefaultMaxCodeAttempts    = 1000
)

// CodeAllocator 產生短房間碼
//
// 4 碼空間約 100 萬，房間數量遠小於此時幾乎不會碰撞；
// 重試預算用完就改用 6 碼（約 10 億），碰撞機率可忽略。
//
// Allocate 本身不加鎖，由 Registry 在持有房間表寫鎖時呼叫，
// 確保「檢查未被使用 + 插入房間」是同一個不可分割的操作。
type CodeAllocator struct {
	Length         int
	FallbackLength int
	MaxAttempts    int

	// randIndex 返回 [0, n) 的隨機數，測試可替換
	randIndex func(n int) int
}

// NewCodeAllocator 創建房間碼產生器
func NewCodeAllocator(length, fallbackLength, maxAttempts int) *CodeAllocator {
	if length <= 0 {
		length = DefaultCodeLength
	}
	if fallbackLength <= length {
		fallbackLength = length + 2
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxCodeAttempts
	}
	return &CodeAllocator{
		Length:         length,
		FallbackLength: fallbackLength,
		MaxAttempts:    maxAttempts,
		randIndex:      cryptoIndex,
	}
}

// WithRand 替換隨機來源（測試用）
func (a *CodeAllocator) WithRand(fn func(n int) int) *CodeAllocator {
	a.randIndex = fn
	return a
}

// Allocate 產生一個未被使用的房間碼
//
// taken 回報某個碼目前是否已被存活的房間使用。
func (a *CodeAllocator) Allocate(taken func(code string) bool) string {
	for i := 0; i < a.MaxAttempts; i++ {
		code := a.generate(a.Length)
		if !taken(code) {
			return code
		}
	}

	// 退回長碼；極端情況下仍檢查碰撞
	for {
		code := a.generate(a.FallbackLength)
		if !taken(code) {
			return code
		}
	}
}

func (a *CodeAllocator) generate(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = CodeAlphabet[a.randIndex(len(CodeAlphabet))]
	}
	return string(b)
}

// cryptoIndex 使用 crypto/rand，失敗時退回時間戳
func cryptoIndex(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return int(time.Now().UnixNano() % int64(n))
	}
	return int(v.Int64())
}

// NormalizeCode 清理使用者輸入的房間碼
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
