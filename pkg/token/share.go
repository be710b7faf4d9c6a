package token

import (
	"crypto/rand"
	"encoding/base64"

	"golang.org/x/crypto/bcrypt"
)

// shareTokenBytes 是分享令牌的随机熵字节数。
// 32 字节经 base64 URL-safe 编码后得到 43 个字符，穷举不可行。
const shareTokenBytes = 32

// ShareTokenLength 是 GenerateShareToken 返回字符串的固定长度。
const ShareTokenLength = 43

// GenerateShareToken 生成一个定长、URL 安全的不透明分享令牌。
// 令牌可直接嵌入查询参数，无需额外编码；明文只在生成时返回一次，
// 服务端仅保存其哈希。
func GenerateShareToken() string {
	buf := make([]byte, shareTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand 读取失败意味着系统熵源不可用，属于不可恢复错误
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// HashShareToken 计算分享令牌的 bcrypt 哈希，用于持久化。
func HashShareToken(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckShareToken 校验明文令牌与持久化哈希是否匹配。
func CheckShareToken(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
