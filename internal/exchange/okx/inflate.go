package okx

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/flate"
)

// Inflate 解压 raw deflate 帧，失败时原样返回输入
// 参数 data: 原始帧
// 返回: 解压后的字节与是否解压成功
func Inflate(data []byte) ([]byte, bool) {
	if len(data) == 0 || data[0] == '{' || data[0] == '[' {
		return data, false
	}
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil || len(out) == 0 {
		return data, false
	}
	return out, true
}
