package filestore

import (
	"strings"
	"unicode/utf8"
)

// Lines 统计行数：以 \n、\r\n 或单独的 \r 结尾的行，加上末尾没有换行符的最后一段。
// 空内容为 0 行，末尾的换行符不会多算一行。
func Lines(b []byte) int {
	n := 0
	partial := false
	for i := 0; i < len(b); i++ {
		switch b[i] {
		case '\n':
			n++
			partial = false
		case '\r':
			n++
			partial = false
			if i+1 < len(b) && b[i+1] == '\n' {
				i++
			}
		default:
			partial = true
		}
	}
	if partial {
		n++
	}
	return n
}

// Words 统计以空白分隔的最长非空白片段的数量
func Words(b []byte) int {
	return len(strings.Fields(string(b)))
}

// Characters 统计 UTF-8 解码后的字符（rune）数量，非法字节各算一个
func Characters(b []byte) int {
	return utf8.RuneCount(b)
}
