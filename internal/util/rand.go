package util

import (
	"crypto/rand"
	"encoding/binary"
)

const charset = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

func randStr(n int, cs string) string {
	buf := make([]byte, n)
	_, err := rand.Read(buf)
	if err != nil {
		panic(err)
	}
	for i, b := range buf {
		buf[i] = cs[b%byte(len(cs))]
	}
	return string(buf)
}

func RandString(n int) string {
	return randStr(n, charset)
}

func RandStringLC(n int) string {
	return randStr(n, charset[:36])
}

// RandUint32 returns a cryptographically random 32-bit value.
func RandUint32() uint32 {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(err)
	}
	return binary.BigEndian.Uint32(buf[:])
}
