package utils

import (
	"errors"
	"math/rand"

	"github.com/code-100-precent/LingClassroom/pkg/logger"
	"go.uber.org/zap"
)

var letterRunes = []rune("0123456789abcdefghijklmnopqrstuvwxyz")
var numberRunes = []rune("0123456789")

func randRunes(n int, source []rune) string {
	b := make([]rune, n)
	for i := range b {
		b[i] = source[rand.Intn(len(source))]
	}
	return string(b)
}

func RandText(n int) string {
	return randRunes(n, letterRunes)
}

func RandNumberText(n int) string {
	return randRunes(n, numberRunes)
}

// SafeCall runs f and turns a panic into a call to failHandle.
func SafeCall(f func() error, failHandle func(error)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			eo, ok := r.(error)
			if !ok {
				es, ok := r.(string)
				if ok {
					eo = errors.New(es)
				} else {
					eo = errors.New("unknown error type")
				}
			}
			err = eo
			if failHandle != nil {
				failHandle(eo)
			} else {
				logger.Error("panic", zap.Any("error", r))
			}
		}
	}()
	return f()
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
