package service

import (
	"crypto/rand"
	"math/big"
	"time"
)

const (
	orderNumberPrefix   = "AP"
	orderNumberAlphabet = "0123456789ABCDEFGHJKLMNPQRSTUVWXYZ"
	orderNumberSuffix   = 6
)

// newOrderNumber: AP + YYMM + случайный суффикс без I и O, например AP2610K3F9Q2.
func newOrderNumber(now time.Time) (string, error) {
	buf := make([]byte, 0, len(orderNumberPrefix)+4+orderNumberSuffix)
	buf = append(buf, orderNumberPrefix...)
	buf = now.UTC().AppendFormat(buf, "0601")

	max := big.NewInt(int64(len(orderNumberAlphabet)))
	for i := 0; i < orderNumberSuffix; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf = append(buf, orderNumberAlphabet[n.Int64()])
	}
	return string(buf), nil
}
