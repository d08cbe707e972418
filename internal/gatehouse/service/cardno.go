package service

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strings"
)

// Card numbers double as the capability token a visitor presents at a door,
// so the suffix must come from an unpredictable source.  The alphabet is
// the full alphanumeric set the vendor accepts in card identifiers.
const cardNoAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// cardNoTag marks every identifier this service issued, so stray cards on a
// door are recognizably ours (or recognizably not).
const cardNoTag = "G-"

// maxCardNoLength is the vendor's hard limit on card identifiers.
const maxCardNoLength = 20

var prefixPattern = regexp.MustCompile(`^[a-zA-Z]{0,10}$`)

// NewCardNumber builds a fresh card identifier: tag, optional caller prefix,
// and a random alphanumeric suffix filling the rest of the vendor's length
// budget.  With no prefix the suffix is 18 characters (~107 bits).
func NewCardNumber(prefix string) (string, error) {
	if !prefixPattern.MatchString(prefix) {
		return "", ErrInvalidPrefix
	}

	head := cardNoTag
	if prefix != "" {
		head += prefix + "-"
	}

	n := maxCardNoLength - len(head)
	suffix, err := randomChars(n)
	if err != nil {
		return "", fmt.Errorf("card number entropy: %w", err)
	}
	return head + suffix, nil
}

// randomChars draws n characters uniformly from cardNoAlphabet.  Rejection
// sampling keeps the distribution unbiased: bytes >= 248 (the largest
// multiple of 62 below 256) are discarded.
func randomChars(n int) (string, error) {
	var b strings.Builder
	b.Grow(n)

	buf := make([]byte, n*2)
	for b.Len() < n {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, x := range buf {
			if x >= 248 {
				continue
			}
			b.WriteByte(cardNoAlphabet[int(x)%len(cardNoAlphabet)])
			if b.Len() == n {
				break
			}
		}
	}
	return b.String(), nil
}
