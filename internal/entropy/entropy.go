// Package entropy supplies the process secret that seeds free-list guard
// cookies and the randomized start offset of each size class.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// Secret is a small array of random words read once per allocator.
type Secret [2]uint64

// Read fills a Secret from the operating system's entropy source.
func Read() (Secret, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return Secret{}, fmt.Errorf("entropy: %w", err)
	}
	return Secret{
		binary.LittleEndian.Uint64(buf[0:8]),
		binary.LittleEndian.Uint64(buf[8:16]),
	}, nil
}

// MustRead is Read for initialization paths that cannot continue without a secret.
func MustRead() Secret {
	s, err := Read()
	if err != nil {
		panic(err)
	}
	return s
}

// Cookie is the part of the secret mixed into free-block guard words.
func (s Secret) Cookie() uint64 {
	return s[0] & 0x0000ffffffff0000
}

// Skew returns the raw word used to stagger the first block of each class.
func (s Secret) Skew() uint64 { return s[1] }
