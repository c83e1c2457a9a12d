package corpus

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// EmbeddedID returns the id used by the embedded backend: a name-based UUID
// over the SHA-256 of the payload, tagged with the corpus suffix.
func EmbeddedID(c Corpus, payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return uuid.NewSHA1(uuid.Nil, []byte(hex.EncodeToString(sum[:]))).String() + c.Suffix()
}

// FromEmbeddedID infers the corpus from an embedded-backend id suffix.
func FromEmbeddedID(id string) (Corpus, error) {
	for _, c := range All() {
		if strings.HasSuffix(id, c.Suffix()) {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: id %q has no corpus suffix", ErrUnknownCorpus, id)
}

// Relational id ranges. Each corpus owns [offset, offset+buckets).
const (
	docOffset  int64 = 0
	ddlOffset  int64 = 100_000
	sqlOffset  int64 = 200_000
	docBuckets int64 = 100_000
	ddlBuckets int64 = 100_000
	sqlBuckets int64 = 1_000_000
)

// Range returns the half-open id interval [lo, hi) reserved for c on the
// relational backend.
func (c Corpus) Range() (lo, hi int64) {
	switch c {
	case Documentation:
		return docOffset, docOffset + docBuckets
	case DDL:
		return ddlOffset, ddlOffset + ddlBuckets
	case SQL:
		return sqlOffset, sqlOffset + sqlBuckets
	}
	return 0, 0
}

// RelationalID returns the integer id used by the relational backend:
// the MD5 of the payload reduced into the corpus's bucket range.
// Distinct payloads may collide; callers detect that on insert.
func RelationalID(c Corpus, payload string) int64 {
	lo, hi := c.Range()
	sum := md5.Sum([]byte(payload))
	n := new(big.Int).SetBytes(sum[:])
	n.Mod(n, big.NewInt(hi-lo))
	return lo + n.Int64()
}

// FromRelationalID infers the corpus from the range an id falls in.
func FromRelationalID(id int64) (Corpus, error) {
	for _, c := range []Corpus{Documentation, DDL, SQL} {
		lo, hi := c.Range()
		if id >= lo && id < hi {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: id %d is outside every reserved range", ErrUnknownCorpus, id)
}
