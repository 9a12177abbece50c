package backend

import (
	"crypto/sha1"

	"github.com/mevdschee/shardexec/fanerr"
)

// computeAuthResponse implements mysql_native_password (spec.md §4.3.1):
// SHA1(password) XOR SHA1(salt || SHA1(SHA1(password))). An empty password
// yields an empty auth response. Grounded on the teacher's
// mariadb.CalcPassword, generalized to return an error instead of relying
// on the sha1 package never failing (fanerr.CryptoError per spec.md §7).
func computeAuthResponse(password, salt []byte) ([]byte, error) {
	if len(password) == 0 {
		return nil, nil
	}

	stage1, err := sha1Sum(password)
	if err != nil {
		return nil, &fanerr.CryptoError{Err: err}
	}

	stage2, err := sha1Sum(stage1)
	if err != nil {
		return nil, &fanerr.CryptoError{Err: err}
	}

	combined := make([]byte, 0, len(salt)+len(stage2))
	combined = append(combined, salt...)
	combined = append(combined, stage2...)
	scramble, err := sha1Sum(combined)
	if err != nil {
		return nil, &fanerr.CryptoError{Err: err}
	}

	response := make([]byte, len(stage1))
	for i := range stage1 {
		response[i] = stage1[i] ^ scramble[i]
	}
	return response, nil
}

func sha1Sum(b []byte) ([]byte, error) {
	h := sha1.New()
	if _, err := h.Write(b); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}
