package wecom

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidSignature is returned when a callback's msg_signature does not
// match the digest computed from the shared token.
var ErrInvalidSignature = errors.New("wecom: invalid signature")

// DecryptError wraps any failure while decoding or decrypting a callback
// payload. Decrypt failures are terminal for the payload and never retried.
type DecryptError struct {
	Reason string
	Err    error
}

func (e *DecryptError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("wecom: decrypt: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("wecom: decrypt: %s", e.Reason)
}

func (e *DecryptError) Unwrap() error { return e.Err }

// ComputeSignature implements the WeCom callback signature: the four values
// are sorted lexicographically, concatenated and SHA-1 hashed. The result is
// independent of argument order.
func ComputeSignature(token, timestamp, nonce, payload string) string {
	parts := []string{token, timestamp, nonce, payload}
	sort.Strings(parts)
	sum := sha1.Sum([]byte(strings.Join(parts, "")))
	return hex.EncodeToString(sum[:])
}

// VerifySignature checks a supplied msg_signature in constant time.
func VerifySignature(token, timestamp, nonce, payload, signature string) bool {
	if signature == "" {
		return false
	}
	expected := ComputeSignature(token, timestamp, nonce, payload)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// DecodeAESKey restores the 43-char base64-no-padding EncodingAESKey to a
// 32-byte AES key.
func DecodeAESKey(aesKey string) ([]byte, error) {
	b64 := aesKey
	if !strings.HasSuffix(b64, "=") {
		b64 += "="
	}
	key, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, &DecryptError{Reason: "bad aes key encoding", Err: err}
	}
	if len(key) != 32 {
		return nil, &DecryptError{Reason: fmt.Sprintf("aes key is %d bytes, want 32", len(key))}
	}
	return key, nil
}

// pkcs7Unpad strips trailing PKCS#7 padding. A pad byte outside 1..32 is
// treated as no padding rather than an error, matching the callback protocol's
// tolerant handling.
func pkcs7Unpad(buf []byte) []byte {
	if len(buf) == 0 {
		return buf
	}
	pad := int(buf[len(buf)-1])
	if pad < 1 || pad > 32 || pad > len(buf) {
		return buf
	}
	return buf[:len(buf)-pad]
}

// Decrypt decodes a callback ciphertext with AES-256-CBC (IV = key[:16]) and
// unpacks the WeCom envelope layout:
//
//	[16B random nonce][4B big-endian msg length][msg][corpID]
//
// It returns the plaintext message and the sender's corp ID.
func Decrypt(aesKey, cipherTextBase64 string) (msg string, corpID string, err error) {
	key, err := DecodeAESKey(aesKey)
	if err != nil {
		return "", "", err
	}

	cipherText, err := base64.StdEncoding.DecodeString(cipherTextBase64)
	if err != nil {
		return "", "", &DecryptError{Reason: "bad ciphertext encoding", Err: err}
	}
	if len(cipherText) == 0 || len(cipherText)%aes.BlockSize != 0 {
		return "", "", &DecryptError{Reason: fmt.Sprintf("ciphertext length %d is not a multiple of the block size", len(cipherText))}
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", "", &DecryptError{Reason: "cipher init", Err: err}
	}

	plain := make([]byte, len(cipherText))
	cipher.NewCBCDecrypter(block, key[:aes.BlockSize]).CryptBlocks(plain, cipherText)
	plain = pkcs7Unpad(plain)

	if len(plain) < 20 {
		return "", "", &DecryptError{Reason: fmt.Sprintf("plaintext too short (%d bytes)", len(plain))}
	}
	msgLen := int(binary.BigEndian.Uint32(plain[16:20]))
	if msgLen < 0 || 20+msgLen > len(plain) {
		return "", "", &DecryptError{Reason: fmt.Sprintf("message length field %d exceeds payload", msgLen)}
	}

	msg = string(plain[20 : 20+msgLen])
	corpID = string(plain[20+msgLen:])
	return msg, corpID, nil
}
