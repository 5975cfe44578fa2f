package reshare

import (
	"crypto/cipher"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/taurusgroup/threshold-keys/pkg/math/curve"
	"github.com/taurusgroup/threshold-keys/pkg/party"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const encryptionInfo = "threshold-keys/reshare share encryption"

// cipherFor derives the AEAD used to send a share from one party to another.
//
// The shared point is eᵢ•Xⱼ for the sender and xⱼ•Eᵢ for the receiver.
// Since eᵢ is fresh for every round, each key encrypts a single share, and a zero nonce is used.
func cipherFor(shared curve.Point, ssid []byte, from, to party.ID) (cipher.AEAD, error) {
	ikm, err := shared.MarshalBinary()
	if err != nil {
		return nil, err
	}
	info := make([]byte, 0, len(encryptionInfo)+2*party.ByteSize)
	info = append(info, encryptionInfo...)
	info = append(info, from.Bytes()...)
	info = append(info, to.Bytes()...)

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, ssid, info), key); err != nil {
		return nil, err
	}
	return chacha20poly1305.New(key)
}

func seal(shared curve.Point, ssid []byte, from, to party.ID, share curve.Scalar) ([]byte, error) {
	aead, err := cipherFor(shared, ssid, from, to)
	if err != nil {
		return nil, err
	}
	plaintext, err := share.MarshalBinary()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	return aead.Seal(nil, nonce, plaintext, ssid), nil
}

func open(group curve.Curve, shared curve.Point, ssid []byte, from, to party.ID, ciphertext []byte) (curve.Scalar, error) {
	aead, err := cipherFor(shared, ssid, from, to)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	plaintext, err := aead.Open(nil, nonce, ciphertext, ssid)
	if err != nil {
		return nil, fmt.Errorf("decrypt share: %w", err)
	}
	s := group.NewScalar()
	if err = s.UnmarshalBinary(plaintext); err != nil {
		return nil, fmt.Errorf("decrypt share: %w", err)
	}
	for i := range plaintext {
		plaintext[i] = 0
	}
	return s, nil
}
