package security

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rc4"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
)

// hashR6 is the password hash of revision 6, reduced to plain SHA-256 for
// revision 5.
func (h *Handler) hashR6(pwd, salt, udata []byte) []byte {
	sum := sha256.Sum256(concat(pwd, salt, udata))
	k := sum[:]
	if h.r == 5 {
		return k
	}
	for i := 0; ; i++ {
		k1 := bytes.Repeat(concat(pwd, k, udata), 64)
		e, err := aesCBCEncryptNoPad(k[:16], k[16:32], k1)
		if err != nil {
			return k[:32]
		}
		mod := 0
		for _, b := range e[:16] {
			mod += int(b)
		}
		switch mod % 3 {
		case 0:
			s := sha256.Sum256(e)
			k = s[:]
		case 1:
			s := sha512.Sum384(e)
			k = s[:]
		default:
			s := sha512.Sum512(e)
			k = s[:]
		}
		if i >= 63 && int(e[len(e)-1]) <= i+1-32 {
			break
		}
	}
	return k[:32]
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func rc4Simple(key, data []byte) []byte {
	out, _ := rc4Crypt(key, data)
	return out
}

func rc4Crypt(key, data []byte) ([]byte, error) {
	c, err := rc4.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	c.XORKeyStream(out, data)
	return out, nil
}

// aesDecrypt decrypts CBC data prefixed by its IV and strips the padding.
// Invalid padding is left in place.
func aesDecrypt(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(data) < 2*aes.BlockSize {
		if len(data) == aes.BlockSize {
			return nil, nil
		}
		return nil, errors.New("aes ciphertext too short")
	}
	iv, ct := data[:aes.BlockSize], data[aes.BlockSize:]
	if len(ct)%aes.BlockSize != 0 {
		ct = ct[:len(ct)-len(ct)%aes.BlockSize]
	}
	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ct)
	pad := int(out[len(out)-1])
	if pad == 0 || pad > aes.BlockSize {
		return out, nil
	}
	for _, b := range out[len(out)-pad:] {
		if int(b) != pad {
			return out, nil
		}
	}
	return out[:len(out)-pad], nil
}

// aesCBCNoPad decrypts whole blocks with a zero IV.
func aesCBCNoPad(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(data)%aes.BlockSize != 0 {
		return nil, errors.New("aes data not multiple of blocksize")
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, make([]byte, aes.BlockSize)).CryptBlocks(out, data)
	return out, nil
}

func aesCBCEncryptNoPad(key, iv, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, data)
	return out, nil
}
