package entities

import (
	"crypto/sha256"
	"fmt"
	"math/big"
	"strings"
)

// Bitcoin Cash accepts the same key material in two encodings: the legacy
// base58check format shared with Bitcoin and the CashAddr bech32-style
// format. Account equality must not depend on which one the caller used, so
// every comparison goes through ForceToLegacyAddress.

const (
	cashAddrPrefix  = "bitcoincash"
	cashAddrCharset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"
	base58Alphabet  = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

	legacyP2PKHVersion = 0x00
	legacyP2SHVersion  = 0x05
)

// ForceToLegacyAddress converts a Bitcoin Cash address in any supported
// format to the legacy base58check encoding. Legacy input is returned
// unchanged after validation.
func ForceToLegacyAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", NewInputError("empty bitcoin cash address given")
	}

	if _, _, err := base58CheckDecode(address); err == nil {
		return address, nil
	}

	version, hash, err := decodeCashAddr(address)
	if err != nil {
		return "", NewInputError(fmt.Sprintf("invalid bitcoin cash address %s: %v", address, err))
	}
	return base58CheckEncode(version, hash), nil
}

// decodeCashAddr decodes a CashAddr string into the matching legacy version
// byte and hash payload.
func decodeCashAddr(address string) (byte, []byte, error) {
	prefix := cashAddrPrefix
	payload := strings.ToLower(address)
	if idx := strings.IndexByte(payload, ':'); idx >= 0 {
		prefix = payload[:idx]
		payload = payload[idx+1:]
	}

	values := make([]byte, len(payload))
	for i := 0; i < len(payload); i++ {
		v := strings.IndexByte(cashAddrCharset, payload[i])
		if v < 0 {
			return 0, nil, fmt.Errorf("character %q outside cashaddr charset", payload[i])
		}
		values[i] = byte(v)
	}
	if len(values) < 9 {
		return 0, nil, fmt.Errorf("payload too short")
	}

	if cashAddrPolymod(append(expandPrefix(prefix), values...)) != 0 {
		return 0, nil, fmt.Errorf("checksum verification failed")
	}

	data, err := convertBits(values[:len(values)-8], 5, 8, false)
	if err != nil {
		return 0, nil, err
	}
	if len(data) == 0 {
		return 0, nil, fmt.Errorf("empty payload")
	}

	versionByte := data[0]
	hash := data[1:]
	if len(hash) != 20 {
		return 0, nil, fmt.Errorf("unsupported hash length %d", len(hash))
	}
	switch (versionByte >> 3) & 0x1f {
	case 0:
		return legacyP2PKHVersion, hash, nil
	case 1:
		return legacyP2SHVersion, hash, nil
	default:
		return 0, nil, fmt.Errorf("unsupported address type %d", (versionByte>>3)&0x1f)
	}
}

func expandPrefix(prefix string) []byte {
	out := make([]byte, len(prefix)+1)
	for i := 0; i < len(prefix); i++ {
		out[i] = prefix[i] & 0x1f
	}
	return out
}

func cashAddrPolymod(values []byte) uint64 {
	c := uint64(1)
	for _, d := range values {
		c0 := byte(c >> 35)
		c = ((c & 0x07ffffffff) << 5) ^ uint64(d)
		if c0&0x01 != 0 {
			c ^= 0x98f2bc8e61
		}
		if c0&0x02 != 0 {
			c ^= 0x79b76d99e2
		}
		if c0&0x04 != 0 {
			c ^= 0xf33e5fb3c4
		}
		if c0&0x08 != 0 {
			c ^= 0xae2eabe2a8
		}
		if c0&0x10 != 0 {
			c ^= 0x1e4f43e470
		}
	}
	return c ^ 1
}

// convertBits regroups a bit stream between arbitrary group sizes.
func convertBits(data []byte, fromBits, toBits uint, pad bool) ([]byte, error) {
	var acc, bits uint
	maxv := uint(1<<toBits) - 1
	var out []byte
	for _, value := range data {
		if uint(value)>>fromBits != 0 {
			return nil, fmt.Errorf("value %d exceeds %d bits", value, fromBits)
		}
		acc = acc<<fromBits | uint(value)
		bits += fromBits
		for bits >= toBits {
			bits -= toBits
			out = append(out, byte(acc>>bits&maxv))
		}
	}
	if pad {
		if bits > 0 {
			out = append(out, byte(acc<<(toBits-bits)&maxv))
		}
	} else if bits >= fromBits || acc<<(toBits-bits)&maxv != 0 {
		return nil, fmt.Errorf("invalid padding in bit groups")
	}
	return out, nil
}

func base58CheckEncode(version byte, payload []byte) string {
	data := make([]byte, 0, len(payload)+5)
	data = append(data, version)
	data = append(data, payload...)
	first := sha256.Sum256(data)
	second := sha256.Sum256(first[:])
	data = append(data, second[:4]...)

	x := new(big.Int).SetBytes(data)
	radix := big.NewInt(58)
	mod := new(big.Int)
	var encoded []byte
	for x.Sign() > 0 {
		x.DivMod(x, radix, mod)
		encoded = append(encoded, base58Alphabet[mod.Int64()])
	}
	for _, b := range data {
		if b != 0 {
			break
		}
		encoded = append(encoded, base58Alphabet[0])
	}
	for i, j := 0, len(encoded)-1; i < j; i, j = i+1, j-1 {
		encoded[i], encoded[j] = encoded[j], encoded[i]
	}
	return string(encoded)
}

func base58CheckDecode(address string) (byte, []byte, error) {
	x := big.NewInt(0)
	radix := big.NewInt(58)
	for i := 0; i < len(address); i++ {
		v := strings.IndexByte(base58Alphabet, address[i])
		if v < 0 {
			return 0, nil, fmt.Errorf("character %q outside base58 alphabet", address[i])
		}
		x.Mul(x, radix)
		x.Add(x, big.NewInt(int64(v)))
	}

	data := x.Bytes()
	for i := 0; i < len(address) && address[i] == base58Alphabet[0]; i++ {
		data = append([]byte{0}, data...)
	}
	if len(data) < 5 {
		return 0, nil, fmt.Errorf("decoded payload too short")
	}

	checksum := data[len(data)-4:]
	data = data[:len(data)-4]
	first := sha256.Sum256(data)
	second := sha256.Sum256(first[:])
	for i := 0; i < 4; i++ {
		if checksum[i] != second[i] {
			return 0, nil, fmt.Errorf("checksum mismatch")
		}
	}
	return data[0], data[1:], nil
}
