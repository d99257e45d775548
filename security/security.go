// Package security opens PDFs protected by the Standard security handler.
// Reports are often encrypted with an empty user password so they can be
// viewed but not edited; those decrypt without user input.
package security

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/referto-app/referto/ir/raw"
)

// ErrPassword is returned when neither the user nor the owner password
// matches the one supplied.
var ErrPassword = fmt.Errorf("%w: password required", raw.ErrEncrypted)

type Permissions struct{ Print, Modify, Copy, ModifyAnnotations, FillForms, ExtractAccessible, Assemble, PrintHighQuality bool }

// DataClass identifies the kind of payload being decrypted.
type DataClass int

const (
	DataClassStream DataClass = iota
	DataClassString
)

type cryptAlgo int

const (
	algoUnset cryptAlgo = iota
	algoNone
	algoRC4
	algoAES
)

// Handler decrypts the objects of one document once authenticated.
type Handler struct {
	v, r         int
	lengthBytes  int
	o, u         []byte
	oe, ue       []byte
	p            int32
	fileID       []byte
	encryptMeta  bool
	streamAlgo   cryptAlgo
	stringAlgo   cryptAlgo
	cryptFilters map[string]cryptAlgo

	key []byte
}

// NewHandler reads the /Encrypt dictionary of doc.
func NewHandler(doc *raw.Document) (*Handler, error) {
	encObj, ok := doc.Trailer.Get("Encrypt")
	if !ok {
		return nil, errors.New("no encrypt dictionary")
	}
	enc, ok := doc.DictOf(encObj)
	if !ok {
		return nil, errors.New("encrypt dictionary missing")
	}
	if f, _ := enc.Name("Filter"); f != "Standard" {
		return nil, fmt.Errorf("unsupported security handler %q", f)
	}

	h := &Handler{v: 1, r: 2, encryptMeta: true}
	if n, ok := doc.IntOf(enc.Value("V")); ok && n > 0 {
		h.v = int(n)
	}
	if n, ok := doc.IntOf(enc.Value("R")); ok {
		h.r = int(n)
	}
	if h.v > 5 || h.r < 2 || h.r > 6 {
		return nil, fmt.Errorf("unsupported encryption V=%d R=%d", h.v, h.r)
	}
	bits := 40
	if h.v >= 2 {
		bits = 128
	}
	if n, ok := doc.IntOf(enc.Value("Length")); ok && n >= 40 {
		bits = int(n)
	}
	if h.v == 5 {
		bits = 256
	}
	if bits%8 != 0 || bits > 256 {
		return nil, fmt.Errorf("invalid key length %d", bits)
	}
	h.lengthBytes = bits / 8

	h.o = stringBytes(doc, enc, "O")
	h.u = stringBytes(doc, enc, "U")
	h.oe = stringBytes(doc, enc, "OE")
	h.ue = stringBytes(doc, enc, "UE")
	if n, ok := doc.IntOf(enc.Value("P")); ok {
		h.p = int32(n)
	}
	if b, ok := doc.Resolve(enc.Value("EncryptMetadata")).(raw.BoolObj); ok {
		h.encryptMeta = b.V
	}
	if ids, ok := doc.ArrayOf(doc.Trailer.Value("ID")); ok && ids.Len() > 0 {
		if s, ok := doc.Resolve(ids.Items[0]).(raw.StringObj); ok {
			h.fileID = s.Bytes
		}
	}
	if len(h.o) < 32 || len(h.u) < 32 {
		return nil, errors.New("encrypt dictionary lacks O or U")
	}

	base := algoRC4
	if h.v >= 4 {
		base = algoAES
	}
	filters, err := parseCryptFilters(doc, enc, base)
	if err != nil {
		return nil, err
	}
	h.cryptFilters = filters
	h.streamAlgo, h.stringAlgo = base, base
	if h.v >= 4 {
		if h.streamAlgo, err = resolveCryptFilter(enc, "StmF", filters); err != nil {
			return nil, err
		}
		if h.stringAlgo, err = resolveCryptFilter(enc, "StrF", filters); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Authenticate derives the file key from password, tried first as the user
// and then as the owner password.
func (h *Handler) Authenticate(password string) error {
	pwd := []byte(password)
	if h.r >= 5 {
		return h.authenticateAES256(pwd)
	}
	key := h.fileKey(pwd)
	if h.checkUserKey(key) {
		h.key = key
		return nil
	}
	if user := h.userFromOwner(pwd); user != nil {
		key = h.fileKey(user)
		if h.checkUserKey(key) {
			h.key = key
			return nil
		}
	}
	return ErrPassword
}

// Decrypt returns data decrypted for object num/gen.
func (h *Handler) Decrypt(num, gen int, data []byte, class DataClass) ([]byte, error) {
	algo := h.stringAlgo
	if class == DataClassStream {
		algo = h.streamAlgo
	}
	return h.decryptWith(algo, num, gen, data)
}

// DecryptWithFilter decrypts a stream that names its own crypt filter.
func (h *Handler) DecryptWithFilter(num, gen int, data []byte, filter string) ([]byte, error) {
	if filter == "" {
		return h.Decrypt(num, gen, data, DataClassStream)
	}
	algo, ok := h.cryptFilters[filter]
	if !ok {
		return nil, fmt.Errorf("crypt filter %s not defined", filter)
	}
	return h.decryptWith(algo, num, gen, data)
}

func (h *Handler) decryptWith(algo cryptAlgo, num, gen int, data []byte) ([]byte, error) {
	if h.key == nil {
		return nil, errors.New("handler not authenticated")
	}
	if algo == algoNone || len(data) == 0 {
		return data, nil
	}
	key := h.objectKey(num, gen, algo == algoAES)
	if algo == algoAES {
		return aesDecrypt(key, data)
	}
	return rc4Crypt(key, data)
}

// EncryptMetadata reports whether XMP metadata streams are encrypted.
func (h *Handler) EncryptMetadata() bool { return h.encryptMeta }

func (h *Handler) Permissions() Permissions {
	return Permissions{
		Print:             h.p&0x4 != 0,
		Modify:            h.p&0x8 != 0,
		Copy:              h.p&0x10 != 0,
		ModifyAnnotations: h.p&0x20 != 0,
		FillForms:         h.p&0x100 != 0,
		ExtractAccessible: h.p&0x200 != 0,
		Assemble:          h.p&0x400 != 0,
		PrintHighQuality:  h.p&0x800 != 0,
	}
}

var passwordPadding = []byte{
	0x28, 0xBF, 0x4E, 0x5E, 0x4E, 0x75, 0x8A, 0x41,
	0x64, 0x00, 0x4E, 0x56, 0xFF, 0xFA, 0x01, 0x08,
	0x2E, 0x2E, 0x00, 0xB6, 0xD0, 0x68, 0x3E, 0x80,
	0x2F, 0x0C, 0xA9, 0xFE, 0x64, 0x53, 0x69, 0x7A,
}

func padPassword(pwd []byte) []byte {
	padded := make([]byte, 32)
	n := copy(padded, pwd)
	copy(padded[n:], passwordPadding)
	return padded
}

// fileKey computes the RC4/AESV2 file key for a user password.
func (h *Handler) fileKey(pwd []byte) []byte {
	data := make([]byte, 0, 32+len(h.o)+8+len(h.fileID))
	data = append(data, padPassword(pwd)...)
	data = append(data, h.o[:32]...)
	var pBuf [4]byte
	binary.LittleEndian.PutUint32(pBuf[:], uint32(h.p))
	data = append(data, pBuf[:]...)
	data = append(data, h.fileID...)
	if h.r >= 4 && !h.encryptMeta {
		data = append(data, 0xFF, 0xFF, 0xFF, 0xFF)
	}
	sum := md5.Sum(data)
	n := h.lengthBytes
	if h.r == 2 {
		n = 5
	}
	if h.r >= 3 {
		for i := 0; i < 50; i++ {
			sum = md5.Sum(sum[:n])
		}
	}
	return append([]byte(nil), sum[:n]...)
}

func (h *Handler) checkUserKey(key []byte) bool {
	if h.r == 2 {
		return bytes.Equal(rc4Simple(key, passwordPadding), h.u[:32])
	}
	sum := md5.Sum(append(append([]byte{}, passwordPadding...), h.fileID...))
	val := rc4Simple(key, sum[:])
	for i := 1; i <= 19; i++ {
		val = rc4Simple(xorKey(key, byte(i)), val)
	}
	return bytes.Equal(val[:16], h.u[:16])
}

// userFromOwner recovers the padded user password from the O entry.
func (h *Handler) userFromOwner(owner []byte) []byte {
	sum := md5.Sum(padPassword(owner))
	n := 5
	if h.r >= 3 {
		n = h.lengthBytes
		for i := 0; i < 50; i++ {
			sum = md5.Sum(sum[:])
		}
	}
	key := sum[:n]
	if h.r == 2 {
		return rc4Simple(key, h.o[:32])
	}
	val := append([]byte(nil), h.o[:32]...)
	for i := 19; i >= 0; i-- {
		val = rc4Simple(xorKey(key, byte(i)), val)
	}
	return val
}

func (h *Handler) authenticateAES256(pwd []byte) error {
	if len(pwd) > 127 {
		pwd = pwd[:127]
	}
	if len(h.u) < 48 || len(h.ue) < 32 {
		return errors.New("encrypt dictionary lacks U or UE")
	}
	if bytes.Equal(h.hashR6(pwd, h.u[32:40], nil), h.u[:32]) {
		key, err := aesCBCNoPad(h.hashR6(pwd, h.u[40:48], nil), h.ue[:32])
		if err != nil {
			return err
		}
		h.key = key
		return nil
	}
	if len(h.o) >= 48 && len(h.oe) >= 32 && bytes.Equal(h.hashR6(pwd, h.o[32:40], h.u[:48]), h.o[:32]) {
		key, err := aesCBCNoPad(h.hashR6(pwd, h.o[40:48], h.u[:48]), h.oe[:32])
		if err != nil {
			return err
		}
		h.key = key
		return nil
	}
	return ErrPassword
}

func (h *Handler) objectKey(num, gen int, aes bool) []byte {
	if h.r >= 5 {
		return h.key
	}
	key := append([]byte{}, h.key...)
	key = append(key, byte(num), byte(num>>8), byte(num>>16), byte(gen), byte(gen>>8))
	if aes {
		key = append(key, 0x73, 0x41, 0x6C, 0x54) // "sAlT"
	}
	sum := md5.Sum(key)
	n := len(h.key) + 5
	if n > 16 {
		n = 16
	}
	return sum[:n]
}

func xorKey(key []byte, b byte) []byte {
	out := make([]byte, len(key))
	for i, k := range key {
		out[i] = k ^ b
	}
	return out
}

func stringBytes(doc *raw.Document, d *raw.DictObj, key string) []byte {
	if s, ok := doc.Resolve(d.Value(key)).(raw.StringObj); ok {
		return s.Bytes
	}
	return nil
}

func parseCryptFilters(doc *raw.Document, enc *raw.DictObj, base cryptAlgo) (map[string]cryptAlgo, error) {
	out := map[string]cryptAlgo{"Identity": algoNone}
	cf, ok := doc.DictOf(enc.Value("CF"))
	if !ok {
		return out, nil
	}
	for _, name := range cf.Keys() {
		entry, ok := doc.DictOf(cf.Value(name))
		if !ok {
			return nil, fmt.Errorf("crypt filter %s is not a dictionary", name)
		}
		algo := base
		if cfm, ok := entry.Name("CFM"); ok {
			switch cfm {
			case "V2":
				algo = algoRC4
			case "AESV2", "AESV3":
				algo = algoAES
			case "None":
				algo = algoNone
			default:
				return nil, fmt.Errorf("unsupported crypt filter method %s", cfm)
			}
		}
		out[name] = algo
	}
	return out, nil
}

func resolveCryptFilter(enc *raw.DictObj, key string, filters map[string]cryptAlgo) (cryptAlgo, error) {
	name, ok := enc.Name(key)
	if !ok {
		name = "Identity"
	}
	if algo, ok := filters[name]; ok {
		return algo, nil
	}
	return algoUnset, fmt.Errorf("crypt filter %s not defined", name)
}
