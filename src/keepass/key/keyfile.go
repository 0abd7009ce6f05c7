package key

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/antchfx/xmlquery"

	"github.com/Zaphoood/kdbx/src/keepass/util"
)

const KeyFileName = "KeyFile"

var (
	ErrKeyFileHash    = errors.New("key file data does not match its hash")
	ErrKeyFileVersion = errors.New("unsupported key file version")
	ErrKeyFileEmpty   = errors.New("key file is empty")
)

// NewKeyFile reads the key file at path.
func NewKeyFile(path string) (Fragment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	defer util.Zero(data)
	return NewKeyFileBytes(data)
}

func NewKeyFileReader(r io.Reader) (Fragment, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	defer util.Zero(data)
	return NewKeyFileBytes(data)
}

// NewKeyFileBytes accepts KeePass XML key files (version 1.0 and 2.0),
// 32 raw bytes, 64 hex characters, or any other file, which is hashed.
func NewKeyFileBytes(data []byte) (Fragment, error) {
	if len(data) == 0 {
		return nil, ErrKeyFileEmpty
	}
	key, err := parseKeyFile(data)
	if err != nil {
		return nil, err
	}
	defer util.Zero(key)
	return newFragment(KeyFileName, key)
}

func parseKeyFile(data []byte) ([]byte, error) {
	if key, ok, err := parseXMLKeyFile(data); ok || err != nil {
		return key, err
	}
	if len(data) == 32 {
		return append([]byte{}, data...), nil
	}
	if len(data) == 64 {
		if key, err := hex.DecodeString(string(data)); err == nil {
			return key, nil
		}
	}
	sum := sha256.Sum256(data)
	return sum[:], nil
}

// parseXMLKeyFile reports ok=false when data is not a KeePass XML key file.
func parseXMLKeyFile(data []byte) ([]byte, bool, error) {
	trimmed := bytes.TrimSpace(data)
	if !bytes.HasPrefix(trimmed, []byte("<")) {
		return nil, false, nil
	}
	doc, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, false, nil
	}
	dataNode := xmlquery.FindOne(doc, "/KeyFile/Key/Data")
	if dataNode == nil {
		return nil, false, nil
	}
	version := "1.0"
	if v := xmlquery.FindOne(doc, "/KeyFile/Meta/Version"); v != nil {
		version = strings.TrimSpace(v.InnerText())
	}

	switch {
	case strings.HasPrefix(version, "1."):
		key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(dataNode.InnerText()))
		if err != nil {
			return nil, true, fmt.Errorf("key file: %w", err)
		}
		return key, true, nil
	case strings.HasPrefix(version, "2."):
		clean := strings.Join(strings.Fields(dataNode.InnerText()), "")
		key, err := hex.DecodeString(clean)
		if err != nil {
			return nil, true, fmt.Errorf("key file: %w", err)
		}
		if want := dataNode.SelectAttr("Hash"); want != "" {
			sum := sha256.Sum256(key)
			if !strings.EqualFold(hex.EncodeToString(sum[:4]), want) {
				util.Zero(key)
				return nil, true, ErrKeyFileHash
			}
		}
		return key, true, nil
	}
	return nil, true, fmt.Errorf("%w: %q", ErrKeyFileVersion, version)
}

// WriteKeyFile generates 32 random bytes, mixes in the optional entropy,
// and writes a version 2.0 XML key file.
func WriteKeyFile(w io.Writer, entropy []byte) error {
	random := make([]byte, 32)
	defer util.Zero(random)
	if _, err := rand.Read(random); err != nil {
		return err
	}
	h := sha256.New()
	h.Write(random)
	h.Write(entropy)
	key := h.Sum(nil)
	defer util.Zero(key)

	check := sha256.Sum256(key)
	encoded := strings.ToUpper(hex.EncodeToString(key))
	var groups []string
	for i := 0; i < len(encoded); i += 8 {
		groups = append(groups, encoded[i:i+8])
	}
	_, err := fmt.Fprintf(w, `<?xml version="1.0" encoding="utf-8"?>
<KeyFile>
	<Meta>
		<Version>2.0</Version>
	</Meta>
	<Key>
		<Data Hash="%s">
			%s
			%s
		</Data>
	</Key>
</KeyFile>
`, strings.ToUpper(hex.EncodeToString(check[:4])),
		strings.Join(groups[:4], " "), strings.Join(groups[4:], " "))
	return err
}
