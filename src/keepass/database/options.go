package database

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/Zaphoood/kdbx/src/keepass/crypto"
	"github.com/Zaphoood/kdbx/src/keepass/model"
)

var ErrInvalidOptions = errors.New("invalid options")

// MemoryProtectionOptions selects the standard fields that are protected
// by default in new databases.
type MemoryProtectionOptions struct {
	Title    bool `toml:"title"`
	UserName bool `toml:"user_name"`
	Password bool `toml:"password"`
	URL      bool `toml:"url"`
	Notes    bool `toml:"notes"`
}

// Options configure a new database. They can be loaded from TOML:
//
//	version = "4"
//	cipher = "ChaCha20"
//	compression = true
//	transform_rounds = 100000
//	inner_stream = "ChaCha20"
//
//	[memory_protection]
//	password = true
type Options struct {
	Version          string                  `toml:"version"`
	Cipher           string                  `toml:"cipher"`
	Compression      bool                    `toml:"compression"`
	TransformRounds  uint64                  `toml:"transform_rounds"`
	InnerStream      string                  `toml:"inner_stream"`
	Generator        string                  `toml:"generator"`
	DatabaseName     string                  `toml:"database_name"`
	HistoryMaxItems  int                     `toml:"history_max_items"`
	HistoryMaxSize   int64                   `toml:"history_max_size"`
	MemoryProtection MemoryProtectionOptions `toml:"memory_protection"`
}

func DefaultOptions() Options {
	return Options{
		Version:         Version4.String(),
		Cipher:          "AES",
		Compression:     true,
		TransformRounds: crypto.DefaultTransformRounds,
		InnerStream:     crypto.RandomStreamChaCha20.String(),
		Generator:       model.DefaultGenerator,
		DatabaseName:    "Database",
		HistoryMaxItems: model.DefaultHistoryMaxItems,
		HistoryMaxSize:  model.DefaultHistoryMaxSize,
		MemoryProtection: MemoryProtectionOptions{
			Password: true,
		},
	}
}

// ParseOptions decodes TOML on top of DefaultOptions. Unknown keys are an
// error.
func ParseOptions(data []byte) (Options, error) {
	opts := DefaultOptions()
	md, err := toml.Decode(string(data), &opts)
	if err != nil {
		return Options{}, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	return opts, checkDecoded(md, opts)
}

// LoadOptions reads options from a TOML file.
func LoadOptions(path string) (Options, error) {
	opts := DefaultOptions()
	md, err := toml.DecodeFile(path, &opts)
	if err != nil {
		return Options{}, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	return opts, checkDecoded(md, opts)
}

func checkDecoded(md toml.MetaData, opts Options) error {
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("%w: unknown keys %s", ErrInvalidOptions, strings.Join(keys, ", "))
	}
	return opts.Validate()
}

func (o Options) version() (Version, error) {
	switch o.Version {
	case "3", Version3.String():
		return Version3, nil
	case "4", Version4.String():
		return Version4, nil
	}
	return Version{}, fmt.Errorf("%w: unsupported version %q", ErrInvalidOptions, o.Version)
}

func (o Options) innerStream() (crypto.RandomStreamID, error) {
	for _, id := range []crypto.RandomStreamID{crypto.RandomStreamNone, crypto.RandomStreamSalsa20, crypto.RandomStreamChaCha20} {
		if strings.EqualFold(o.InnerStream, id.String()) {
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown inner stream %q", ErrInvalidOptions, o.InnerStream)
}

// Validate checks every name and limit.
func (o Options) Validate() error {
	if _, err := o.version(); err != nil {
		return err
	}
	if _, err := crypto.FindProviderByName(o.Cipher); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	if _, err := o.innerStream(); err != nil {
		return err
	}
	if o.TransformRounds == 0 {
		return fmt.Errorf("%w: transform_rounds must be positive", ErrInvalidOptions)
	}
	if o.HistoryMaxItems < -1 || o.HistoryMaxSize < -1 {
		return fmt.Errorf("%w: history limits must be -1 or above", ErrInvalidOptions)
	}
	return nil
}

func (o Options) memoryProtection() model.MemoryProtection {
	return model.MemoryProtection{
		ProtectTitle:    o.MemoryProtection.Title,
		ProtectUserName: o.MemoryProtection.UserName,
		ProtectPassword: o.MemoryProtection.Password,
		ProtectURL:      o.MemoryProtection.URL,
		ProtectNotes:    o.MemoryProtection.Notes,
	}
}

// header creates a fresh header for o.
func (o Options) header() (*HeaderInfo, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	v, _ := o.version()
	provider, _ := crypto.FindProviderByName(o.Cipher)
	stream, _ := o.innerStream()
	return NewHeaderInfo(v, provider, o.Compression, o.TransformRounds, stream)
}
