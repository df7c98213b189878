/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// DataType defines the format of the configuration data.
type DataType string

// Supported configuration data formats.
const (
	DataTypeYAML DataType = "yaml"
	DataTypeJSON DataType = "json"
)

// LoadFromReader reads configuration data in the given format from the reader
// and unmarshals it into cfg. Struct fields are matched by mapstructure tags,
// and types implementing encoding.TextUnmarshaler (ByteSize, TimeDuration, etc.)
// are decoded from their string forms.
func LoadFromReader(reader io.Reader, dataType DataType, cfg interface{}) error {
	v := viper.New()
	v.SetConfigType(string(dataType))
	if err := v.ReadConfig(reader); err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	return unmarshalViper(v, cfg)
}

// LoadFromFile reads configuration data from the file at the given path.
// The format is inferred from the file extension unless dataType is set.
func LoadFromFile(path string, dataType DataType, cfg interface{}) error {
	if dataType == "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".json":
			dataType = DataTypeJSON
		default:
			dataType = DataTypeYAML
		}
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	return LoadFromReader(f, dataType, cfg)
}

func unmarshalViper(v *viper.Viper, cfg interface{}) error {
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}
