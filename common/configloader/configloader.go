package configloader

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Options описывает один вызов Load.
type Options struct {
	Path      string                 // YAML-файл, пустая строка → только ENV и defaults
	EnvFile   string                 // .env-файл, подгружается в окружение до чтения ENV
	EnvPrefix string                 // префикс ENV переменных, например "RELAY"
	Out       interface{}            // указатель на структуру конфига
	Defaults  map[string]interface{} // дефолты сервиса поверх глобальных RegisterDefaults
}

// Load загружает конфиг в opts.Out: defaults → .env → ENV → YAML.
//
// ENV учитывается только для ключей, у которых есть default или которые
// присутствуют в файле, поэтому сервис должен объявить все ключи в Defaults.
func Load(opts Options) error {
	if opts.Out == nil {
		return fmt.Errorf("configloader: Out is required")
	}
	v := viper.New()

	// Шаг 1: defaults (глобальные, затем сервисные)
	for key, val := range getDefaults() {
		v.SetDefault(key, val)
	}
	for key, val := range opts.Defaults {
		v.SetDefault(key, val)
	}

	// Шаг 2: .env не перетирает уже выставленные переменные окружения
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil {
			return fmt.Errorf("configloader: load env file %q: %w", opts.EnvFile, err)
		}
	}

	// Шаг 3: environment override
	if opts.EnvPrefix != "" {
		v.SetEnvPrefix(opts.EnvPrefix)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Шаг 4: read file (if provided)
	if opts.Path != "" {
		v.SetConfigFile(opts.Path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("configloader: read config %q: %w", opts.Path, err)
		}
	}

	// Шаг 5: decode
	if err := decode(v.AllSettings(), opts.Out); err != nil {
		return fmt.Errorf("configloader: decode failed: %w", err)
	}

	// Шаг 6: validate if possible
	if vd, ok := opts.Out.(interface{ Validate() error }); ok {
		if err := vd.Validate(); err != nil {
			return fmt.Errorf("configloader: validation failed: %w", err)
		}
	}

	return nil
}
