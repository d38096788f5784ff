// Package config loads struct-tagged configuration from YAML files, .env files
// and environment variables.
//
// Supported struct tags:
//
//	env:"NAME"        environment variable that overrides the field
//	yaml:"name"       key used when reading a YAML file
//	default:"value"   value applied when the field is still zero after loading
//	required:"true"   loading fails if the field is still zero after defaults
//
// Nested structs are walked recursively, so sections can be grouped freely.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var durationType = reflect.TypeOf(time.Duration(0))

// Validator interface allows config structs to implement custom validation logic.
// It is called after all sources and defaults have been applied.
type Validator interface {
	Validate() error
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing files
// are ignored. With no arguments ".env" is used.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var result error
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			result = multierror.Append(result, fmt.Errorf("failed to load %s: %w", f, err))
		}
	}
	return result
}

// GetConfig loads configuration from a YAML file first, then overlays
// environment variables and defaults. If filepath is empty only the environment
// is used. If allowFileErrors is true, an unreadable or invalid file is skipped.
// Defaults only fill fields that neither the file nor the environment set, so
// an explicit `enabled: false` in the file is kept.
//
//	var cfg MyConfig
//	err := GetConfig(&cfg, "relay.yaml", false)
func GetConfig[T any](dest *T, filepath string, allowFileErrors bool) error {
	set := make(map[string]bool)
	if filepath != "" {
		fromFile, err := readYAML(dest, filepath)
		if err != nil && !allowFileErrors {
			return err
		}
		for k := range fromFile {
			set[k] = true
		}
	}
	return finish(dest, set)
}

// readYAML decodes the file into dest and returns the field paths the file
// actually sets.
func readYAML[T any](dest *T, path string) (map[string]bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	if err := doc.Decode(dest); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	set := make(map[string]bool)
	markYAMLKeys(doc.Content[0], reflect.TypeOf(dest).Elem(), "", set)
	return set, nil
}

// markYAMLKeys records the dotted Go field path of every non-null leaf
// present in node.
func markYAMLKeys(node *yaml.Node, typ reflect.Type, prefix string, set map[string]bool) {
	if node.Kind != yaml.MappingNode || typ.Kind() != reflect.Struct {
		return
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		name, value := node.Content[i].Value, node.Content[i+1]
		for j := 0; j < typ.NumField(); j++ {
			sf := typ.Field(j)
			if !sf.IsExported() || yamlName(sf) != name {
				continue
			}
			key := prefix + sf.Name
			switch {
			case sf.Type.Kind() == reflect.Struct:
				markYAMLKeys(value, sf.Type, key+".", set)
			case value.Tag != "!!null":
				set[key] = true
			}
		}
	}
}

func yamlName(sf reflect.StructField) string {
	name, _, _ := strings.Cut(sf.Tag.Get("yaml"), ",")
	if name == "" {
		return strings.ToLower(sf.Name)
	}
	return name
}

// finish overlays the environment, fills defaults for fields not in set and
// validates.
func finish[T any](dest *T, set map[string]bool) error {
	val := reflect.ValueOf(dest).Elem()

	if err := walk(val, "", func(field reflect.Value, sf reflect.StructField, key string) error {
		name := sf.Tag.Get("env")
		if name == "" {
			return nil
		}
		raw, ok := os.LookupEnv(name)
		if !ok || raw == "" {
			return nil
		}
		set[key] = true
		if err := setFromString(field, raw); err != nil {
			return fmt.Errorf("env %s: %w", name, err)
		}
		return nil
	}); err != nil {
		return err
	}

	if err := walk(val, "", func(field reflect.Value, sf reflect.StructField, key string) error {
		def := sf.Tag.Get("default")
		if !field.IsZero() {
			return nil
		}
		if set[key] {
			if req := strings.ToLower(sf.Tag.Get("required")); req == "true" || req == "1" {
				return fmt.Errorf("required field env:%s / yaml:%s is empty", sf.Tag.Get("env"), sf.Tag.Get("yaml"))
			}
			return nil
		}
		if def != "" {
			if err := setFromString(field, def); err != nil {
				return fmt.Errorf("default for %s: %w", key, err)
			}
			return nil
		}
		if req := strings.ToLower(sf.Tag.Get("required")); req == "true" || req == "1" {
			return fmt.Errorf("required field env:%s / yaml:%s is missing", sf.Tag.Get("env"), sf.Tag.Get("yaml"))
		}
		return nil
	}); err != nil {
		var zero T
		*dest = zero
		return err
	}

	if v, ok := any(dest).(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
	}
	return nil
}

type visitFunc func(field reflect.Value, sf reflect.StructField, key string) error

// walk visits every exported leaf field, descending into nested structs.
// The key is the dotted Go field path, used to track which fields were set.
func walk(val reflect.Value, prefix string, fn visitFunc) error {
	var result error
	typ := val.Type()
	for i := 0; i < val.NumField(); i++ {
		sf := typ.Field(i)
		if !sf.IsExported() {
			continue
		}
		field := val.Field(i)
		key := prefix + sf.Name

		if field.Kind() == reflect.Struct {
			if err := walk(field, key+".", fn); err != nil {
				result = multierror.Append(result, err)
			}
			continue
		}
		if err := fn(field, sf, key); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}

func setFromString(field reflect.Value, raw string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("failed to convert %s to duration: %v", raw, err)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		v, err := strconv.ParseInt(raw, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("failed to convert %s to int: %v", raw, err)
		}
		field.SetInt(v)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		v, err := strconv.ParseUint(raw, 0, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("failed to convert %s to uint: %v", raw, err)
		}
		field.SetUint(v)
	case reflect.Float32, reflect.Float64:
		v, err := strconv.ParseFloat(raw, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("failed to convert %s to float: %v", raw, err)
		}
		field.SetFloat(v)
	case reflect.Bool:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("failed to convert %s to bool: %v", raw, err)
		}
		field.SetBool(v)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", field.Type())
		}
		parts := strings.Split(raw, ",")
		slice := reflect.MakeSlice(field.Type(), len(parts), len(parts))
		for i, p := range parts {
			slice.Index(i).SetString(strings.TrimSpace(p))
		}
		field.Set(slice)
	default:
		return fmt.Errorf("unsupported kind %s", field.Kind())
	}
	return nil
}
