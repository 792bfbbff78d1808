package configutils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"

	"github.com/spf13/viper"
)

// ImportKey is the config value listing files to import before the current one.
var ImportKey = "imports"

// ResolveAndMergeFile reads filePath, resolves its imports depth first and
// merges everything into v. Imported files are merged before the files that
// import them, so the importing file always wins.
func ResolveAndMergeFile(v *viper.Viper, filePath string) error {
	if _, err := os.Stat(filePath); err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	if ext == "" {
		return errors.New("configuration file has no extension")
	}
	if !slices.Contains(viper.SupportedExts, ext[1:]) {
		return fmt.Errorf("unsupported configuration file extension: %s", ext)
	}

	v.SetConfigType(ext[1:])
	v.SetConfigFile(filePath)
	if err := v.ReadInConfig(); err != nil {
		return err
	}

	r := &importResolver{visited: map[string]struct{}{}}
	if err := r.resolve(v); err != nil {
		return fmt.Errorf("could not resolve configuration imports: %v", err)
	}

	for _, path := range append(r.order, v.ConfigFileUsed()) {
		if err := mergeConfigFile(v, path); err != nil {
			return fmt.Errorf("merging config %s: %w", path, err)
		}
	}
	return nil
}

// importResolver walks the import graph. visited is filled pre-order to stop
// cycles, order post-order so children come first.
type importResolver struct {
	visited map[string]struct{}
	order   []string
}

func (r *importResolver) resolve(v *viper.Viper) error {
	for _, i := range v.GetStringSlice(ImportKey) {
		if i == "" {
			continue
		}

		path := filepath.Clean(i)
		if !filepath.IsAbs(i) {
			path = filepath.Join(filepath.Dir(v.ConfigFileUsed()), i)
		}
		if _, err := os.Stat(path); err != nil {
			return err
		}
		if _, ok := r.visited[path]; ok {
			continue
		}
		r.visited[path] = struct{}{}

		child := viper.New()
		child.SetConfigFile(path)
		if err := child.ReadInConfig(); err != nil {
			return err
		}
		if err := r.resolve(child); err != nil {
			return err
		}
		r.order = append(r.order, path)
	}
	return nil
}

func mergeConfigFile(v *viper.Viper, filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return v.MergeConfig(f)
}

// BindEnvsRecursive binds an environment variable for every mapstructure-tagged
// field of iface (a pointer to struct), descending into nested structs. Nil
// struct pointers are allocated on the way down.
func BindEnvsRecursive(v *viper.Viper, iface interface{}, path string) error {
	val := reflect.ValueOf(iface).Elem()
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		tag := typ.Field(i).Tag.Get("mapstructure")
		name, opts, _ := strings.Cut(tag, ",")
		if name == "" {
			// squashed structs share the parent's key space
			if opts == "squash" && val.Field(i).Kind() == reflect.Struct {
				if err := BindEnvsRecursive(v, val.Field(i).Addr().Interface(), path); err != nil {
					return err
				}
			}
			continue
		}

		fullPath := name
		if path != "" {
			fullPath = path + "." + name
		}

		field := val.Field(i)
		if field.Kind() == reflect.Ptr {
			if field.Type().Elem().Kind() != reflect.Struct {
				if err := v.BindEnv(fullPath); err != nil {
					return fmt.Errorf("failed to bind environment variable: %w", err)
				}
				continue
			}
			if field.IsNil() {
				field.Set(reflect.New(field.Type().Elem()))
			}
			field = field.Elem()
		}

		if field.Kind() == reflect.Struct {
			if err := BindEnvsRecursive(v, field.Addr().Interface(), fullPath); err != nil {
				return err
			}
			continue
		}

		if err := v.BindEnv(fullPath); err != nil {
			return fmt.Errorf("failed to bind environment variable: %w", err)
		}
	}
	return nil
}
