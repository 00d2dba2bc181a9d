package storage

import (
	"os"

	"github.com/BurntSushi/toml"
)

func writeTOML(path string, v any) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := toml.NewEncoder(f)
	if err := enc.Encode(v); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readTOML(path string, v any) error {
	_, err := toml.DecodeFile(path, v)
	return err
}
