package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// dotEnvTemplate seeds ~/.shoesnap/.env. Secrets such as the encoder API key
// belong here rather than in shoesnap.yaml.
const dotEnvTemplate = `# shoesnap environment overrides. Process environment wins over this file.
# CLIP inference server, e.g. http://127.0.0.1:8000
` + EnvEncoderURL + `=
# Bearer token sent to the encoder, if it requires one
` + EnvEncoderAPIKey + `=
# Where gallery embeddings are cached (default ~/.shoesnap/cache)
` + EnvCacheDir + `=
`

// DotEnvPath returns ~/.shoesnap/.env.
func DotEnvPath() (string, error) {
	dir, err := ShoesnapDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ".env"), nil
}

// LoadDotEnv reads ~/.shoesnap/.env. A missing file is an empty map.
func LoadDotEnv() (map[string]string, error) {
	p, err := DotEnvPath()
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot open dotenv file %s: %w", p, err)
	}
	defer f.Close()

	vals, err := readDotEnv(f)
	if err != nil {
		return nil, fmt.Errorf("cannot read dotenv file %s: %w", p, err)
	}
	return vals, nil
}

func readDotEnv(r io.Reader) (map[string]string, error) {
	vals := make(map[string]string)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if k, v, ok := parseDotEnvLine(sc.Text()); ok {
			vals[k] = v
		}
	}
	return vals, sc.Err()
}

// parseDotEnvLine accepts KEY=VALUE with an optional "export " prefix and one
// pair of matching quotes around VALUE. Comments and blank lines are not ok.
func parseDotEnvLine(line string) (key, val string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || line[0] == '#' {
		return "", "", false
	}
	line = strings.TrimPrefix(line, "export ")
	key, val, ok = strings.Cut(line, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", "", false
	}
	if n := len(val); n >= 2 && (val[0] == '"' || val[0] == '\'') && val[n-1] == val[0] {
		val = val[1 : n-1]
	}
	return key, val, true
}

// GetConfigValue resolves key from the process environment, then ~/.shoesnap/.env.
func GetConfigValue(key string) (string, error) {
	if v := os.Getenv(key); v != "" {
		return v, nil
	}
	vals, err := LoadDotEnv()
	if err != nil {
		return "", err
	}
	return vals[key], nil
}

// EnsureDotEnvTemplate writes the commented template unless a .env already exists.
func EnsureDotEnvTemplate() error {
	p, err := DotEnvPath()
	if err != nil {
		return err
	}
	switch _, err := os.Stat(p); {
	case err == nil:
		return nil
	case !os.IsNotExist(err):
		return fmt.Errorf("cannot stat dotenv file %s: %w", p, err)
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("cannot create %s: %w", filepath.Dir(p), err)
	}
	if err := os.WriteFile(p, []byte(dotEnvTemplate), 0o600); err != nil {
		return fmt.Errorf("cannot write dotenv template %s: %w", p, err)
	}
	return nil
}
