package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/tonimelisma/gdrive-go/internal/gdrive"
)

// ErrNoClientBlock means the secrets file has neither an "installed" nor a
// "web" client.
var ErrNoClientBlock = errors.New("client secrets file has no \"installed\" or \"web\" client")

// clientSecretsFile is the JSON downloaded from the Google Cloud console.
type clientSecretsFile struct {
	Installed *clientBlock `json:"installed"`
	Web       *clientBlock `json:"web"`
}

type clientBlock struct {
	ClientID     string   `json:"client_id" validate:"required"`
	ClientSecret string   `json:"client_secret" validate:"required"`
	RedirectURIs []string `json:"redirect_uris" validate:"dive,url"`
	AuthURI      string   `json:"auth_uri" validate:"omitempty,url"`
	TokenURI     string   `json:"token_uri" validate:"omitempty,url"`
}

// LoadClientSecrets reads a client secrets file from disk.
func LoadClientSecrets(path string) (gdrive.ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return gdrive.ClientConfig{}, fmt.Errorf("reading client secrets %s: %w", path, err)
	}

	cc, err := ParseClientSecrets(data)
	if err != nil {
		return gdrive.ClientConfig{}, fmt.Errorf("client secrets %s: %w", path, err)
	}

	return cc, nil
}

// ParseClientSecrets decodes a client secrets document. The "installed"
// client wins over "web" when both are present. The first redirect URI is
// used; the loopback login flow replaces it at runtime.
func ParseClientSecrets(data []byte) (gdrive.ClientConfig, error) {
	var f clientSecretsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return gdrive.ClientConfig{}, fmt.Errorf("decoding client secrets: %w", err)
	}

	block := f.Installed
	if block == nil {
		block = f.Web
	}

	if block == nil {
		return gdrive.ClientConfig{}, ErrNoClientBlock
	}

	if err := validate.Struct(block); err != nil {
		return gdrive.ClientConfig{}, formatValidationError(err)
	}

	cc := gdrive.ClientConfig{
		ClientID:     block.ClientID,
		ClientSecret: block.ClientSecret,
		AuthURL:      block.AuthURI,
		TokenURL:     block.TokenURI,
	}

	if len(block.RedirectURIs) > 0 {
		cc.RedirectURL = block.RedirectURIs[0]
	}

	return cc, nil
}
